package postman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/postman/store"
	"golang.org/x/sync/semaphore"
)

// Type aliases for commonly used store types.
type (
	Message     = store.Message
	MessageList = store.MessageList
	ListOptions = store.ListOptions
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the messaging system (server-side).
// It owns the storage connections and creates per-user mailboxes.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for in-flight composes and closes all connections.
	Close(ctx context.Context) error
	// Client returns the mailbox of a registered user.
	Client(userID string) Mailbox
	// ComposeAsVisitor sends a message on behalf of a visitor identified
	// by an email address. Visitors may write to at most two users.
	ComposeAsVisitor(ctx context.Context, email string, req ComposeRequest) (*ComposeResult, error)
	// Moderate applies a manual moderation decision to a record.
	Moderate(ctx context.Context, messageID string, d Decision) (*Message, error)
	// Directory returns the user directory.
	Directory() store.UserDirectory
	// Events returns per-service event instances.
	Events() *ServiceEvents
}

// FolderReader lists the folders of a user.
type FolderReader interface {
	Inbox(ctx context.Context, opts ListOptions) (*MessageList, error)
	Sent(ctx context.Context, opts ListOptions) (*MessageList, error)
	Archives(ctx context.Context, opts ListOptions) (*MessageList, error)
	Trash(ctx context.Context, opts ListOptions) (*MessageList, error)
	// Thread lists the visible records of a thread, oldest first, and
	// marks them read.
	Thread(ctx context.Context, threadID string, opts ListOptions) (*MessageList, error)
	// UnreadCount returns the number of unread inbox records.
	UnreadCount(ctx context.Context) (int64, error)
	// Stream iterates over a whole folder.
	Stream(ctx context.Context, folder store.Folder, opts StreamOptions) (MessageIterator, error)
}

// MessageReader provides single record retrieval.
type MessageReader interface {
	// Get returns a record the user sent or received.
	Get(ctx context.Context, messageID string) (*Message, error)
}

// MessageMarker updates the user's side of a record and its thread.
type MessageMarker interface {
	MarkRead(ctx context.Context, messageID string) (*Message, error)
	MarkArchived(ctx context.Context, messageID string) (*Message, error)
	Unarchive(ctx context.Context, messageID string) (*Message, error)
	Delete(ctx context.Context, messageID string) error
	Undelete(ctx context.Context, messageID string) error
}

// MessageWriter composes new records.
type MessageWriter interface {
	Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error)
	Reply(ctx context.Context, parentID string, req ReplyRequest) (*ComposeResult, error)
	ReplyAll(ctx context.Context, parentID string, req ComposeRequest) (*ComposeResult, error)
	Forward(ctx context.Context, messageID string, req ComposeRequest) (*ComposeResult, error)
	// QuoteReply returns the default subject and quoted body of a reply.
	QuoteReply(ctx context.Context, parentID string) (*Quote, error)
}

// Mailbox provides private messaging for one registered user.
type Mailbox interface {
	UserID() string
	FolderReader
	MessageReader
	MessageMarker
	MessageWriter
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store      store.Store
	directory  store.UserDirectory
	logger     *slog.Logger
	opts       *options
	state      int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins    *pluginRegistry
	otel       *otelInstrumentation
	composeSem *semaphore.Weighted // Limits concurrent composes
	eventBus   *event.Bus
	events     *ServiceEvents
}

// NewService creates a new postman service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}
	if o.directory == nil {
		return nil, ErrDirectoryRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:      o.store,
		directory:  o.directory,
		logger:     o.logger,
		opts:       o,
		plugins:    plugins,
		otel:       otelInstr,
		composeSem: semaphore.NewWeighted(int64(o.maxConcurrentComposes)),
	}, nil
}

// Events returns per-service event instances.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// Directory returns the user directory.
func (s *service) Directory() store.UserDirectory {
	return s.directory
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil && !errors.Is(err, store.ErrAlreadyConnected) {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		_ = s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		_ = s.eventBus.Close(ctx)
		_ = s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("postman service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates the service's own event bus and registers its events.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "postman"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		_ = bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	return nil
}

// Close waits for in-flight composes, then closes plugins, the event bus
// and the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new compose can start once the state is disconnected; holding
	// every semaphore slot means the running ones have finished.
	s.logger.Info("waiting for in-flight composes to complete", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer cancel()
	if err := s.composeSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentComposes)); err != nil {
		s.logger.Warn("timeout waiting for in-flight composes, proceeding with shutdown", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.composeSem.Release(int64(s.opts.maxConcurrentComposes))
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns the mailbox of a registered user.
func (s *service) Client(userID string) Mailbox {
	return &userMailbox{userID: userID, service: s}
}

// userMailbox is the Mailbox of one user.
type userMailbox struct {
	userID  string
	service *service
}

// UserID returns the user ID of this mailbox.
func (m *userMailbox) UserID() string {
	return m.userID
}

func (m *userMailbox) checkAccess() error {
	if !m.service.IsConnected() {
		return ErrNotConnected
	}
	if m.userID == "" {
		return ErrUnknownUser
	}
	return nil
}

// visible loads a record the user sent or received.
func (m *userMailbox) visible(ctx context.Context, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, ErrNotFound
	}
	msg, err := m.service.store.Get(ctx, messageID)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	if msg.SenderID != m.userID && msg.RecipientID != m.userID {
		return nil, ErrNotFound
	}
	return msg, nil
}

// self resolves the acting user.
func (m *userMailbox) self(ctx context.Context) (Party, error) {
	u, err := m.service.directory.UserByID(ctx, m.userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Party{}, ErrUnknownUser
		}
		return Party{}, err
	}
	if !u.Active {
		return Party{}, ErrUnknownUser
	}
	return UserParty(u), nil
}
