package postman

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rbaliyan/postman/store"
)

// Plugin defines the interface for service extensions.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when the service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when the service closes.
	Close(ctx context.Context) error
}

// Notification describes a stored record whose moderation state was just
// decided, either on compose or by a moderator.
type Notification struct {
	Message       *store.Message
	InitialStatus store.ModerationStatus
	Sender        Party
	Recipient     Party
	// Moderated is set for a manual moderation decision on an existing record.
	Moderated bool
}

// Notifier is told about every record once it is committed.
// Notifications are best effort: errors are logged and never undo the
// operation.
type Notifier interface {
	Plugin
	Notify(ctx context.Context, n Notification) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all       []Plugin
	notifiers []Notifier
	logger    *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if n, ok := p.(Notifier); ok {
		r.notifiers = append(r.notifiers, n)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// notify delivers n to every notifier and logs failures.
func (r *pluginRegistry) notify(ctx context.Context, n Notification) {
	for _, h := range r.notifiers {
		if err := h.Notify(ctx, n); err != nil {
			r.logger.Warn("notification failed",
				"error", &PluginError{Plugin: h.Name(), Op: "Notify", Err: err},
				"message_id", n.Message.ID,
			)
		}
	}
}
