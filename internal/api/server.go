// Package api exposes a postman.Service over HTTP.
package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	flogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbaliyan/postman"
	"github.com/rbaliyan/postman/internal/auth"
)

// DefaultPrefix is the mount point of the message routes.
const DefaultPrefix = "/api/v1/messages"

type options struct {
	prefix         string
	visitorCompose bool
	ratePerMin     int
	accessLog      bool
	logger         *slog.Logger
	registry       *prometheus.Registry
	readTimeout    time.Duration
	writeTimeout   time.Duration
}

// Option configures the HTTP application.
type Option func(*options)

// WithPrefix sets the mount point of the message routes.
func WithPrefix(p string) Option {
	return func(o *options) {
		if p != "" {
			o.prefix = p
		}
	}
}

// WithVisitorCompose enables the anonymous compose route.
func WithVisitorCompose(enabled bool) Option {
	return func(o *options) {
		o.visitorCompose = enabled
	}
}

// WithRateLimit sets the number of writes a user may make per minute.
// Zero disables the limit.
func WithRateLimit(perMin int) Option {
	return func(o *options) {
		if perMin >= 0 {
			o.ratePerMin = perMin
		}
	}
}

// WithAccessLog enables the request log.
func WithAccessLog(enabled bool) Option {
	return func(o *options) {
		o.accessLog = enabled
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistry sets the Prometheus registry served on /metrics.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithTimeouts sets the server read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(o *options) {
		o.readTimeout = read
		o.writeTimeout = write
	}
}

// server holds the handler dependencies.
type server struct {
	svc     postman.Service
	logger  *slog.Logger
	limiter *userLimiter
}

// New returns the fiber application serving svc. Requests under the
// prefix must carry a bearer token accepted by verifier.
func New(svc postman.Service, verifier *auth.Verifier, opts ...Option) *fiber.App {
	o := &options{
		prefix:     DefaultPrefix,
		ratePerMin: 60,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	s := &server{
		svc:     svc,
		logger:  o.logger,
		limiter: newUserLimiter(o.ratePerMin),
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           o.readTimeout,
		WriteTimeout:          o.writeTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	app.Use(recover.New())
	if o.accessLog {
		app.Use(flogger.New())
	}
	app.Use(newHTTPMetrics(o.registry).handler())

	app.Get("/healthz", s.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})))

	if o.visitorCompose {
		app.Post(o.prefix+"/visitor/msg/", s.limiter.handler(visitorKey), s.composeAsVisitor)
	}

	g := app.Group(o.prefix, auth.Middleware(verifier), s.limiter.writes(auth.CurrentUser))
	g.Get("/inbox/", s.folder(postman.Mailbox.Inbox))
	g.Get("/sent/", s.folder(postman.Mailbox.Sent))
	g.Get("/archives/", s.folder(postman.Mailbox.Archives))
	g.Get("/trash/", s.folder(postman.Mailbox.Trash))
	g.Get("/unread_count/", s.unreadCount)
	g.Get("/thread/:thread_id/", s.thread)

	g.Add(fiber.MethodPost, "/archive/:id/", s.mark(postman.Mailbox.MarkArchived))
	g.Add(fiber.MethodPut, "/archive/:id/", s.mark(postman.Mailbox.MarkArchived))
	g.Add(fiber.MethodPost, "/unarchive/:id/", s.mark(postman.Mailbox.Unarchive))
	g.Add(fiber.MethodPut, "/unarchive/:id/", s.mark(postman.Mailbox.Unarchive))
	g.Add(fiber.MethodPost, "/mark_read/:id/", s.mark(postman.Mailbox.MarkRead))
	g.Add(fiber.MethodPut, "/mark_read/:id/", s.mark(postman.Mailbox.MarkRead))

	g.Post("/msg/", s.compose)
	g.Post("/msg/forward_message/:id/", s.forward)
	g.Post("/msg/reply_all/:id/", s.replyAll)
	g.Get("/msg/:id/", s.get)
	g.Post("/msg/:id/", s.reply)
	g.Delete("/msg/:id/", s.delete)
	g.Get("/msg/:id/quote/", s.quote)

	return app
}

func (s *server) health(c *fiber.Ctx) error {
	if !s.svc.IsConnected() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// errorHandler renders errors escaping the handlers.
func (s *server) errorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(fiber.Map{"detail": fe.Message})
	}
	s.logger.Error("unhandled request error", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": "Internal server error."})
}
