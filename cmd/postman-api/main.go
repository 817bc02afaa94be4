// Command postman-api serves user-to-user private messages over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rbaliyan/postman"
	"github.com/rbaliyan/postman/filter/redisblock"
	"github.com/rbaliyan/postman/internal/api"
	"github.com/rbaliyan/postman/internal/auth"
	"github.com/rbaliyan/postman/internal/config"
	"github.com/rbaliyan/postman/notify/kafka"
	"github.com/rbaliyan/postman/notify/ses"
	"github.com/rbaliyan/postman/resolver"
	"github.com/rbaliyan/postman/store"
	"github.com/rbaliyan/postman/store/memory"
	mongostore "github.com/rbaliyan/postman/store/mongo"
	pgstore "github.com/rbaliyan/postman/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Development() || strings.EqualFold(cfg.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// backend is a store with its user directory and the resources to release
// after the service is closed.
type backend struct {
	store     store.Store
	directory store.UserDirectory
	close     func(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		var opts []pgstore.Option
		if cfg.Postgres.Table != "" {
			opts = append(opts, pgstore.WithTable(cfg.Postgres.Table))
		}
		if cfg.Postgres.UsersTable != "" {
			opts = append(opts, pgstore.WithUsersTable(cfg.Postgres.UsersTable))
		}
		s := pgstore.New(db, append(opts, pgstore.WithLogger(logger))...)
		return &backend{
			store:     s,
			directory: s,
			close:     func(context.Context) error { return db.Close() },
		}, nil

	case config.DriverMongo:
		client, err := mongo.Connect(mongoopts.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		s := mongostore.New(client,
			mongostore.WithDatabase(cfg.Mongo.DB),
			mongostore.WithLogger(logger),
		)
		return &backend{store: s, directory: s, close: client.Disconnect}, nil
	}

	users := make([]store.User, 0, len(cfg.Store.Users))
	for _, u := range cfg.Store.Users {
		users = append(users, store.User{ID: u.ID, Username: u.Username, Email: u.Email, Active: !u.Inactive})
	}
	logger.Warn("using in-memory store, messages are not persisted", "users", len(users))
	return &backend{
		store:     memory.New(),
		directory: resolver.NewStatic(users...),
		close:     func(context.Context) error { return nil },
	}, nil
}

func newVerifier(cfg *config.Config) (*auth.Verifier, error) {
	if strings.EqualFold(cfg.JWT.Alg, "RS256") {
		return auth.NewRSAVerifier(cfg.JWT.PublicKeyPath)
	}
	return auth.NewHMACVerifier(cfg.JWT.HSSecret)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	verifier, err := newVerifier(cfg)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.close(context.Background()); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}()

	opts := []postman.Option{
		postman.WithStore(be.store),
		postman.WithDirectory(be.directory),
		postman.WithLogger(logger),
		postman.WithServiceName(cfg.Postman.ServiceName),
		postman.WithMaxRecipients(cfg.Postman.MaxRecipients),
		postman.WithDisallowMultiRecipients(cfg.Postman.DisallowMultiRecipients),
		postman.WithAutoModerateAs(store.ModerationStatus(cfg.Postman.AutoModerateAs)),
		postman.WithOTel(cfg.Postman.OTel),
		postman.WithShutdownTimeout(cfg.Shutdown()),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if cfg.Redis.Events {
			opts = append(opts, postman.WithRedisClient(rdb))
		}
		if cfg.Redis.BlockList {
			blocks := redisblock.New(rdb, redisblock.WithLogger(logger))
			opts = append(opts, postman.WithExchangeFilter(blocks.Filter()))
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		opts = append(opts, postman.WithPlugin(kafka.New(cfg.Kafka.Brokers,
			kafka.WithTopic(cfg.Kafka.Topic),
			kafka.WithLogger(logger),
		)))
	}

	if cfg.SES.Region != "" {
		n, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		}, ses.WithUserNotifications(cfg.SES.NotifyUsers), ses.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("ses: %w", err)
		}
		opts = append(opts, postman.WithPlugin(n))
	}

	svc, err := postman.NewService(opts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Connect(ctx); err != nil {
		return fmt.Errorf("connect service: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := api.New(svc, verifier,
		api.WithPrefix(cfg.App.Prefix),
		api.WithVisitorCompose(cfg.App.VisitorCompose),
		api.WithRateLimit(cfg.App.RatePerMin),
		api.WithAccessLog(true),
		api.WithLogger(logger),
		api.WithRegistry(reg),
		api.WithTimeouts(30*time.Second, 30*time.Second),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.App.Listen, "prefix", cfg.App.Prefix, "store", cfg.Store.Driver)
		errCh <- app.Listen(cfg.App.Listen)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	if err := app.ShutdownWithTimeout(cfg.Shutdown()); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown())
	defer cancel()
	closeErr := svc.Close(closeCtx)
	return errors.Join(serveErr, closeErr)
}
