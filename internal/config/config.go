// Package config loads the configuration of the postman API server.
//
// Values come from an optional YAML file, then from a .env file and the
// environment (POSTMAN_* variables), and are validated last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the file read by Load when no path is given.
const DefaultPath = "config.yaml"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type App struct {
	Env             string `yaml:"env"`
	Listen          string `yaml:"listen"`
	Prefix          string `yaml:"prefix"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	RatePerMin      int    `yaml:"rate_limit_per_min"`
	VisitorCompose  bool   `yaml:"visitor_compose"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Store struct {
	Driver string `yaml:"driver"`
	// Users is the directory of the memory driver.
	Users []User `yaml:"users"`
}

type User struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Inactive bool   `yaml:"inactive"`
}

type Postgres struct {
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
	UsersTable string `yaml:"users_table"`
}

type Mongo struct {
	URI string `yaml:"uri"`
	DB  string `yaml:"db"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Events    bool   `yaml:"events"`
	BlockList bool   `yaml:"block_list"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type SES struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
	NotifyUsers     bool   `yaml:"notify_users"`
}

type JWT struct {
	Alg           string `yaml:"alg"`
	PublicKeyPath string `yaml:"public_key_path"`
	HSSecret      string `yaml:"hs_secret"`
}

// Postman holds the messaging rules.
type Postman struct {
	ServiceName             string `yaml:"service_name"`
	MaxRecipients           int    `yaml:"max_recipients"`
	DisallowMultiRecipients bool   `yaml:"disallow_multi_recipients"`
	AutoModerateAs          string `yaml:"auto_moderate_as"`
	OTel                    bool   `yaml:"otel"`
}

type Config struct {
	App      App      `yaml:"app"`
	Log      Log      `yaml:"log"`
	Store    Store    `yaml:"store"`
	Postgres Postgres `yaml:"postgres"`
	Mongo    Mongo    `yaml:"mongo"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	SES      SES      `yaml:"ses"`
	JWT      JWT      `yaml:"jwt"`
	Postman  Postman  `yaml:"postman"`
}

// Load reads path (DefaultPath when empty, skipped if missing), then .env
// and the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.App.Env = "production"
	c.App.Listen = ":8080"
	c.App.Prefix = "/api/v1/messages"
	c.App.ShutdownTimeout = "30s"
	c.App.RatePerMin = 60
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Store.Driver = DriverMemory
	c.Mongo.DB = "postman"
	c.Kafka.Topic = "postman.messages"
	c.JWT.Alg = "HS256"
	c.Postman.ServiceName = "postman"
	c.Postman.MaxRecipients = 10
	c.Postman.AutoModerateAs = "accepted"
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("POSTMAN_ENV", &c.App.Env)
	str("POSTMAN_LISTEN", &c.App.Listen)
	str("POSTMAN_PREFIX", &c.App.Prefix)
	str("POSTMAN_SHUTDOWN_TIMEOUT", &c.App.ShutdownTimeout)
	num("POSTMAN_RATE_LIMIT_PER_MIN", &c.App.RatePerMin)
	flag("POSTMAN_VISITOR_COMPOSE", &c.App.VisitorCompose)

	str("POSTMAN_LOG_LEVEL", &c.Log.Level)
	str("POSTMAN_LOG_FORMAT", &c.Log.Format)

	str("POSTMAN_STORE", &c.Store.Driver)
	str("POSTMAN_POSTGRES_DSN", &c.Postgres.DSN)
	str("POSTMAN_MONGO_URI", &c.Mongo.URI)
	str("POSTMAN_MONGO_DB", &c.Mongo.DB)

	str("POSTMAN_REDIS_ADDR", &c.Redis.Addr)
	str("POSTMAN_REDIS_PASSWORD", &c.Redis.Password)
	num("POSTMAN_REDIS_DB", &c.Redis.DB)

	if v := os.Getenv("POSTMAN_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	str("POSTMAN_KAFKA_TOPIC", &c.Kafka.Topic)

	str("POSTMAN_SES_REGION", &c.SES.Region)
	str("POSTMAN_SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	str("POSTMAN_SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	str("POSTMAN_SES_SENDER", &c.SES.Sender)

	str("POSTMAN_JWT_ALG", &c.JWT.Alg)
	str("POSTMAN_JWT_PUBLIC_KEY_PATH", &c.JWT.PublicKeyPath)
	str("POSTMAN_JWT_SECRET", &c.JWT.HSSecret)

	num("POSTMAN_MAX_RECIPIENTS", &c.Postman.MaxRecipients)
	str("POSTMAN_AUTO_MODERATE_AS", &c.Postman.AutoModerateAs)
	flag("POSTMAN_OTEL", &c.Postman.OTel)
}

func (c *Config) validate() error {
	if c.App.Listen == "" {
		return errors.New("app.listen missing")
	}
	if !strings.HasPrefix(c.App.Prefix, "/") {
		return errors.New("app.prefix must start with /")
	}
	if _, err := time.ParseDuration(c.App.ShutdownTimeout); err != nil {
		return fmt.Errorf("app.shutdown_timeout: %w", err)
	}
	if c.App.RatePerMin < 0 {
		return errors.New("app.rate_limit_per_min must not be negative")
	}

	switch c.Store.Driver {
	case DriverMemory:
		for i, u := range c.Store.Users {
			if u.ID == "" || u.Username == "" {
				return fmt.Errorf("store.users[%d]: id and username are required", i)
			}
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn missing")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri missing")
		}
	default:
		return fmt.Errorf("invalid store.driver %q (use memory, postgres or mongo)", c.Store.Driver)
	}

	if (c.Redis.Events || c.Redis.BlockList) && c.Redis.Addr == "" {
		return errors.New("redis.addr required for redis events or block list")
	}
	if c.SES.Region != "" && c.SES.Sender == "" {
		return errors.New("ses.sender required when ses.region is set")
	}

	switch strings.ToUpper(c.JWT.Alg) {
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if c.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}

	switch c.Postman.AutoModerateAs {
	case "pending", "accepted", "rejected":
	default:
		return fmt.Errorf("invalid postman.auto_moderate_as %q", c.Postman.AutoModerateAs)
	}
	return nil
}

// Shutdown returns the graceful shutdown timeout.
func (c *Config) Shutdown() time.Duration {
	d, _ := time.ParseDuration(c.App.ShutdownTimeout)
	return d
}

// Development reports whether the server runs in a development environment.
func (c *Config) Development() bool {
	return c.App.Env == "development" || c.App.Env == "dev"
}
