/*
Package config collects the server's settings from flags and environment.

PRECEDENCE:
  flag > environment variable > default

SETTINGS:
  flag              env                 default
  -http-addr        STOCK_HTTP_ADDR     :8080
  -grpc-addr        STOCK_GRPC_ADDR     :9090      ("" disables gRPC)
  -db-driver        STOCK_DB_DRIVER     sqlite     (sqlite | mysql | memory)
  -db               STOCK_DB_DSN        stock.db   (path for sqlite, DSN for mysql)
  -redis-addr       REDIS_ADDR          ""         ("" disables the cache)
  -cache-ttl        STOCK_CACHE_TTL     5m
  -amqp-url         AMQP_URL            ""         ("" disables events)
  -log-level        STOCK_LOG_LEVEL     info
  -cors-origins     STOCK_CORS_ORIGINS  http://localhost:5173
  -shutdown-timeout STOCK_SHUTDOWN_TIMEOUT 30s
  -reconcile-every  STOCK_RECONCILE_EVERY  1h  ("0" disables the ledger audit)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	DBDriver        string
	DBDSN           string
	RedisAddr       string
	CacheTTL        time.Duration
	AMQPURL         string
	LogLevel        zap.AtomicLevel
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	ReconcileEvery  time.Duration
}

// Load parses args (without the program name) with getenv supplying the
// defaults. Pass os.Args[1:] and os.Getenv in production.
func Load(args []string, getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	fs := flag.NewFlagSet("stock-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		cfg         Config
		cacheTTL    string
		logLevel    string
		corsOrigins string
		shutdown    string
		reconcile   string
	)
	fs.StringVar(&cfg.HTTPAddr, "http-addr", env("STOCK_HTTP_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", env("STOCK_GRPC_ADDR", ":9090"), "gRPC listen address, empty to disable")
	fs.StringVar(&cfg.DBDriver, "db-driver", env("STOCK_DB_DRIVER", DriverSQLite), "store: sqlite, mysql or memory")
	fs.StringVar(&cfg.DBDSN, "db", env("STOCK_DB_DSN", "stock.db"), "SQLite path or MySQL DSN")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", env("REDIS_ADDR", ""), "Redis address for the item cache, empty to disable")
	fs.StringVar(&cacheTTL, "cache-ttl", env("STOCK_CACHE_TTL", "5m"), "item cache TTL")
	fs.StringVar(&cfg.AMQPURL, "amqp-url", env("AMQP_URL", ""), "RabbitMQ URL for stock events, empty to disable")
	fs.StringVar(&logLevel, "log-level", env("STOCK_LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&corsOrigins, "cors-origins", env("STOCK_CORS_ORIGINS", "http://localhost:5173"), "comma-separated allowed origins")
	fs.StringVar(&shutdown, "shutdown-timeout", env("STOCK_SHUTDOWN_TIMEOUT", "30s"), "graceful shutdown timeout")
	fs.StringVar(&reconcile, "reconcile-every", env("STOCK_RECONCILE_EVERY", "1h"), "ledger audit interval, 0 to disable")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	var err error
	if cfg.CacheTTL, err = time.ParseDuration(cacheTTL); err != nil {
		return Config{}, fmt.Errorf("invalid cache ttl %q: %w", cacheTTL, err)
	}
	if cfg.ShutdownTimeout, err = time.ParseDuration(shutdown); err != nil {
		return Config{}, fmt.Errorf("invalid shutdown timeout %q: %w", shutdown, err)
	}
	if cfg.ReconcileEvery, err = time.ParseDuration(reconcile); err != nil {
		return Config{}, fmt.Errorf("invalid reconcile interval %q: %w", reconcile, err)
	}
	if cfg.LogLevel, err = zap.ParseAtomicLevel(logLevel); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	for _, origin := range strings.Split(corsOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks combinations that flag parsing can't.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	if c.DBDriver != DriverMemory && c.DBDSN == "" {
		return errors.New("db dsn is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("http address is required")
	}
	if c.CacheTTL <= 0 {
		return errors.New("cache ttl must be positive")
	}
	if c.ReconcileEvery < 0 {
		return errors.New("reconcile interval must not be negative")
	}
	return nil
}
