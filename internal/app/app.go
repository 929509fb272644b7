// Package app wires configuration, storage, the payment provider and the engine into a
// runtime shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/provider"
	"gigline/internal/ratelimit"
)

// Options override config file values; empty fields keep the file's value.
type Options struct {
	Driver   string
	DSN      string
	LogLevel string
	// Output receives log lines; nil means stderr.
	Output io.Writer
}

type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Dialect   db.Dialect
	Engine    engine.Engine
	Log       *logrus.Logger
}

// Open loads gigline.yml (falling back to defaults), opens and migrates the store and builds
// the engine.
func Open(ctx context.Context, workspace string, opts Options) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Database.DSN = opts.DSN
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	}
	conn, dialect, err := db.Open(db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		conn.Close()
		return nil, err
	}
	client, err := NewProvider(cfg.Payments.Provider)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, dialect, cfg, client)
	e.Log = logger
	return &Runtime{Workspace: workspace, Config: cfg, DB: conn, Dialect: dialect, Engine: e, Log: logger}, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// NewLogger builds a logrus logger; format is "text" or "json".
func NewLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("config.log.level: %w", err)
	}
	logger.SetLevel(lvl)
	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("config.log.format must be text or json, got %q", format)
	}
	return logger, nil
}

func NewProvider(cfg config.ProviderConfig) (provider.Client, error) {
	switch cfg.Kind {
	case "", "fake":
		return provider.NewFake(), nil
	case "http":
		return provider.NewHTTP(cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", cfg.Kind)
}

// NewLimiter returns nil when rate limiting is off. With a Redis address the bucket is
// shared across instances; otherwise it is kept in process. The returned closer releases
// the Redis client.
func NewLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, io.Closer, error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, nopCloser{}, nil
	}
	if strings.TrimSpace(rl.RedisAddr) == "" {
		return ratelimit.NewLocal(rl.Capacity, rl.RefillPerSecond), nopCloser{}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: rl.RedisAddr, Password: rl.RedisPassword, DB: rl.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", rl.RedisAddr, err)
	}
	ttl := time.Duration(float64(rl.Capacity)/rl.RefillPerSecond*float64(time.Second)) + time.Minute
	return ratelimit.NewTokenBucket(client, rl.Capacity, rl.RefillPerSecond, ttl), client, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RunSweeper releases lapsed reservations every interval until ctx is done.
func RunSweeper(ctx context.Context, e engine.Engine, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ExpireReservations(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("reservation sweep failed")
			}
		}
	}
}
