package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type poolOptions struct {
	logger   *zerolog.Logger
	logLevel tracelog.LogLevel
}

// PoolOption tunes NewPool.
type PoolOption func(*poolOptions)

// WithQueryLog traces every statement through logger at the given level.
func WithQueryLog(logger zerolog.Logger, level tracelog.LogLevel) PoolOption {
	return func(o *poolOptions) {
		o.logger = &logger
		o.logLevel = level
	}
}

// NewPool connects and pings. Idle connections are recycled so a restarted
// database is picked up without restarting the server.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32, opts ...PoolOption) (*pgxpool.Pool, error) {
	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 && minConns <= cfg.MaxConns {
		cfg.MinConns = minConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	if o.logger != nil {
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   queryLogger{log: *o.logger},
			LogLevel: o.logLevel,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// queryLogger adapts zerolog to pgx's tracelog.Logger.
type queryLogger struct {
	log zerolog.Logger
}

func (l queryLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	var ev *zerolog.Event
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		ev = l.log.Debug()
	case tracelog.LogLevelInfo:
		ev = l.log.Info()
	case tracelog.LogLevelWarn:
		ev = l.log.Warn()
	default:
		ev = l.log.Error()
	}
	ev.Fields(data).Str("component", "pgx").Msg(msg)
}
