package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const pingTimeout = 3 * time.Second

// PoolStats is the connection-pool section of GET /health/db.
type PoolStats struct {
	Open      int32  `json:"open"`
	InUse     int32  `json:"inUse"`
	Idle      int32  `json:"idle"`
	Max       int32  `json:"max"`
	Waited    int64  `json:"waited"`
	WaitTotal string `json:"waitTotal"`
}

// StatsOf samples pool on each call.
func StatsOf(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		s := pool.Stat()
		return PoolStats{
			Open:      s.TotalConns(),
			InUse:     s.AcquiredConns(),
			Idle:      s.IdleConns(),
			Max:       s.MaxConns(),
			Waited:    s.EmptyAcquireCount(),
			WaitTotal: s.AcquireDuration().String(),
		}
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type healthBody struct {
	Status    string     `json:"status"`
	Version   string     `json:"version,omitempty"`
	LatencyMs int64      `json:"latencyMs,omitempty"`
	Error     string     `json:"error,omitempty"`
	Pool      *PoolStats `json:"pool,omitempty"`
}

// LivenessHandler answers GET /health without touching the database.
func LivenessHandler(version string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthBody{Status: "ok", Version: version})
	}
}

// ReadinessHandler answers GET /health/db with 503 until Postgres answers a
// ping within pingTimeout.
func ReadinessHandler(db Pinger, stats func() PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
		defer cancel()

		start := time.Now()
		err := db.Ping(ctx)
		body := healthBody{Status: "ready", LatencyMs: time.Since(start).Milliseconds()}
		if stats != nil {
			s := stats()
			body.Pool = &s
		}
		if err != nil {
			body.Status, body.Error = "unavailable", err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
