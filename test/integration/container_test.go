//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	pgImage    = "postgres:16-alpine"
	pgUser     = "clinic"
	pgPassword = "clinic"
	pgDatabase = "clinictest"
)

// postgresContainer is a throwaway server started through the docker CLI.
type postgresContainer struct {
	id  string
	dsn string
}

// runPostgres starts pgImage on a port chosen by docker and blocks until the
// server answers queries.
func runPostgres(ctx context.Context) (*postgresContainer, error) {
	out, err := docker(ctx, "run", "--rm", "--detach",
		"--publish", "127.0.0.1::5432",
		"--env", "POSTGRES_USER="+pgUser,
		"--env", "POSTGRES_PASSWORD="+pgPassword,
		"--env", "POSTGRES_DB="+pgDatabase,
		pgImage)
	if err != nil {
		return nil, err
	}
	c := &postgresContainer{id: out}

	binding, err := docker(ctx, "port", c.id, "5432/tcp")
	if err != nil {
		c.stop()
		return nil, err
	}
	// "127.0.0.1:49153", possibly followed by an IPv6 line.
	hostPort := strings.SplitN(binding, "\n", 2)[0]
	c.dsn = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, hostPort, pgDatabase)

	readyCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	if err := c.awaitReady(readyCtx); err != nil {
		c.stop()
		return nil, err
	}
	return c, nil
}

// awaitReady polls pg_isready inside the container, then confirms from the
// host with a real connection. The entrypoint restarts the server once after
// init, so pg_isready alone can answer too early.
func (c *postgresContainer) awaitReady(ctx context.Context) error {
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	var last error
	for {
		if _, err := docker(ctx, "exec", c.id, "pg_isready", "-U", pgUser, "-d", pgDatabase); err != nil {
			last = err
		} else if last = ping(ctx, c.dsn); last == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres in %s never became ready: %w", c.id[:12], errors.Join(ctx.Err(), last))
		case <-tick.C:
		}
	}
}

func (c *postgresContainer) stop() {
	// --rm on run removes the container once it is stopped.
	_, _ = docker(context.Background(), "stop", "--time", "1", c.id)
}

func ping(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	var one int
	return conn.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
