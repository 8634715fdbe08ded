package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/audit"
	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/expense"
	"github.com/clinicdesk/clinic/internal/domain/inventory"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/domain/reporting"
	"github.com/clinicdesk/clinic/internal/domain/staff"
	"github.com/clinicdesk/clinic/internal/domain/visit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/middleware"
	"github.com/clinicdesk/clinic/internal/platform/notification"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/internal/platform/webhook"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(staffCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage staff accounts",
	}

	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create a verified administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			name, _ := cmd.Flags().GetString("name")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			tx := db.NewTxRunner(pool)
			changes := outbox.StoreRecorder{Store: outbox.NewStorePG(pool)}
			auditSvc := audit.NewService(audit.NewRepo(pool), changes)
			issuer := auth.NewIssuer(jwtConfig(cfg))
			notifier := notification.NewNotifier(notification.LogMailer{Logger: logger},
				notification.NewTemplateEngine(), cfg.PublicBaseURL, logger)

			svc := staff.NewService(staff.NewRepo(pool), tx, issuer, notifier, changes, auditSvc,
				cfg.PrivilegedAdminEmail, logger)
			u, err := svc.BootstrapAdmin(ctx, email, password, name)
			if err != nil {
				return err
			}
			fmt.Printf("Administrator %s created with id %s.\n", u.Email, u.ID)
			return nil
		},
	}
	bootstrapCmd.Flags().String("email", "", "Administrator email")
	bootstrapCmd.Flags().String("password", "", "Administrator password")
	bootstrapCmd.Flags().String("name", "Administrator", "Display name")
	cmd.AddCommand(bootstrapCmd)

	return cmd
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSigningKey),
		TTL:        cfg.TokenTTL,
		Skipper:    auth.AuthSkipper,
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(nil)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load clinic timezone")
	}

	// Database
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	var poolOpts []db.PoolOption
	if cfg.IsDev() {
		poolOpts = append(poolOpts, db.WithQueryLog(logger, tracelog.LogLevelDebug))
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, poolOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(logger)

	staffRepo := staff.NewRepo(pool)
	jwtCfg := jwtConfig(cfg)
	jwtCfg.Accounts = staff.NewAccounts(staffRepo)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(auth.JWTMiddleware(jwtCfg))
	e.Use(middleware.Audit(logger))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", db.LivenessHandler(version))
	e.GET("/health/db", db.ReadinessHandler(pool, db.StatsOf(pool)))

	// Realtime fan-out
	hub := websocket.NewHub(logger)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	// Change outbox
	outboxStore := outbox.NewStorePG(pool)
	changes := outbox.StoreRecorder{Store: outboxStore}
	tx := db.NewTxRunner(pool)

	sinks := []outbox.Sink{outbox.HubSink{Hub: hub}}
	var closers []io.Closer
	if cfg.RedisURL != "" {
		redisSink, err := outbox.NewRedisStreamSink(cfg.RedisURL, cfg.ChangeStream, 10000)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		if err := redisSink.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable; change stream delivery will retry")
		}
		sinks = append(sinks, redisSink)
		closers = append(closers, redisSink)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := outbox.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink)
	}
	if cfg.WebhookURL != "" {
		hook, err := webhook.NewClient(cfg.WebhookURL, cfg.WebhookSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid WEBHOOK_URL")
		}
		sinks = append(sinks, outbox.WebhookSink{Client: hook})
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close sink")
			}
		}
	}()

	relay := outbox.NewRelay(outboxStore, sinks, outbox.RelayConfig{
		PollInterval: cfg.OutboxPollInterval,
	}, logger)
	go func() {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("outbox relay stopped")
		}
	}()

	// Mail
	var mailer notification.EmailSender = notification.LogMailer{Logger: logger}
	if cfg.MailRelayURL != "" {
		mailer = notification.NewRelayMailer(cfg.MailRelayURL, cfg.MailRelayToken, cfg.MailFrom)
	}
	notifier := notification.NewNotifier(mailer, notification.NewTemplateEngine(), cfg.PublicBaseURL, logger)

	// Repositories
	auditRepo := audit.NewRepo(pool)
	visitRepo := visit.NewRepo(pool)
	patientRepo := patient.NewRepo(pool)
	invRepo := inventory.NewRepo(pool)
	expenseRepo := expense.NewRepo(pool)
	apptRepo := appointment.NewRepo(pool)

	// Services
	auditSvc := audit.NewService(auditRepo, changes)
	visitSvc := visit.NewService(visitRepo, tx, patientRepo, inventory.NewCatalog(invRepo),
		changes, auditSvc, visit.SettingsFromConfig(cfg), logger)
	invSvc := inventory.NewService(invRepo, tx, visitSvc, changes, auditSvc, loc)
	patientSvc := patient.NewService(patientRepo, tx, visitSvc, changes)
	staffSvc := staff.NewService(staffRepo, tx, auth.NewIssuer(jwtCfg), notifier, changes, auditSvc,
		cfg.PrivilegedAdminEmail, logger)
	expenseSvc := expense.NewService(expenseRepo, tx, changes, auditSvc, loc)
	apptSvc := appointment.NewService(apptRepo, tx, patientRepo, changes, loc)
	reportSvc := reporting.NewService(visitSvc, invSvc, expenseSvc, patientSvc, loc)
	dashboardSvc := reporting.NewDashboardService(visitSvc, patientSvc, apptSvc, invSvc, loc)

	// Routes
	staff.NewHandler(staffSvc).RegisterRoutes(apiV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	visit.NewHandler(visitSvc).RegisterRoutes(apiV1)
	billing.NewHandler(visitSvc).RegisterRoutes(apiV1)
	inventory.NewHandler(invSvc).RegisterRoutes(apiV1)
	expense.NewHandler(expenseSvc).RegisterRoutes(apiV1)
	appointment.NewHandler(apptSvc).RegisterRoutes(apiV1)
	reporting.NewHandler(reportSvc, dashboardSvc).RegisterRoutes(apiV1)
	audit.NewHandler(auditSvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
