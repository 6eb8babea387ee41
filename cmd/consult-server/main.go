package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/advisa/consult/internal/config"
	"github.com/advisa/consult/internal/domain/appointment"
	"github.com/advisa/consult/internal/domain/identity"
	"github.com/advisa/consult/internal/domain/payment"
	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/internal/platform/db"
	"github.com/advisa/consult/internal/platform/lock"
	"github.com/advisa/consult/internal/platform/metrics"
	"github.com/advisa/consult/internal/platform/middleware"
	"github.com/advisa/consult/internal/platform/notification"
	"github.com/advisa/consult/internal/platform/room"
	"github.com/advisa/consult/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "consult-server",
		Short: "Consultation booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(outboxCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

	// migrate up
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

			migrator := db.NewMigrator(pool, os.DirFS(dir))
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
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

			statuses, err := db.NewMigrator(pool, os.DirFS(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				fmt.Println(formatMigrationStatus(s))
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func formatMigrationStatus(s db.MigrationStatus) string {
	status := "pending"
	appliedAt := ""
	if s.Applied {
		status = "applied"
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
	}
	return fmt.Sprintf("%-10d %-40s %-10s %s", s.Version, s.Name, status, appliedAt)
}

// sweepCmd runs a single confirmation sweep, for cron-driven deployments.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancel bookings whose advisor confirmation window has lapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(os.Getenv("ENV"))
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d expired booking(s): %d canceled, %d failed, %d warning(s).\n",
				report.Processed, report.Canceled, report.Failed, len(report.Warnings))
			return nil
		},
	}
}

// outboxCmd drains pending notifications once.
func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drain the notification outbox",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Deliver one batch of due notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(os.Getenv("ENV"))
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.relay.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Claimed %d, delivered %d, retried %d, dead %d.\n",
				rep.Claimed, rep.Delivered, rep.Retried, rep.Dead)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Count outbox messages by status",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			counts, err := notification.NewStorePG(pool).CountByStatus(ctx)
			if err != nil {
				return err
			}
			for _, st := range []notification.Status{notification.StatusPending, notification.StatusDelivered, notification.StatusDead} {
				fmt.Printf("%-10s %d\n", st, counts[st])
			}
			return nil
		},
	})

	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the wired collaborators shared by the server and one-shot commands.
type app struct {
	pool    interface{ Close() }
	redis   *goredis.Client
	metrics *metrics.Metrics
	hub     *websocket.Hub
	users   *identity.Service
	service *appointment.Service
	sweeper *appointment.Sweeper
	relay   *notification.Relay
	pingers map[string]db.Pinger
	logger  zerolog.Logger
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg *prometheus.Registry) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	a := &app{
		pool:    pool,
		metrics: metrics.New(reg),
		hub:     websocket.NewHub(logger),
		logger:  logger,
		pingers: map[string]db.Pinger{"database": pool},
	}

	var locker lock.Locker = lock.NewLocalLocker()
	sweepLocker := locker
	if cfg.RedisURL != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = rdb
		locker, sweepLocker = redisLockers(cfg, rdb)
		a.pingers["redis"] = db.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info().Msg("using redis advisor locks")
	} else {
		logger.Warn().Msg("REDIS_URL not set; advisor locks are process-local")
	}

	userRepo := identity.NewRepoPG(pool)
	a.users = identity.NewService(userRepo)
	outbox := notification.NewStorePG(pool)

	a.service = appointment.NewService(appointment.Deps{
		Repo:     appointment.NewRepoPG(pool),
		Users:    userRepo,
		Payments: payment.NewService(payment.NewRepoPG(pool), time.Now),
		Notifier: notification.NewNotifier(outbox, time.Now),
		Tx:       db.NewTransactor(pool),
		Locker:   locker,
		Rooms: room.NewIssuer(room.Config{
			AppID:  cfg.RoomAppID,
			Secret: cfg.RoomSecret,
			Domain: cfg.RoomDomain,
			TTL:    cfg.RoomTokenTTL,
		}, time.Now),
		Events:  a.hub,
		Metrics: a.metrics,
		Logger:  logger,
		Now:     time.Now,
	})
	a.sweeper = appointment.NewSweeper(a.service, sweepLocker, logger)
	a.relay = notification.NewRelay(outbox, senders(cfg, a.hub, logger), notification.NewTemplateEngine(),
		relayConfig(cfg), a.metrics, logger)
	return a, nil
}

// minSweepLockTTL is the floor for the sweep lock lease. One sweep walks up
// to a full batch of expired confirmations, each in its own transaction.
const minSweepLockTTL = 2 * time.Minute

// sweepLockTTL sizes the sweep lease to the tick interval so a slow sweep
// keeps the lock until it finishes, while a crashed holder frees it before
// the next tick after that.
func sweepLockTTL(cfg *config.Config) time.Duration {
	if cfg.SweepInterval < minSweepLockTTL {
		return minSweepLockTTL
	}
	return cfg.SweepInterval
}

// redisLockers returns the per-advisor booking locker and the sweep locker.
// Booking keeps the short default lease; the sweep gets a lease sized to a
// whole run and gives up quickly when another replica is already sweeping.
func redisLockers(cfg *config.Config, rdb *goredis.Client) (booking, sweep lock.Locker) {
	booking = lock.NewRedisLocker(rdb)
	sweep = lock.NewRedisLocker(rdb,
		lock.WithTTL(sweepLockTTL(cfg)),
		lock.WithMaxWait(time.Second),
	)
	return booking, sweep
}

// senders returns the delivery channels enabled by cfg.
func senders(cfg *config.Config, hub *websocket.Hub, logger zerolog.Logger) map[notification.Channel]notification.Sender {
	out := map[notification.Channel]notification.Sender{
		notification.ChannelRealtime: notification.NewRealtimeSender(hub),
		notification.ChannelPush:     notification.NewExpoSender(&expo.ClientConfig{AccessToken: cfg.ExpoAccessToken}),
	}
	if cfg.EmailEnabled() {
		out[notification.ChannelEmail] = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn().Msg("SMTP not configured; email notifications will be dead-lettered")
	}
	return out
}

func relayConfig(cfg *config.Config) notification.RelayConfig {
	rc := notification.DefaultRelayConfig()
	if cfg.OutboxBatchSize > 0 {
		rc.BatchSize = cfg.OutboxBatchSize
	}
	if cfg.OutboxMaxAttempts > 0 {
		rc.MaxAttempts = cfg.OutboxMaxAttempts
	}
	return rc
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware()
	}
	return auth.Skip(auth.JWTMiddleware(auth.JWTConfig{
		SigningKey: []byte(cfg.AuthSigningKey),
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
	}))
}

func newServer(cfg *config.Config, a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "20M"))
	e.Use(authMiddleware(cfg))

	e.GET("/health", db.HealthHandler(version, a.pingers))
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	identity.NewHandler(a.users).RegisterRoutes(apiV1)
	appointment.NewHandler(a.service).RegisterRoutes(apiV1)

	wsGroup := e.Group("")
	websocket.NewHandler(a.hub, appointment.TopicAuthorizer(a.service), cfg.CORSOrigins).RegisterRoutes(wsGroup)

	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}
	defer a.close()

	go a.sweeper.Run(ctx, cfg.SweepInterval)
	go a.relay.Run(ctx, cfg.OutboxInterval)

	e := newServer(cfg, a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
