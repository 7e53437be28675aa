package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dmac/telehealth/internal/config"
	"github.com/dmac/telehealth/internal/domain/availability"
	"github.com/dmac/telehealth/internal/domain/consultation"
	"github.com/dmac/telehealth/internal/platform/db"
	"github.com/dmac/telehealth/internal/platform/directory"
	"github.com/dmac/telehealth/internal/platform/metrics"
	"github.com/dmac/telehealth/internal/platform/middleware"
	"github.com/dmac/telehealth/internal/platform/notification"
	"github.com/dmac/telehealth/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "telehealth-server",
		Short: "Telehealth slot reservation and consultation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the telehealth API server",
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

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Release booked slots that have no live consultation",
		RunE: func(cmd *cobra.Command, args []string) error {
			className, _ := cmd.Flags().GetString("class")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			classes, err := selectClasses(className)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			sqlDB := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
			defer sqlDB.Close()

			m := metrics.NewBookingMetrics(prometheus.NewRegistry())
			for _, class := range classes {
				report, err := consultation.NewReconciler(sqlDB, class, cfg.ReconcileGrace, m, logger).Run(ctx, dryRun)
				if err != nil {
					return err
				}
				printReconcileReport(cmd, report)
			}
			return nil
		},
	}
	cmd.Flags().String("class", "all", "Consultant class to sweep: expert, therapist or all")
	cmd.Flags().Bool("dry-run", false, "List orphaned slots without releasing them")
	return cmd
}

func printReconcileReport(cmd *cobra.Command, r *consultation.ReconcileReport) {
	out := cmd.OutOrStdout()
	if r.DryRun {
		fmt.Fprintf(out, "%s: %d orphaned slot(s) found (dry run)\n", r.Class, r.Found)
	} else {
		fmt.Fprintf(out, "%s: %d orphaned slot(s) found, %d released\n", r.Class, r.Found, r.Released)
	}
	for _, o := range r.Orphans {
		fmt.Fprintf(out, "  %s %s %s (updated %s)\n", o.ConsultantID, o.SlotDate, o.StartTime, o.UpdatedAt.UTC().Format(time.RFC3339))
	}
}

// selectClasses resolves a --class flag value.
func selectClasses(name string) ([]consultation.Class, error) {
	if name == "" || name == "all" {
		return consultation.Classes, nil
	}
	class, ok := consultation.ClassByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown class %q", name)
	}
	return []consultation.Class{class}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "telehealth").Logger()
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis is optional; without it the directory is read straight from
	// Postgres and rate limits are per process.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, continuing without cache")
			rdb = nil
		} else {
			logger.Info().Msg("connected to redis")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)

	pgDirectory := directory.NewPG(pool)
	var dir directory.Directory = pgDirectory
	if rdb != nil {
		dir = directory.NewCached(pgDirectory, rdb, cfg.DirectoryCacheTTL, logger)
	}

	cal, err := newCalendar(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure calendar")
	}
	sender, err := newEmailSender(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure email")
	}
	notifier := notification.NewNotifier(sender, notification.NewTemplateEngine())
	txRunner := db.NewTxRunner(pool)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics", "/health"))
	if rdb != nil {
		e.Use(middleware.RedisRateLimit(rl, rdb, logger))
	} else {
		e.Use(middleware.RateLimit(rl))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	sqlDB := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	defer sqlDB.Close()

	apiV1 := e.Group("/api/v1")
	for _, class := range consultation.Classes {
		slots := availability.NewSlotRepoPG(pool, class.SlotTable)
		availSvc := availability.NewService(slots, dir, txRunner)

		svc := consultation.NewService(class, consultation.Deps{
			Slots:        slots,
			Repo:         consultation.NewRepoPG(pool, class.ConsultationTable),
			IDs:          consultation.NewIDGenerator(pool, class.ConsultationTable),
			Tx:           txRunner,
			Directory:    dir,
			Entitlements: pgDirectory,
			Calendar:     cal,
			Notifier:     notifier,
			Metrics:      bookingMetrics,
			Logger:       logger,
		})

		g := apiV1.Group("/" + class.Name)
		availability.NewHandler(availSvc).RegisterRoutes(g)
		consultation.NewHandler(svc).RegisterRoutes(g)

		if cfg.ReconcileInterval > 0 {
			consultation.NewReconciler(sqlDB, class, cfg.ReconcileGrace, bookingMetrics, logger).Start(ctx, cfg.ReconcileInterval)
		}
	}

	// Graceful shutdown
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
