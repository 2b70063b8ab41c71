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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cardia/referral-intake/internal/config"
	"github.com/cardia/referral-intake/internal/domain/communication"
	"github.com/cardia/referral-intake/internal/domain/completeness"
	"github.com/cardia/referral-intake/internal/domain/referral"
	"github.com/cardia/referral-intake/internal/domain/segmentation"
	"github.com/cardia/referral-intake/internal/domain/timeline"
	"github.com/cardia/referral-intake/internal/platform/auth"
	"github.com/cardia/referral-intake/internal/platform/db"
	"github.com/cardia/referral-intake/internal/platform/gateway"
	"github.com/cardia/referral-intake/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Cardiology referral intake API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the referral intake server",
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

			migrator := db.NewMigrator(pool, dir)
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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
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

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Communications gateway: a real provider when configured, otherwise the
	// in-memory gateway so development works without one.
	var gw gateway.Gateway
	if cfg.GatewayBaseURL != "" {
		gw = gateway.NewHTTPGateway(cfg.GatewayBaseURL,
			time.Duration(cfg.GatewayTimeoutSeconds)*time.Second, logger)
		logger.Info().Str("base_url", cfg.GatewayBaseURL).Msg("using HTTP communications gateway")
	} else {
		gw = gateway.NewMemoryGateway()
		logger.Warn().Msg("GATEWAY_BASE_URL not set; using in-memory communications gateway")
	}

	// -- Wire domain services --

	// Timeline
	eventRepo := timeline.NewEventRepoPG(pool)
	timelineSvc := timeline.NewService(eventRepo)
	timeline.NewHandler(timelineSvc).RegisterRoutes(apiV1)

	// Completeness
	itemRepo := completeness.NewItemRepoPG(pool)
	completenessSvc := completeness.NewService(itemRepo, timelineSvc)
	autoFilePolicy := completeness.AutoFilePolicy{
		DefaultThreshold: cfg.AutoFileThreshold,
		ShadowMode:       cfg.ShadowMode,
	}
	completeness.NewHandler(completenessSvc, autoFilePolicy).RegisterRoutes(apiV1)

	// Communication orchestrator
	referralRepo := referral.NewRepoPG(pool)
	commRepo := communication.NewRepoPG(pool)
	commSvc := communication.NewService(commRepo, gw, timelineSvc,
		referral.NewContactSource(referralRepo), completenessSvc, logger)
	communication.NewHandler(commSvc).RegisterRoutes(apiV1)

	// Referral state machine
	referralSvc := referral.NewService(referralRepo, completenessSvc, commSvc, timelineSvc, logger)
	referral.NewHandler(referralSvc).RegisterRoutes(apiV1)

	// Segmentation detector
	segmentation.NewHandler().RegisterRoutes(apiV1)

	// Escalation scheduler
	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	scheduler := communication.NewScheduler(commSvc,
		time.Duration(cfg.EscalationTickSeconds)*time.Second, logger)
	go scheduler.Run(schedCtx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	schedCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
