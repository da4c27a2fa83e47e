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
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cds/cds/internal/config"
	"github.com/cds/cds/internal/domain/cds"
	"github.com/cds/cds/internal/platform/audit"
	"github.com/cds/cds/internal/platform/auth"
	"github.com/cds/cds/internal/platform/db"
	"github.com/cds/cds/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cds-server",
		Short: "Clinical decision support service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CDS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the built-in rule tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := cds.NewInteractionIndex(cds.SeedInteractions())
			if err != nil {
				return fmt.Errorf("interaction catalog: %w", err)
			}
			if _, err := cds.NewAgeDosingChecker(cds.SeedAgeDosingRules(), nil); err != nil {
				return fmt.Errorf("age dosing table: %w", err)
			}
			if _, err := cds.NewDiagnosisAlertGenerator(cds.SeedDiagnosisGuidelines()); err != nil {
				return fmt.Errorf("guideline table: %w", err)
			}
			logger := zerolog.New(os.Stdout)
			if _, err := cds.NewAlertManager(cds.SeedSuppressionRules(), nil, logger, cds.ManagerOptions{}); err != nil {
				return fmt.Errorf("suppression rules: %w", err)
			}

			fmt.Printf("ok: %d interactions, %d dosing rules, %d guidelines, %d cross-reactivity rules, %d suppression rules\n",
				idx.Size(),
				len(cds.SeedAgeDosingRules()),
				len(cds.SeedDiagnosisGuidelines()),
				len(cds.SeedCrossReactivityRules()),
				len(cds.SeedSuppressionRules()))
			return nil
		},
	})

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// The database is optional: without one the service runs fully in
	// memory with seed rule tables and log-only audit.
	var (
		pool      *pgxpool.Pool
		alertRepo cds.AlertRepository
		auditSink cds.AuditSink = audit.NewZerologSink(logger)

		interactions = cds.SeedInteractions()
		suppression  = cds.SeedSuppressionRules()
	)
	if cfg.DatabaseURL != "" {
		p, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
		logger.Info().Msg("connected to database")

		if err := cds.EnsureSchema(ctx, p); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure schema")
		}
		pgAudit := audit.NewPGSink(p)
		if err := pgAudit.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure audit schema")
		}
		auditSink = audit.Fanout{audit.NewZerologSink(logger), pgAudit}
		alertRepo = cds.NewAlertRepoPG(p)

		rules := cds.NewRuleRepoPG(p)
		if loaded, err := rules.LoadInteractions(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to load interaction catalog")
		} else if len(loaded) > 0 {
			interactions = loaded
		}
		if loaded, err := rules.LoadSuppressionRules(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to load suppression rules")
		} else if len(loaded) > 0 {
			suppression = loaded
		}
	}

	idx, err := cds.NewInteractionIndex(interactions)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid interaction catalog")
	}
	dosing, err := cds.NewAgeDosingChecker(cds.SeedAgeDosingRules(), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid age dosing table")
	}
	guidelines, err := cds.NewDiagnosisAlertGenerator(cds.SeedDiagnosisGuidelines())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid guideline table")
	}
	manager, err := cds.NewAlertManager(suppression, auditSink, logger, cds.ManagerOptions{
		HistoryCap:      cfg.AlertHistoryCap,
		OverrideRateMin: cfg.OverrideRateMin,
		OverrideSamples: cfg.OverrideSamples,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid suppression rules")
	}
	defer manager.Close()

	svc := cds.NewService(
		cds.NewDrugInteractionChecker(idx),
		cds.NewDrugAllergyChecker(cds.SeedCrossReactivityRules()),
		dosing,
		guidelines,
		manager,
		alertRepo,
		logger,
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	apiV1 := e.Group("/api/v1")
	cds.NewHandler(svc).RegisterRoutes(apiV1)

	// Background sweep for expired alerts
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := svc.SweepExpiredAlerts(sweepCtx); n > 0 {
					logger.Info().Int("expired", n).Msg("expired alerts swept")
				}
			}
		}
	}()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("cds server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
