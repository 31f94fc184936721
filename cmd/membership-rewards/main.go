// Package main запускает HTTP-сервер сервиса начисления баллов за членство.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/mycred-memberships/internal/config"
	"github.com/mmeshcher/mycred-memberships/internal/handler"
	"github.com/mmeshcher/mycred-memberships/internal/host"
	"github.com/mmeshcher/mycred-memberships/internal/logging"
	"github.com/mmeshcher/mycred-memberships/internal/metrics"
	"github.com/mmeshcher/mycred-memberships/internal/middleware"
	"github.com/mmeshcher/mycred-memberships/internal/preferences"
	"github.com/mmeshcher/mycred-memberships/internal/repository"
	"github.com/mmeshcher/mycred-memberships/internal/rules"
	"github.com/mmeshcher/mycred-memberships/internal/service"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var planSource service.PlanSource
	if cfg.HostSystemAddress != "" {
		hostClient := host.NewClient(cfg.HostSystemAddress)

		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := hostClient.CheckDependencies(checkCtx)
		cancel()
		if err != nil {
			sugar.Fatalw("host system dependency check failed", "error", err.Error())
		}

		planSource = hostClient
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, cfg.PointType)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	m := metrics.New()
	renderer := rules.NewTemplateRenderer(rules.PointLabels{
		Singular: cfg.PointSingular,
		Plural:   cfg.PointPlural,
	}, cfg.Language)

	svc, err := service.NewService(ctx, repo, planSource, service.Options{
		PointType: cfg.PointType,
		Renderer:  renderer,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		repo.Close()
		sugar.Fatalw("service initialization error", "error", err.Error())
	}
	defer svc.Close()

	if cfg.PreferencesFile != "" {
		if err := seed(ctx, svc, cfg.PreferencesFile); err != nil {
			sugar.Fatalw("preferences seed error", "error", err.Error(), "file", cfg.PreferencesFile)
		}
		sugar.Infow("preferences seeded", "file", cfg.PreferencesFile)
	}

	signature := middleware.NewSignatureMiddleware(cfg.WebhookSecret)
	if cfg.WebhookSecret == "" {
		sugar.Warn("webhook secret is not set, signed endpoints will reject all requests")
	}

	h := handler.NewHandler(svc, logger, signature, m)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.StartPlanSync(ctx, cfg.PlanSyncInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting membership rewards server", "addr", cfg.RunAddress, "pointType", cfg.PointType)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// seed загружает планы и настройки из YAML-файла. Планы применяются первыми,
// чтобы настройки могли ссылаться на их ключи.
func seed(ctx context.Context, svc *service.Service, path string) error {
	s, err := preferences.LoadFile(path)
	if err != nil {
		return err
	}

	if len(s.Plans) > 0 {
		if err := svc.SyncPlans(ctx, s.Plans); err != nil {
			return fmt.Errorf("seed plans: %w", err)
		}
	}

	if len(s.Preferences) > 0 {
		if _, err := svc.SavePreferences(ctx, s.Preferences); err != nil {
			return fmt.Errorf("seed preferences: %w", err)
		}
	}

	return nil
}
