package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/server"
	"github.com/dytto-app/dytto/internal/service/analysis"
	"github.com/dytto-app/dytto/internal/service/insights"
	"github.com/dytto-app/dytto/internal/service/journal"
	"github.com/dytto-app/dytto/internal/service/leveling"
	"github.com/dytto-app/dytto/internal/service/patterns"
	"github.com/dytto-app/dytto/internal/service/quests"
	"github.com/dytto-app/dytto/internal/service/scoring"
	"github.com/dytto-app/dytto/internal/service/tree"
	"github.com/dytto-app/dytto/internal/storage"
	"github.com/dytto-app/dytto/internal/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("dytto starting", "version", version, "port", cfg.Port, "storage", cfg.StorageBackend)

	// Initialize OpenTelemetry before anything creates instruments.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Backend:     cfg.StorageBackend,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.store.Close(context.Background()) }()

	limiter := newLimiter(cfg, b, logger)
	defer func() { _ = limiter.Close() }()

	svc, err := buildServices(ctx, cfg, storage.NewRepository(b.store), logger)
	if err != nil {
		return err
	}

	srv := server.New(server.ServerConfig{
		Repo:                svc.repo,
		Journal:             svc.journal,
		Quests:              svc.quests,
		Insights:            svc.insights,
		Tree:                svc.tree,
		Levels:              svc.levels,
		Achievements:        cfg.Rules.Achievements,
		Logger:              logger,
		Limiter:             limiter,
		Backend:             cfg.StorageBackend,
		Analysis:            svc.client.ProviderName(),
		Version:             version,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("dytto shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("dytto stopped")
	return nil
}

// services is the wired service graph.
type services struct {
	repo     *storage.Repository
	client   *analysis.Client
	levels   *leveling.Table
	journal  *journal.Service
	quests   *quests.Service
	insights *insights.Aggregator
	tree     *tree.Service
}

func buildServices(ctx context.Context, cfg config.Config, repo *storage.Repository, logger *slog.Logger) (*services, error) {
	rules := cfg.Rules
	levels, err := leveling.New(rules.LevelThresholds, rules.LevelTitles)
	if err != nil {
		return nil, fmt.Errorf("leveling: %w", err)
	}

	client := analysis.NewClient(newProvider(ctx, cfg, logger), analysis.Options{
		Timeout: cfg.AnalysisTimeout,
		RPS:     cfg.AnalysisRPS,
		Burst:   cfg.AnalysisBurst,
	}, logger)

	analyzer := patterns.NewAnalyzer(client, rules.Evolution, logger)
	questSvc := quests.NewService(repo, quests.NewGenerator(rules.Quests), rules.Patterns, logger)
	scorer := scoring.New(client, levels, rules.XP, cfg.AnalyzerVersion, logger)

	return &services{
		repo:     repo,
		client:   client,
		levels:   levels,
		journal:  journal.New(repo, scorer, analyzer, questSvc, rules.Patterns, logger),
		quests:   questSvc,
		insights: insights.New(repo, analyzer, client, rules, logger),
		tree:     tree.New(repo, levels, analyzer, rules.Achievements),
	}, nil
}
