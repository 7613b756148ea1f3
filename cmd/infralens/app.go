package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/infralens/infralens/pkg/cache"
	cachesqlite "github.com/infralens/infralens/pkg/cache/sqlite"
	cachevalkey "github.com/infralens/infralens/pkg/cache/valkey"
	"github.com/infralens/infralens/pkg/config"
	"github.com/infralens/infralens/pkg/gemini"
	"github.com/infralens/infralens/pkg/logging"
	"github.com/infralens/infralens/pkg/metrics"
	"github.com/infralens/infralens/pkg/orchestrator"
	"github.com/infralens/infralens/pkg/prompt"
	"github.com/infralens/infralens/pkg/ratelimit"
	"github.com/infralens/infralens/pkg/retry"
	"github.com/infralens/infralens/pkg/tracker"
)

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", config.DefaultPath, "path to config file")
}

// loadConfig honours an explicit --config strictly and tolerates a missing
// default file.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, *slog.Logger, error) {
	explicit := cmd.Flags().Changed("config")
	cfg, err := config.LoadOrDefault(path, explicit)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// app is the wired dependency graph shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	tracker *tracker.SQLiteTracker
	orch    *orchestrator.Orchestrator
	closers []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore opens the durable cache store selected by cfg.
func openStore(cfg *config.Config) (cache.Store, io.Closer, error) {
	switch cfg.Cache.Backend {
	case "valkey":
		s, err := cachevalkey.New(cachevalkey.Config{
			Address:  cfg.Cache.Valkey.Address,
			Username: cfg.Cache.Valkey.Username,
			Password: cfg.Cache.Valkey.Password,
			DB:       cfg.Cache.Valkey.DB,
			TLS:      cfg.Cache.Valkey.TLS,
			Key:      cfg.Cache.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return cache.NewMemoryStore(), nopCloser{}, nil
	default:
		s, err := cachesqlite.New(cfg.DBPath, cfg.Cache.Key)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openCache loads the result cache from its durable store.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Recorder) (*cache.Cache, io.Closer, error) {
	store, closer, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init cache store: %w", err)
	}
	c := cache.New(ctx, store, cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxAge:     cfg.Cache.MaxAge,
	}, cache.WithLogger(logger), cache.WithMetrics(m))
	return c, closer, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if reg != nil {
		a.metrics = metrics.NewRecorder(reg)
	}

	if cfg.Cache.Enabled {
		c, closer, err := openCache(ctx, cfg, logger, a.metrics)
		if err != nil {
			return nil, err
		}
		a.cache = c
		a.closers = append(a.closers, closer)
	}

	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	a.tracker = tr
	a.closers = append(a.closers, tr)

	a.limiter = ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	}, nil)
	ctl := retry.New(retry.Config{
		MaxRetries:    cfg.Retry.MaxRetries,
		InitialDelay:  cfg.Retry.InitialDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
	}, a.limiter, retry.WithLogger(logger), retry.WithMetrics(a.metrics))

	prompts, err := prompt.NewBuilder(prompt.Config{
		AnalysisTemplate:      cfg.Prompt.AnalysisTemplate,
		VisualizationTemplate: cfg.Prompt.VisualizationTemplate,
		PrefixLength:          cfg.Prompt.PrefixLength,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	client := gemini.New(gemini.Config{
		BaseURL:           cfg.Provider.BaseURL,
		AnalysisModel:     cfg.Provider.AnalysisModel,
		ImageModel:        cfg.Provider.ImageModel,
		Temperature:       cfg.Provider.Temperature,
		MaxOutputTokens:   cfg.Provider.MaxOutputTokens,
		AspectRatio:       cfg.Provider.AspectRatio,
		SafetyFilterLevel: cfg.Provider.SafetyFilterLevel,
		RequestTimeout:    cfg.Provider.RequestTimeout,
	}, cfg.ResolveAPIKey, logger)

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Cache:         a.cache,
		Limiter:       a.limiter,
		Retry:         ctl,
		Analyzer:      client,
		Visualizer:    client,
		Prompts:       prompts,
		APIKey:        cfg.ResolveAPIKey,
		Ledger:        tr,
		AnalysisModel: cfg.Provider.AnalysisModel,
		ImageModel:    cfg.Provider.ImageModel,
		Logger:        logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if w := a.orch.ConfigWarning(); w != "" {
		logger.Warn(w)
	}
	return a, nil
}
