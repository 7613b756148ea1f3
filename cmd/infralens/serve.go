package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/infralens/infralens/pkg/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the InfraLens HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(cfg.Listen, a.orch, a.metrics, logger)
			logger.Info("starting infralens server", "config", configPath, "cache_backend", cfg.Cache.Backend, "cache_enabled", cfg.Cache.Enabled)
			return srv.ListenAndServe(ctx)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
