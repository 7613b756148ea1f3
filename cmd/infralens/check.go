package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infralens/infralens/pkg/orchestrator"
)

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and report missing credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Analysis model: %s\nImage model:    %s\nCache:          %s (enabled: %t)\nRate limit:     %d requests / %s\nRetries:        %d (initial %s, max %s, x%g)\n",
				cfg.Provider.AnalysisModel, cfg.Provider.ImageModel,
				cfg.Cache.Backend, cfg.Cache.Enabled,
				cfg.RateLimit.MaxRequests, cfg.RateLimit.Window,
				cfg.Retry.MaxRetries, cfg.Retry.InitialDelay, cfg.Retry.MaxDelay, cfg.Retry.BackoffFactor)

			if cfg.ResolveAPIKey() == "" {
				fmt.Fprintf(out, "\nWARNING: %s\n", orchestrator.MissingKeyWarning)
				return nil
			}
			fmt.Fprintln(out, "\nConfiguration OK.")
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
