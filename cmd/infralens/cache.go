package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infralens/infralens/pkg/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the analysis result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			c, closer, err := openCache(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			stats := c.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend:  %s\nEntries:  %d / %d\nExpired:  %d\nMax age:  %s\n",
				cfg.Cache.Backend, stats.Entries, cfg.Cache.MaxEntries, stats.Expired, cfg.Cache.MaxAge)
			if !stats.OldestSeen.IsZero() {
				fmt.Fprintf(out, "Oldest:   %s\n", stats.OldestSeen.Format("2006-01-02T15:04:05"))
			}
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			c, closer, err := openCache(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			n, err := c.Clear(cmd.Context(), expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Fprintf(cmd.OutOrStdout(), "%d expired cache entries cleared.\n", n)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%d cache entries cleared.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
