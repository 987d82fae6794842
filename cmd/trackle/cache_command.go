package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trackle/internal/featurecache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the feature cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newCacheStatsCommand(ctx))
	cmd.AddCommand(newCacheClearCommand(ctx))
	return cmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show feature cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache := featurecache.Open(cfg, nil)
			if cache == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "feature cache is disabled")
				return nil
			}
			defer cache.Close()

			stats := cache.Stats()
			rows := [][]string{
				{"Entries", fmt.Sprintf("%d", stats.Entries)},
				{"Total size", formatBytes(stats.TotalBytes)},
				{"Max size", formatBytes(stats.MaxBytes)},
				{"Cleanup threshold", formatBytes(stats.CleanupThreshold)},
				{"Hits", fmt.Sprintf("%d", stats.Hits)},
				{"Misses", fmt.Sprintf("%d", stats.Misses)},
				{"Evictions", fmt.Sprintf("%d", stats.Evictions)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached feature vector",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache := featurecache.Open(cfg, nil)
			if cache == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "feature cache is disabled")
				return nil
			}
			defer cache.Close()

			entries := cache.Len()
			if err := cache.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached vector(s)\n", entries)
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
