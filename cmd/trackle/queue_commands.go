package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trackle/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the pipeline item store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline items",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []queue.Status
			if statusFilter != "" {
				status, ok := queue.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				statuses = append(statuses, status)
			}

			items, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				score := "-"
				if item.QualityScore != nil {
					score = fmt.Sprintf("%.2f", *item.QualityScore)
				}
				title := item.Title
				if title == "" {
					title = item.SourceURL
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", item.ID),
					string(item.Status),
					item.Genre,
					title,
					score,
					item.ReasonCode,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Status", "Genre", "Track", "Score", "Reason"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show items with this status")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return failed items to pending for the next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.ResetFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed item(s)\n", count)
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var onlyFailed, onlyCompleted bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove items from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var (
				count int64
				noun  = "item(s)"
			)
			switch {
			case onlyFailed && onlyCompleted:
				return fmt.Errorf("choose at most one of --failed and --completed")
			case onlyFailed:
				count, err = store.ClearFailed(cmd.Context())
				noun = "failed item(s)"
			case onlyCompleted:
				count, err = store.ClearCompleted(cmd.Context())
				noun = "completed item(s)"
			default:
				count, err = store.Clear(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d %s\n", count, noun)
			return nil
		},
	}

	cmd.Flags().BoolVar(&onlyFailed, "failed", false, "Only remove failed items")
	cmd.Flags().BoolVar(&onlyCompleted, "completed", false, "Only remove completed items")
	return cmd
}
