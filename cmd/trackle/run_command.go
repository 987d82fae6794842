package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"trackle/internal/featurecache"
	"trackle/internal/logging"
	"trackle/internal/media"
	"trackle/internal/pipeline"
	"trackle/internal/queue"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var skips []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dataset preparation pipeline",
		Long: `Run executes the full pipeline over the configured playlists:
download, quality check, metadata, feature extraction, and dataset
organization. Stages can be excluded with --skip; completed work is
never repeated on re-runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				OutputPaths: []string{
					"stdout",
					filepath.Join(cfg.Paths.LogDir, "trackle.log"),
				},
			})
			if err != nil {
				return err
			}

			// One run per project at a time; concurrent runs would race on
			// the item store and the dataset tree.
			lock := flock.New(filepath.Join(cfg.Paths.LogDir, "trackle.lock"))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire project lock: %w", err)
			}
			if !locked {
				return errors.New("another trackle run is already active for this project")
			}
			defer func() { _ = lock.Unlock() }()

			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			cache := featurecache.Open(cfg, logger)
			defer cache.Close()

			codec := media.NewFFmpegCodec(cfg.AudioSettings.SampleRate, cfg.AudioSettings.Channels)
			p := pipeline.New(cfg, store, pipeline.Deps{
				Fetcher:   media.NewYtDlpFetcher(cfg.DownloadSettings.AudioCodec, cfg.DownloadSettings.AudioQuality, cfg.Paths.TempDir),
				Decoder:   codec,
				Encoder:   codec,
				Extractor: media.BasicExtractor{},
				Cache:     cache,
			}, logger)
			if err := p.SetSkip(skips); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := p.Execute(runCtx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
			if report.HasFailures() {
				return fmt.Errorf("%d item(s) failed; see %s", report.Failed,
					filepath.Join(cfg.Paths.LogDir, pipeline.ReportFileName))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&skips, "skip", nil, "Stages to skip (download, quality, metadata, features)")
	return cmd
}

func renderReport(report *pipeline.Report) string {
	rows := make([][]string, 0, len(report.Stages))
	for _, stage := range report.Stages {
		rows = append(rows, []string{
			stage.Name,
			fmt.Sprintf("%d", stage.Attempted),
			fmt.Sprintf("%d", stage.Succeeded),
			fmt.Sprintf("%d", stage.Failed),
			fmt.Sprintf("%d", stage.Skipped),
		})
	}
	summary := renderTable(
		[]string{"Stage", "Attempted", "Succeeded", "Failed", "Skipped"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
	return fmt.Sprintf("%s\nCompleted: %d  Failed: %d", summary, report.Completed, report.Failed)
}
