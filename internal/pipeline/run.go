package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"trackle/internal/logging"
	"trackle/internal/queue"
	"trackle/internal/services"
	"trackle/internal/stageexec"
)

// Execute runs every stage in order over the item set. It seeds items from
// the configured playlists, resumes partially processed items, and writes the
// run report at the end. The returned report is non-nil even when the run was
// cancelled; the error reflects cancellation or infrastructure failure, never
// per-item failures.
func (p *Pipeline) Execute(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, p.logger)

	if err := p.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "prepare", "ensure directories", err)
	}
	if err := p.seed(ctx); err != nil {
		return nil, err
	}

	items, err := p.liveItems(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("pipeline run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("items", len(items)),
		logging.Int("workers", p.cfg.Processing.Workers()),
	)

	builder := newReportBuilder(runID, time.Now().UTC())
	var cancelled bool

	for _, stage := range stageOrder {
		if err := ctx.Err(); err != nil {
			cancelled = true
			break
		}
		if p.Skipped(stage) {
			p.skipStage(ctx, stage, items, builder.stage(stage))
			continue
		}
		if err := p.runStage(ctx, stage, items, builder.stage(stage), logger); err != nil {
			cancelled = true
			break
		}
	}

	if !cancelled {
		p.completeFinishedItems(ctx, items)
		if err := p.organizer.WriteManifest(items); err != nil {
			logger.Warn("failed to write dataset manifest", logging.Error(err))
		}
	}

	report := builder.finalize(items, time.Now().UTC(), cancelled)
	if err := report.Write(p.cfg.Paths.LogDir); err != nil {
		logger.Warn("failed to write run report", logging.Error(err))
	}

	logger.Info("pipeline run finished",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("completed", report.Completed),
		logging.Int("failed", report.Failed),
		logging.Bool("cancelled", cancelled),
	)

	if cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

// seed enqueues one item per configured playlist entry; existing entries are
// left untouched so re-runs are idempotent.
func (p *Pipeline) seed(ctx context.Context) error {
	for _, playlist := range p.cfg.DownloadSettings.Playlists {
		if strings.TrimSpace(playlist.URL) == "" {
			continue
		}
		if _, err := p.store.NewTrack(ctx, playlist.URL, playlist.Genre, playlist.Subgenre, playlist.Tags); err != nil {
			return fmt.Errorf("seed playlist %s: %w", playlist.URL, err)
		}
	}
	return nil
}

// liveItems loads every item that is not already terminal.
func (p *Pipeline) liveItems(ctx context.Context) ([]*queue.Item, error) {
	all, err := p.store.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make([]*queue.Item, 0, len(all))
	for _, item := range all {
		if queue.IsTerminalStatus(item.Status) {
			continue
		}
		live = append(live, item)
	}
	return live, nil
}

// runStage executes one stage over the eligible items and persists every
// outcome. The returned error is non-nil only on cancellation.
func (p *Pipeline) runStage(ctx context.Context, stage string, items []*queue.Item, stats *stageStats, logger *slog.Logger) error {
	eligible := make([]*queue.Item, 0, len(items))
	for _, item := range items {
		if item.Status == queue.StatusFailed {
			continue
		}
		if item.StageState(stage).Status == queue.StageSucceeded {
			continue
		}
		eligible = append(eligible, item)
	}
	stats.attempted.Add(int64(len(eligible)))

	processing, done := stageStatuses(stage)
	handler := p.handler(stage)

	fn := func(ctx context.Context, item *queue.Item) error {
		item.Status = processing
		item.SetStageState(stage, queue.StageState{Status: queue.StageRunning})
		if err := p.store.Update(ctx, item); err != nil {
			return fmt.Errorf("persist processing transition: %w", err)
		}
		if err := handler(ctx, item); err != nil {
			return err
		}
		item.Status = done
		return nil
	}

	outcomes, runErr := stageexec.Run(ctx, stageexec.Options{
		StageName:  stage,
		Fn:         fn,
		Items:      eligible,
		Workers:    p.cfg.Processing.Workers(),
		RetryCount: p.cfg.Processing.RetryCount,
		RetryDelay: p.cfg.Processing.RetryDelay(),
		BatchSize:  p.cfg.Processing.BatchSize,
		Sleeper:    p.deps.Sleeper,
		Logger:     p.logger,
	})

	for _, outcome := range outcomes {
		item := outcome.Item
		state := queue.StageState{Attempts: outcome.Attempts}
		if outcome.Err != nil {
			state.Status = queue.StageFailed
			state.Error = outcome.Err.Error()
			stats.failed.Add(1)
			item.SetFailed(outcome.Err.Error(), services.ReasonCode(outcome.Err))
		} else {
			state.Status = queue.StageSucceeded
			stats.succeeded.Add(1)
		}
		item.SetStageState(stage, state)
		if err := p.store.Update(ctx, item); err != nil {
			logger.Warn("failed to persist stage outcome", logging.Error(err))
		}
	}
	return runErr
}

// skipStage records a skipped state for every item the stage would have
// touched and leaves their payload untouched.
func (p *Pipeline) skipStage(ctx context.Context, stage string, items []*queue.Item, stats *stageStats) {
	for _, item := range items {
		if item.Status == queue.StatusFailed {
			continue
		}
		if item.StageState(stage).Status == queue.StageSucceeded {
			continue
		}
		item.SetStageState(stage, queue.StageState{Status: queue.StageSkipped})
		stats.skipped.Add(1)
		_ = p.store.Update(ctx, item)
	}
}

// completeFinishedItems moves every surviving item to completed once all
// stages are accounted for.
func (p *Pipeline) completeFinishedItems(ctx context.Context, items []*queue.Item) {
	for _, item := range items {
		if item.Status == queue.StatusFailed {
			continue
		}
		finished := true
		for _, stage := range stageOrder {
			state := item.StageState(stage).Status
			if state != queue.StageSucceeded && state != queue.StageSkipped {
				finished = false
				break
			}
		}
		if !finished {
			continue
		}
		item.Status = queue.StatusCompleted
		_ = p.store.Update(ctx, item)
	}
}

// handler maps a stage name to its per-item function.
func (p *Pipeline) handler(stage string) stageexec.Fn {
	switch stage {
	case StageDownload:
		return p.download.Process
	case StageQuality:
		return p.qualityCheck
	case StageMetadata:
		return p.metadata.Process
	case StageFeatures:
		return p.features.Process
	case StageOrganize:
		return p.organize
	default:
		return func(ctx context.Context, item *queue.Item) error {
			return fmt.Errorf("unknown stage %q", stage)
		}
	}
}

// qualityCheck decodes the downloaded file, scores it, and gates on
// min_quality_score. The score is recorded even when the item is rejected.
func (p *Pipeline) qualityCheck(ctx context.Context, item *queue.Item) error {
	buf, err := p.deps.Decoder.Decode(ctx, item.LocalPath)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return services.Wrap(services.ErrDecode, StageQuality, "decode", "decode audio", err)
	}

	report := p.validator.Evaluate(buf)
	score := report.Score
	item.QualityScore = &score

	if !report.Passed(p.cfg.ValidationThresholds.MinQualityScore) {
		msg := fmt.Sprintf("quality score %.2f below %.2f", report.Score, p.cfg.ValidationThresholds.MinQualityScore)
		if len(report.Violations) > 0 {
			msg += ": " + strings.Join(report.Violations, "; ")
		}
		return services.Wrap(services.ErrQualityRejected, StageQuality, "gate", msg, nil)
	}
	return nil
}

func (p *Pipeline) organize(ctx context.Context, item *queue.Item) error {
	_, err := p.organizer.Place(ctx, item)
	return err
}

// stageStatuses returns the in-flight and completed item statuses for a
// stage.
func stageStatuses(stage string) (queue.Status, queue.Status) {
	switch stage {
	case StageDownload:
		return queue.StatusDownloading, queue.StatusDownloaded
	case StageQuality:
		return queue.StatusValidating, queue.StatusValidated
	case StageMetadata:
		return queue.StatusExtractingMetadata, queue.StatusMetadataReady
	case StageFeatures:
		return queue.StatusExtractingFeatures, queue.StatusFeaturesReady
	case StageOrganize:
		return queue.StatusOrganizing, queue.StatusOrganizing
	default:
		return queue.StatusPending, queue.StatusPending
	}
}
