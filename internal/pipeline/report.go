package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"trackle/internal/queue"
)

// ReportFileName is the run report written under the log directory.
const ReportFileName = "pipeline_stats.json"

// stageStats collects per-stage counters. Worker goroutines bump attempted
// concurrently, so all mutation goes through atomics.
type stageStats struct {
	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// StageReport is the per-stage summary in the run report.
type StageReport struct {
	Name      string `json:"name"`
	Attempted int64  `json:"attempted"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
	Skipped   int64  `json:"skipped"`
}

// ItemResult summarizes one item's final state, ordered by item id.
type ItemResult struct {
	ID         int64  `json:"id"`
	SourceURL  string `json:"source_url"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Error      string `json:"error,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	CacheHit   bool   `json:"feature_cache_hit,omitempty"`
}

// Report is the run summary persisted as JSON at run end.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageReport `json:"stages"`
	Items      []ItemResult  `json:"items"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled,omitempty"`
}

// HasFailures reports whether any item ended failed; it drives the non-zero
// exit code.
func (r *Report) HasFailures() bool {
	return r != nil && r.Failed > 0
}

type reportBuilder struct {
	runID   string
	started time.Time
	order   []string
	stages  map[string]*stageStats
}

func newReportBuilder(runID string, started time.Time) *reportBuilder {
	b := &reportBuilder{
		runID:   runID,
		started: started,
		order:   StageOrder(),
		stages:  make(map[string]*stageStats),
	}
	for _, stage := range b.order {
		b.stages[stage] = &stageStats{}
	}
	return b
}

func (b *reportBuilder) stage(name string) *stageStats {
	return b.stages[name]
}

func (b *reportBuilder) finalize(items []*queue.Item, finished time.Time, cancelled bool) *Report {
	report := &Report{
		RunID:      b.runID,
		StartedAt:  b.started,
		FinishedAt: finished,
		Cancelled:  cancelled,
	}
	for _, stage := range b.order {
		stats := b.stages[stage]
		report.Stages = append(report.Stages, StageReport{
			Name:      stage,
			Attempted: stats.attempted.Load(),
			Succeeded: stats.succeeded.Load(),
			Failed:    stats.failed.Load(),
			Skipped:   stats.skipped.Load(),
		})
	}
	for _, item := range items {
		report.Items = append(report.Items, ItemResult{
			ID:         item.ID,
			SourceURL:  item.SourceURL,
			Title:      item.Title,
			Status:     string(item.Status),
			ReasonCode: item.ReasonCode,
			Error:      item.ErrorMessage,
			OutputPath: item.OutputPath,
			CacheHit:   item.CacheHit,
		})
		switch item.Status {
		case queue.StatusCompleted:
			report.Completed++
		case queue.StatusFailed:
			report.Failed++
		}
	}
	return report
}

// Write persists the report under dir as pipeline_stats.json.
func (r *Report) Write(dir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, ReportFileName)
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
