package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trackle/internal/logging"
	"trackle/internal/queue"
	"trackle/internal/services"
)

// Fn processes a single item for one stage.
type Fn func(ctx context.Context, item *queue.Item) error

// Options controls stage execution across a set of items.
type Options struct {
	StageName  string
	Fn         Fn
	Items      []*queue.Item
	Workers    int
	RetryCount int
	RetryDelay time.Duration
	BatchSize  int
	Sleeper    Sleeper
	Logger     *slog.Logger
}

// Outcome records how one item fared: the terminal error after retries (nil
// on success) and how many attempts were spent.
type Outcome struct {
	Item     *queue.Item
	Err      error
	Attempts int
}

// Run executes the stage function for every item using a bounded worker
// pool. Each item is attempted up to RetryCount+1 times with a fixed delay
// between attempts; only errors classified as retryable are retried. When the
// context is cancelled no new items start, in-flight items finish, and Run
// returns the outcomes collected so far alongside the context error. Outcomes
// are always ordered by item identifier.
func Run(ctx context.Context, opts Options) ([]Outcome, error) {
	if opts.Fn == nil {
		return nil, fmt.Errorf("stage function unavailable: %s", opts.StageName)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = len(opts.Items)
		if batchSize < 1 {
			batchSize = 1
		}
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	stageCtx := services.WithStage(ctx, opts.StageName)
	stageLogger := logging.WithContext(stageCtx, logger)

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)

	for start := 0; start < len(opts.Items); start += batchSize {
		if err := stageCtx.Err(); err != nil {
			sortOutcomes(outcomes)
			return outcomes, err
		}

		end := start + batchSize
		if end > len(opts.Items) {
			end = len(opts.Items)
		}
		batch := opts.Items[start:end]

		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for _, item := range batch {
			if stageCtx.Err() != nil {
				break
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(item *queue.Item) {
				defer wg.Done()
				defer func() { <-sem }()
				outcome := runItem(stageCtx, stageLogger, opts, sleeper, item)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}(item)
		}
		wg.Wait()
	}

	sortOutcomes(outcomes)
	return outcomes, stageCtx.Err()
}

func runItem(ctx context.Context, logger *slog.Logger, opts Options, sleeper Sleeper, item *queue.Item) Outcome {
	itemCtx := services.WithItemID(ctx, item.ID)
	itemLogger := logger.With(logging.Int64(logging.FieldItemID, item.ID))

	maxAttempts := opts.RetryCount + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = attemptItem(itemCtx, opts.Fn, item)
		if lastErr == nil {
			return Outcome{Item: item, Attempts: attempt}
		}
		if !services.Retryable(lastErr) || attempt == maxAttempts {
			itemLogger.Error("stage attempt failed terminally",
				logging.String(logging.FieldEventType, "stage_item_failure"),
				logging.Int("attempt", attempt),
				logging.String("reason_code", services.ReasonCode(lastErr)),
				logging.Error(lastErr),
			)
			return Outcome{Item: item, Err: lastErr, Attempts: attempt}
		}
		itemLogger.Warn("stage attempt failed; retrying",
			logging.String(logging.FieldEventType, "stage_item_retry"),
			logging.Int("attempt", attempt),
			logging.Duration("retry_delay", opts.RetryDelay),
			logging.Error(lastErr),
		)
		if err := sleeper.Sleep(itemCtx, opts.RetryDelay); err != nil {
			return Outcome{Item: item, Err: lastErr, Attempts: attempt}
		}
	}
	return Outcome{Item: item, Err: lastErr, Attempts: maxAttempts}
}

// attemptItem confines a panic in the stage function to the one item that
// raised it.
func attemptItem(ctx context.Context, fn Fn, item *queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return fn(ctx, item)
}

func sortOutcomes(outcomes []Outcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Item.ID < outcomes[j].Item.ID
	})
}
