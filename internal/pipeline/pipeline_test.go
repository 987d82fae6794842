package pipeline_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"trackle/internal/config"
	"trackle/internal/featurecache"
	"trackle/internal/fingerprint"
	"trackle/internal/media"
	"trackle/internal/pipeline"
	"trackle/internal/queue"
	"trackle/internal/testsupport"
)

type fakeFetcher struct {
	payloads map[string][]byte
	failures map[string]error
	calls    atomic.Int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, src media.SourceDescriptor) ([]byte, error) {
	f.calls.Add(1)
	if err, ok := f.failures[src.URL]; ok {
		return nil, err
	}
	if data, ok := f.payloads[src.URL]; ok {
		return data, nil
	}
	return []byte("audio:" + src.URL), nil
}

// fakeDecoder reads the downloaded file and synthesizes a buffer from its
// content: "corrupt" fails the decode, "quiet" yields mostly silence,
// anything else a clean 2s tone.
type fakeDecoder struct {
	calls atomic.Int64
}

func (f *fakeDecoder) Decode(ctx context.Context, path string) (*media.Buffer, error) {
	f.calls.Add(1)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if strings.Contains(content, "corrupt") {
		return nil, fmt.Errorf("invalid frame header")
	}

	const rate = 8000
	samples := make([]float64, rate*2)
	if strings.Contains(content, "quiet") {
		for i := 0; i < rate/2; i++ {
			samples[i] = 0.6 * math.Sin(2*math.Pi*440*float64(i)/rate)
		}
	} else {
		for i := range samples {
			samples[i] = 0.6 * math.Sin(2*math.Pi*440*float64(i)/rate)
		}
	}
	return &media.Buffer{SampleRate: rate, Channels: 1, Samples: samples}, nil
}

type fakeEncoder struct {
	calls atomic.Int64
}

func (f *fakeEncoder) Encode(ctx context.Context, buf *media.Buffer, format string) ([]byte, error) {
	f.calls.Add(1)
	return []byte("standardized " + format), nil
}

type fakeExtractor struct {
	calls atomic.Int64
}

func (f *fakeExtractor) Extract(ctx context.Context, buf *media.Buffer, set media.FeatureSet) (media.Vector, error) {
	f.calls.Add(1)
	return media.Vector{"tempo": 120, "rms_energy_mean": 0.4}, nil
}

type instantSleeper struct{}

func (instantSleeper) Sleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestConfig(t *testing.T, urls ...string) *config.Config {
	t.Helper()
	playlists := make([]config.Playlist, 0, len(urls))
	for _, url := range urls {
		playlists = append(playlists, config.Playlist{URL: url, Genre: "electronic"})
	}
	cfg := testsupport.NewConfig(t, testsupport.WithPlaylists(playlists...))
	cfg.ValidationThresholds.MinQualityScore = 0.9
	cfg.ValidationThresholds.MinDuration = 1.0
	cfg.ValidationThresholds.MaxSilenceDuration = 0.5
	cfg.ValidationThresholds.MinDynamicRange = 1.0
	cfg.ValidationThresholds.MinBitrate = 0
	return cfg
}

func urls(n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, fmt.Sprintf("https://example.com/tracks/t%d", i))
	}
	return out
}

func newPipeline(cfg *config.Config, store *queue.Store, fetcher *fakeFetcher, decoder *fakeDecoder, encoder *fakeEncoder, extractor *fakeExtractor) *pipeline.Pipeline {
	return pipeline.New(cfg, store, pipeline.Deps{
		Fetcher:   fetcher,
		Decoder:   decoder,
		Encoder:   encoder,
		Extractor: extractor,
		Cache:     featurecache.Open(cfg, nil),
		Sleeper:   instantSleeper{},
	}, nil)
}

func TestExecuteEndToEndWithOneDecodeFailure(t *testing.T) {
	sources := urls(10)
	cfg := newTestConfig(t, sources...)
	cfg.Processing.MaxWorkers = 4
	store := testsupport.MustOpenStore(t, cfg)

	fetcher := &fakeFetcher{payloads: map[string][]byte{
		sources[2]: []byte("corrupt payload"),
	}}
	decoder := &fakeDecoder{}
	encoder := &fakeEncoder{}
	extractor := &fakeExtractor{}
	p := newPipeline(cfg, store, fetcher, decoder, encoder, extractor)

	report, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Completed != 9 || report.Failed != 1 {
		t.Fatalf("expected 9 completed / 1 failed, got %d / %d", report.Completed, report.Failed)
	}
	if !report.HasFailures() {
		t.Fatal("report must flag failures for the exit code")
	}

	// Every organized artifact is re-encoded to the configured format.
	if encoder.calls.Load() != 9 {
		t.Fatalf("expected 9 standardized artifacts, got %d encode calls", encoder.calls.Load())
	}

	// Every item ends terminal, results ordered by id.
	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, item := range items {
		if !queue.IsTerminalStatus(item.Status) {
			t.Fatalf("item %d left in %s", item.ID, item.Status)
		}
		if item.Status != queue.StatusCompleted {
			continue
		}
		data, readErr := os.ReadFile(item.OutputPath)
		if readErr != nil || string(data) != "standardized wav" {
			t.Fatalf("item %d output not standardized: %q %v", item.ID, data, readErr)
		}
	}
	for i := 1; i < len(report.Items); i++ {
		if report.Items[i].ID <= report.Items[i-1].ID {
			t.Fatal("report items must be ordered by id")
		}
	}

	var failed *pipeline.ItemResult
	for i := range report.Items {
		if report.Items[i].Status == string(queue.StatusFailed) {
			failed = &report.Items[i]
		}
	}
	if failed == nil || failed.ReasonCode != "DecodeError" {
		t.Fatalf("expected one DecodeError failure, got %+v", failed)
	}

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, pipeline.ReportFileName)); err != nil {
		t.Fatalf("run report not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.DatasetDir, "dataset_info.json")); err != nil {
		t.Fatalf("dataset manifest not written: %v", err)
	}
}

func TestExecuteSkipFeaturesNeverCallsExtractor(t *testing.T) {
	cfg := newTestConfig(t, urls(4)...)
	store := testsupport.MustOpenStore(t, cfg)

	fetcher := &fakeFetcher{}
	decoder := &fakeDecoder{}
	extractor := &fakeExtractor{}
	p := newPipeline(cfg, store, fetcher, decoder, &fakeEncoder{}, extractor)
	if err := p.SetSkip([]string{"features"}); err != nil {
		t.Fatalf("SetSkip: %v", err)
	}

	report, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if extractor.calls.Load() != 0 {
		t.Fatalf("extractor must not run, got %d calls", extractor.calls.Load())
	}
	if report.Completed != 4 {
		t.Fatalf("skipped stage must not block completion, got %d completed", report.Completed)
	}
	for _, stage := range report.Stages {
		if stage.Name == pipeline.StageFeatures && stage.Skipped != 4 {
			t.Fatalf("expected 4 skipped in features stage, got %+v", stage)
		}
	}
}

func TestExecuteCachesIdenticalContent(t *testing.T) {
	sources := urls(2)
	cfg := newTestConfig(t, sources...)
	cfg.Processing.ParallelProcessing = false
	cfg.Processing.MaxWorkers = 1
	store := testsupport.MustOpenStore(t, cfg)

	// Both URLs resolve to the same bytes, so the second item shares the
	// first item's fingerprint.
	same := []byte("identical audio payload")
	fetcher := &fakeFetcher{payloads: map[string][]byte{sources[0]: same, sources[1]: same}}
	decoder := &fakeDecoder{}
	extractor := &fakeExtractor{}
	p := newPipeline(cfg, store, fetcher, decoder, &fakeEncoder{}, extractor)

	report, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Completed != 2 {
		t.Fatalf("expected both items completed, got %d", report.Completed)
	}
	if extractor.calls.Load() != 1 {
		t.Fatalf("identical content must extract once, got %d calls", extractor.calls.Load())
	}

	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if items[0].CacheHit {
		t.Fatal("first item must be a cache miss")
	}
	if !items[1].CacheHit {
		t.Fatal("second item must be a cache hit")
	}
}

func TestExecuteQualityRejectionExcludesLaterStages(t *testing.T) {
	sources := urls(3)
	cfg := newTestConfig(t, sources...)
	store := testsupport.MustOpenStore(t, cfg)

	fetcher := &fakeFetcher{payloads: map[string][]byte{
		sources[1]: []byte("quiet payload"),
	}}
	decoder := &fakeDecoder{}
	extractor := &fakeExtractor{}
	p := newPipeline(cfg, store, fetcher, decoder, &fakeEncoder{}, extractor)

	report, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Completed != 2 || report.Failed != 1 {
		t.Fatalf("expected 2 completed / 1 failed, got %d / %d", report.Completed, report.Failed)
	}
	if extractor.calls.Load() != 2 {
		t.Fatalf("rejected audio must not reach extraction, got %d calls", extractor.calls.Load())
	}

	rejected, err := store.GetByID(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rejected.ReasonCode != "QualityRejected" {
		t.Fatalf("expected QualityRejected, got %q", rejected.ReasonCode)
	}
	if rejected.QualityScore == nil {
		t.Fatal("score must be recorded even on rejection")
	}
}

func TestExecuteResumesWithoutRepeatingFinishedStages(t *testing.T) {
	sources := urls(1)
	cfg := newTestConfig(t, sources...)
	store := testsupport.MustOpenStore(t, cfg)

	fetcher := &fakeFetcher{payloads: map[string][]byte{
		sources[0]: []byte("corrupt payload"),
	}}
	decoder := &fakeDecoder{}
	extractor := &fakeExtractor{}
	p := newPipeline(cfg, store, fetcher, decoder, &fakeEncoder{}, extractor)

	report, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected failure in first run, got %+v", report)
	}
	downloadsBefore := fetcher.calls.Load()

	// The source is fixed upstream; retry the failed item. The download
	// succeeded the first time and skip_existing keeps it, so the fetcher
	// runs no additional fetches beyond the modified-content check.
	if _, err := store.ResetFailed(context.Background()); err != nil {
		t.Fatalf("ResetFailed: %v", err)
	}
	item, err := store.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item.StageState(pipeline.StageDownload).Status != queue.StageSucceeded {
		t.Fatal("download stage must survive the reset")
	}

	// Replace the corrupt payload on disk with decodable content to emulate
	// the fixed source, keeping the fingerprint bookkeeping consistent.
	if err := os.WriteFile(item.LocalPath, []byte("clean payload"), 0o644); err != nil {
		t.Fatalf("fix payload: %v", err)
	}
	item.Fingerprint = fingerprint.Bytes([]byte("clean payload"))
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	report, err = p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute (resume): %v", err)
	}
	if report.Completed != 1 || report.Failed != 0 {
		t.Fatalf("expected clean completion on resume, got %+v", report)
	}
	if fetcher.calls.Load() != downloadsBefore {
		t.Fatalf("finished download stage must not rerun, fetch calls went %d -> %d",
			downloadsBefore, fetcher.calls.Load())
	}

	for _, stage := range report.Stages {
		if stage.Name == pipeline.StageDownload && stage.Attempted != 0 {
			t.Fatalf("download stage should have no eligible items on resume: %+v", stage)
		}
	}
}

func TestSetSkipRejectsUnknownStage(t *testing.T) {
	cfg := newTestConfig(t, urls(1)...)
	store := testsupport.MustOpenStore(t, cfg)
	p := newPipeline(cfg, store, &fakeFetcher{}, &fakeDecoder{}, &fakeEncoder{}, &fakeExtractor{})

	if err := p.SetSkip([]string{"organize"}); err == nil {
		t.Fatal("organize must not be skippable")
	}
	if err := p.SetSkip([]string{"quality", "download"}); err != nil {
		t.Fatalf("valid skip names rejected: %v", err)
	}
	if !p.Skipped(pipeline.StageQuality) || !p.Skipped(pipeline.StageDownload) {
		t.Fatal("skip set not applied")
	}
}

func TestExecuteCancellationPersistsProgress(t *testing.T) {
	sources := urls(3)
	cfg := newTestConfig(t, sources...)
	cfg.Processing.ParallelProcessing = false
	cfg.Processing.MaxWorkers = 1
	store := testsupport.MustOpenStore(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &cancellingFetcher{inner: &fakeFetcher{}, cancel: cancel}
	p := pipeline.New(cfg, store, pipeline.Deps{
		Fetcher:   fetcher,
		Decoder:   &fakeDecoder{},
		Encoder:   &fakeEncoder{},
		Extractor: &fakeExtractor{},
		Cache:     featurecache.Open(cfg, nil),
		Sleeper:   instantSleeper{},
	}, nil)

	report, err := p.Execute(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if report == nil || !report.Cancelled {
		t.Fatalf("report must mark cancellation: %+v", report)
	}

	// Progress so far must be persisted for resumption.
	items, listErr := store.List(context.Background())
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 seeded items, got %d", len(items))
	}
	if items[0].StageState(pipeline.StageDownload).Status != queue.StageSucceeded {
		t.Fatal("first item's finished download must be persisted")
	}
}

type cancellingFetcher struct {
	inner  *fakeFetcher
	cancel context.CancelFunc
	calls  atomic.Int64
}

func (c *cancellingFetcher) Fetch(ctx context.Context, src media.SourceDescriptor) ([]byte, error) {
	n := c.calls.Add(1)
	data, err := c.inner.Fetch(ctx, src)
	if n == 1 {
		c.cancel()
	}
	return data, err
}
