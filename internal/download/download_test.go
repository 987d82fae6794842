package download_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"trackle/internal/download"
	"trackle/internal/media"
	"trackle/internal/queue"
	"trackle/internal/services"
	"trackle/internal/testsupport"
)

type fakeFetcher struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, src media.SourceDescriptor) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func TestProcessFetchesAndFingerprints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fetcher := &fakeFetcher{data: []byte("audio-bytes")}
	stage := download.New(cfg, fetcher, nil)

	item := &queue.Item{ID: 1, SourceURL: "https://example.com/tracks/sunrise.mp3", Genre: "house"}
	if err := stage.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.LocalPath == "" || item.Fingerprint == "" {
		t.Fatalf("expected path and fingerprint, got %+v", item)
	}
	data, err := os.ReadFile(item.LocalPath)
	if err != nil || string(data) != "audio-bytes" {
		t.Fatalf("download not written: %v", err)
	}
	if filepath.Dir(item.LocalPath) != filepath.Join(cfg.Paths.DownloadsDir, "house") {
		t.Fatalf("unexpected destination dir: %s", item.LocalPath)
	}
	if item.Title != "sunrise" {
		t.Fatalf("expected title derived from url, got %q", item.Title)
	}
}

func TestProcessSkipsExistingDownload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.DownloadSettings.SkipExisting = true
	cfg.DownloadSettings.CheckModified = false

	existing := filepath.Join(t.TempDir(), "track.mp3")
	if err := os.WriteFile(existing, []byte("already here"), 0o644); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	fetcher := &fakeFetcher{data: []byte("fresh")}
	stage := download.New(cfg, fetcher, nil)
	item := &queue.Item{ID: 1, SourceURL: "https://example.com/t1", LocalPath: existing}

	if err := stage.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetcher should not be called, got %d calls", fetcher.calls)
	}
}

func TestProcessRefetchesModifiedSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.DownloadSettings.SkipExisting = true
	cfg.DownloadSettings.CheckModified = true

	existing := filepath.Join(t.TempDir(), "track.mp3")
	if err := os.WriteFile(existing, []byte("old content"), 0o644); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	fetcher := &fakeFetcher{data: []byte("new content")}
	stage := download.New(cfg, fetcher, nil)
	item := &queue.Item{
		ID:          1,
		SourceURL:   "https://example.com/t1",
		LocalPath:   existing,
		Fingerprint: "stale-fingerprint",
	}

	if err := stage.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("modified source must be refetched, got %d calls", fetcher.calls)
	}
	data, err := os.ReadFile(item.LocalPath)
	if err != nil || string(data) != "new content" {
		t.Fatalf("refetched content not written: %v", err)
	}
}

func TestProcessWrapsFetchErrorsAsTransient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fetcher := &fakeFetcher{err: errors.New("connection reset")}
	stage := download.New(cfg, fetcher, nil)

	err := stage.Process(context.Background(), &queue.Item{ID: 1, SourceURL: "https://example.com/t1"})
	if !errors.Is(err, services.ErrTransientFetch) {
		t.Fatalf("expected transient fetch error, got %v", err)
	}
	if !services.Retryable(err) {
		t.Fatal("fetch failures must be retryable")
	}
}

func TestProcessRejectsEmptyPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stage := download.New(cfg, &fakeFetcher{}, nil)

	err := stage.Process(context.Background(), &queue.Item{ID: 1, SourceURL: "https://example.com/t1"})
	if !errors.Is(err, services.ErrDecode) {
		t.Fatalf("expected terminal decode error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("empty payload is not retryable")
	}
}
