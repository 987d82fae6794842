// Package testsupport provides shared constructors for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"trackle/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.ProjectDir = base
	cfgVal.Paths.DownloadsDir = filepath.Join(base, "downloads")
	cfgVal.Paths.DatasetDir = filepath.Join(base, "dataset")
	cfgVal.Paths.FeaturesDir = filepath.Join(base, "features")
	cfgVal.Paths.TempDir = filepath.Join(base, "temp")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Cache.Location = filepath.Join(base, "cache")
	cfgVal.DownloadSettings.Playlists = []config.Playlist{
		{URL: "https://example.com/playlists/test", Genre: "electronic"},
	}
	cfgVal.Processing.RetryDelaySeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPlaylists replaces the playlist list on the test config.
func WithPlaylists(playlists ...config.Playlist) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.DownloadSettings.Playlists = playlists
	}
}

// WithWorkers sets the worker pool size on the test config.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processing.ParallelProcessing = workers > 1
		b.cfg.Processing.MaxWorkers = workers
	}
}

// WithCacheDisabled turns the feature cache off on the test config.
func WithCacheDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Enabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.ProjectDir
}
