package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout rooted at the project directory.
type Paths struct {
	DownloadsDir string `toml:"downloads_dir"`
	DatasetDir   string `toml:"dataset_dir"`
	FeaturesDir  string `toml:"features_dir"`
	TempDir      string `toml:"temp_dir"`
	LogDir       string `toml:"log_dir"`
}

// Playlist describes one external source of audio tracks.
type Playlist struct {
	URL      string   `toml:"url"`
	Genre    string   `toml:"genre"`
	Subgenre string   `toml:"subgenre"`
	Tags     []string `toml:"tags"`
}

// DownloadSettings contains configuration for the download stage.
type DownloadSettings struct {
	SkipExisting  bool       `toml:"skip_existing"`
	CheckModified bool       `toml:"check_modified"`
	AudioFormat   string     `toml:"audio_format"`
	AudioCodec    string     `toml:"audio_codec"`
	AudioQuality  string     `toml:"audio_quality"`
	Playlists     []Playlist `toml:"playlists"`
}

// AudioSettings contains decode/normalize targets handed to the media
// collaborators.
type AudioSettings struct {
	SampleRate int     `toml:"sample_rate"`
	Channels   int     `toml:"channels"`
	TargetLUFS float64 `toml:"target_lufs"`
	Format     string  `toml:"format"`
}

// Processing contains worker-pool and retry configuration.
type Processing struct {
	ParallelProcessing bool `toml:"parallel_processing"`
	MaxWorkers         int  `toml:"max_workers"`
	BatchSize          int  `toml:"batch_size"`
	RetryCount         int  `toml:"retry_count"`
	RetryDelaySeconds  int  `toml:"retry_delay"`
	UseGPU             bool `toml:"use_gpu"`
	KeepTempFiles      bool `toml:"keep_temp_files"`
}

// RetryDelay returns the configured fixed delay between retry attempts.
func (p Processing) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds) * time.Second
}

// Workers returns the effective worker count, honoring parallel_processing.
func (p Processing) Workers() int {
	if !p.ParallelProcessing {
		return 1
	}
	if p.MaxWorkers < 1 {
		return 1
	}
	return p.MaxWorkers
}

// Weights controls how quality sub-checks combine into one scalar score.
// Zero values fall back to equal weighting across enabled checks.
type Weights struct {
	Duration     float64 `toml:"duration"`
	Silence      float64 `toml:"silence"`
	DynamicRange float64 `toml:"dynamic_range"`
	Clipping     float64 `toml:"clipping"`
	Bitrate      float64 `toml:"bitrate"`
}

// ValidationThresholds contains the quality gate configuration.
type ValidationThresholds struct {
	MinQualityScore    float64  `toml:"min_quality_score"`
	MinDuration        float64  `toml:"min_duration"`
	MinBitrate         int      `toml:"min_bitrate"`
	MaxSilenceDuration float64  `toml:"max_silence_duration"`
	MinDynamicRange    float64  `toml:"min_dynamic_range"`
	MaxClippingRatio   float64  `toml:"max_clipping_ratio"`
	RequiredFeatures   []string `toml:"required_features"`
	Weights            Weights  `toml:"weights"`
}

// Output contains dataset layout configuration.
type Output struct {
	ByGenre           bool   `toml:"by_genre"`
	BySubgenre        bool   `toml:"by_subgenre"`
	OrganizeByQuality bool   `toml:"organize_by_quality"`
	MetadataFormat    string `toml:"metadata_format"`
	SkipExisting      bool   `toml:"skip_existing"`
}

// FeatureExtraction contains the feature-set descriptor handed to the
// extraction collaborator and the feature-cache key.
type FeatureExtraction struct {
	FeatureSet string   `toml:"feature_set"`
	FrameSize  float64  `toml:"frame_size"`
	Features   []string `toml:"features"`
}

// Cache contains feature-cache sizing and expiry configuration. Sizes are in
// bytes; the TTL is in seconds.
type Cache struct {
	Enabled          bool   `toml:"enabled"`
	Location         string `toml:"location"`
	MaxSize          int64  `toml:"max_size"`
	CleanupThreshold int64  `toml:"cleanup_threshold"`
	FeatureCacheTTL  int    `toml:"feature_cache_ttl"`
}

// TTL returns the per-entry time-to-live.
func (c Cache) TTL() time.Duration {
	return time.Duration(c.FeatureCacheTTL) * time.Second
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the pipeline.
//
// Sections by subsystem:
//   - Paths: directory layout under the project dir
//   - DownloadSettings: playlist sources and fetch behavior
//   - AudioSettings: decode/normalize targets for the media collaborators
//   - Processing: worker pool, batching, and retry policy
//   - ValidationThresholds: quality gate thresholds and score weights
//   - Output: dataset layout flags and metadata record format
//   - FeatureExtraction: feature-set descriptor for extraction and caching
//   - Cache: feature-cache location, sizing, and TTL
//   - Logging: log format and level
type Config struct {
	ProjectDir string `toml:"-"`

	Paths                Paths                `toml:"paths"`
	DownloadSettings     DownloadSettings     `toml:"download_settings"`
	AudioSettings        AudioSettings        `toml:"audio_settings"`
	Processing           Processing           `toml:"processing"`
	ValidationThresholds ValidationThresholds `toml:"validation_thresholds"`
	Output               Output               `toml:"output"`
	FeatureExtraction    FeatureExtraction    `toml:"feature_extraction"`
	Cache                Cache                `toml:"cache"`
	Logging              Logging              `toml:"logging"`
}

// Load parses and validates a configuration file. Relative directories are
// resolved against projectDir. Unknown keys in the file are ignored; missing
// required keys fail here, before any stage runs.
func Load(path, projectDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found at %s", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if projectDir == "" {
		projectDir = filepath.Dir(path)
	}
	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	cfg.ProjectDir = absProject
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths anchors relative directories at the project dir.
func (c *Config) resolvePaths() {
	resolve := func(dir string) string {
		dir = strings.TrimSpace(dir)
		if dir == "" || filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(c.ProjectDir, dir)
	}
	c.Paths.DownloadsDir = resolve(c.Paths.DownloadsDir)
	c.Paths.DatasetDir = resolve(c.Paths.DatasetDir)
	c.Paths.FeaturesDir = resolve(c.Paths.FeaturesDir)
	c.Paths.TempDir = resolve(c.Paths.TempDir)
	c.Paths.LogDir = resolve(c.Paths.LogDir)
	c.Cache.Location = resolve(c.Cache.Location)
}

// EnsureDirectories creates every configured directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DownloadsDir,
		c.Paths.DatasetDir,
		c.Paths.FeaturesDir,
		c.Paths.TempDir,
		c.Paths.LogDir,
	}
	if c.Cache.Enabled {
		dirs = append(dirs, c.Cache.Location)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to the given path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
