package config

import (
	"fmt"
	"strings"

	"trackle/internal/services"
)

// Validate ensures the configuration is usable. Every error is tagged as a
// configuration error so callers abort before any stage runs.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDownloads(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return nil
}

func configErr(format string, args ...any) error {
	return services.Wrap(services.ErrConfiguration, "", "", fmt.Sprintf(format, args...), nil)
}

func (c *Config) validatePaths() error {
	required := map[string]string{
		"paths.downloads_dir": c.Paths.DownloadsDir,
		"paths.dataset_dir":   c.Paths.DatasetDir,
		"paths.features_dir":  c.Paths.FeaturesDir,
		"paths.temp_dir":      c.Paths.TempDir,
		"paths.log_dir":       c.Paths.LogDir,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return configErr("%s must be set", key)
		}
	}
	return nil
}

func (c *Config) validateDownloads() error {
	if len(c.DownloadSettings.Playlists) == 0 {
		return configErr("download_settings.playlists must list at least one playlist")
	}
	for i, playlist := range c.DownloadSettings.Playlists {
		if strings.TrimSpace(playlist.URL) == "" {
			return configErr("download_settings.playlists[%d].url must be set", i)
		}
		if strings.TrimSpace(playlist.Genre) == "" {
			return configErr("download_settings.playlists[%d].genre must be set", i)
		}
	}
	if strings.TrimSpace(c.DownloadSettings.AudioCodec) == "" {
		return configErr("download_settings.audio_codec must be set")
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if c.Processing.MaxWorkers <= 0 {
		return configErr("processing.max_workers must be positive")
	}
	if c.Processing.BatchSize <= 0 {
		return configErr("processing.batch_size must be positive")
	}
	if c.Processing.RetryCount < 0 {
		return configErr("processing.retry_count must not be negative")
	}
	if c.Processing.RetryDelaySeconds < 0 {
		return configErr("processing.retry_delay must not be negative")
	}
	return nil
}

func (c *Config) validateThresholds() error {
	th := c.ValidationThresholds
	if th.MinQualityScore < 0 || th.MinQualityScore > 1 {
		return configErr("validation_thresholds.min_quality_score must be between 0 and 1")
	}
	if th.MaxClippingRatio < 0 || th.MaxClippingRatio > 1 {
		return configErr("validation_thresholds.max_clipping_ratio must be between 0 and 1")
	}
	if th.MinDuration < 0 {
		return configErr("validation_thresholds.min_duration must not be negative")
	}
	if th.MaxSilenceDuration < 0 {
		return configErr("validation_thresholds.max_silence_duration must not be negative")
	}
	w := th.Weights
	for key, value := range map[string]float64{
		"duration":      w.Duration,
		"silence":       w.Silence,
		"dynamic_range": w.DynamicRange,
		"clipping":      w.Clipping,
		"bitrate":       w.Bitrate,
	} {
		if value < 0 {
			return configErr("validation_thresholds.weights.%s must not be negative", key)
		}
	}
	return nil
}

func (c *Config) validateOutput() error {
	switch strings.ToLower(strings.TrimSpace(c.Output.MetadataFormat)) {
	case "json":
		return nil
	default:
		return configErr("output.metadata_format: unsupported value %q", c.Output.MetadataFormat)
	}
}

func (c *Config) validateCache() error {
	if !c.Cache.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Cache.Location) == "" {
		return configErr("cache.location must be set when cache.enabled is true")
	}
	if c.Cache.MaxSize <= 0 {
		return configErr("cache.max_size must be positive")
	}
	if c.Cache.CleanupThreshold <= 0 {
		return configErr("cache.cleanup_threshold must be positive")
	}
	if c.Cache.CleanupThreshold > c.Cache.MaxSize {
		return configErr("cache.cleanup_threshold must not exceed cache.max_size")
	}
	if c.Cache.FeatureCacheTTL < 0 {
		return configErr("cache.feature_cache_ttl must not be negative")
	}
	return nil
}
