package config

// Default returns the configuration defaults applied before file values.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadsDir: "downloads",
			DatasetDir:   "dataset",
			FeaturesDir:  "features",
			TempDir:      "temp",
			LogDir:       "logs",
		},
		DownloadSettings: DownloadSettings{
			SkipExisting:  true,
			CheckModified: true,
			AudioFormat:   "bestaudio",
			AudioCodec:    "mp3",
			AudioQuality:  "320k",
		},
		AudioSettings: AudioSettings{
			SampleRate: 44100,
			Channels:   2,
			TargetLUFS: -14.0,
			Format:     "wav",
		},
		Processing: Processing{
			ParallelProcessing: true,
			MaxWorkers:         4,
			BatchSize:          50,
			RetryCount:         3,
			RetryDelaySeconds:  5,
		},
		ValidationThresholds: ValidationThresholds{
			MinQualityScore:    0.7,
			MinDuration:        60.0,
			MinBitrate:         128_000,
			MaxSilenceDuration: 5.0,
			MinDynamicRange:    10.0,
			MaxClippingRatio:   0.01,
		},
		Output: Output{
			ByGenre:        true,
			BySubgenre:     true,
			MetadataFormat: "json",
			SkipExisting:   true,
		},
		FeatureExtraction: FeatureExtraction{
			FeatureSet: "standard-v1",
			FrameSize:  0.05,
			Features:   []string{"tempo", "mfcc", "chroma", "spectral"},
		},
		Cache: Cache{
			Enabled:          true,
			Location:         "cache",
			MaxSize:          512 * 1024 * 1024,
			CleanupThreshold: 384 * 1024 * 1024,
			FeatureCacheTTL:  7 * 24 * 60 * 60,
		},
		Logging: Logging{
			Format: "auto",
			Level:  "info",
		},
	}
}
