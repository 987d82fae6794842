// Package features computes feature vectors for validated tracks, consulting
// the content-addressed cache before invoking the extractor.
package features

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"trackle/internal/config"
	"trackle/internal/featurecache"
	"trackle/internal/logging"
	"trackle/internal/media"
	"trackle/internal/queue"
	"trackle/internal/services"
)

// Stage extracts features for one item.
type Stage struct {
	cfg       *config.Config
	decoder   media.Decoder
	extractor media.Extractor
	cache     *featurecache.Cache
	logger    *slog.Logger
}

// New builds the features stage. A nil cache disables caching entirely.
func New(cfg *config.Config, decoder media.Decoder, extractor media.Extractor, cache *featurecache.Cache, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:       cfg,
		decoder:   decoder,
		extractor: extractor,
		cache:     cache,
		logger:    logging.NewComponentLogger(logger, "features"),
	}
}

// FeatureSet returns the configured feature set.
func (s *Stage) FeatureSet() media.FeatureSet {
	return media.FeatureSet{
		Name:      s.cfg.FeatureExtraction.FeatureSet,
		Features:  s.cfg.FeatureExtraction.Features,
		FrameSize: s.cfg.FeatureExtraction.FrameSize,
	}
}

// Process produces the item's feature vector: cache hit by (fingerprint,
// descriptor) when available, extractor call otherwise. The vector is written
// under the features directory and referenced from the item. Cache failures
// only ever cost a recomputation.
func (s *Stage) Process(ctx context.Context, item *queue.Item) error {
	if item.Fingerprint == "" {
		return services.Wrap(services.ErrDecode, "features", "extract", "item has no fingerprint", nil)
	}

	set := s.FeatureSet()
	descriptor := set.Descriptor()

	if vector, ok := s.cache.Get(item.Fingerprint, descriptor); ok {
		item.CacheHit = true
		return s.store(item, descriptor, vector)
	}
	item.CacheHit = false

	buf, err := s.decoder.Decode(ctx, item.LocalPath)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return services.Wrap(services.ErrDecode, "features", "decode", "decode audio", err)
	}

	vector, err := s.extractor.Extract(ctx, buf, set)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return services.Wrap(services.ErrDecode, "features", "extract", "extract features", err)
	}

	if err := s.cache.Put(item.Fingerprint, descriptor, vector); err != nil {
		// Degrade: the cache is an optimization, never a failure source.
		s.logger.Warn("feature cache put failed",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.Error(services.Wrap(services.ErrCacheUnavailable, "features", "cache_put", "store vector", err)),
		)
	}

	return s.store(item, descriptor, vector)
}

// store writes the vector under the features directory and records the
// reference on the item.
func (s *Stage) store(item *queue.Item, descriptor string, vector media.Vector) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return services.Wrap(services.ErrDecode, "features", "encode", "encode vector", err)
	}

	name := item.Fingerprint
	if len(name) > 32 {
		name = name[:32]
	}
	dest := filepath.Join(s.cfg.Paths.FeaturesDir, fmt.Sprintf("%s-%d.json", name, item.ID))
	if err := writeFileAtomic(dest, data); err != nil {
		return services.Wrap(services.ErrDecode, "features", "write", "write vector", err)
	}

	item.FeatureRef = dest
	return nil
}

func writeFileAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".features-*")
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
	return os.Rename(tmp.Name(), dest)
}
