// Package organizer places finished tracks into the dataset layout,
// standardizing each artifact to the configured audio format on the way, and
// writes the per-track provenance records and the dataset manifest.
package organizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"trackle/internal/config"
	"trackle/internal/logging"
	"trackle/internal/media"
	"trackle/internal/metadata"
	"trackle/internal/queue"
	"trackle/internal/services"
)

// Quality tiers used when output.organize_by_quality is set.
const (
	TierHigh    = "high_quality"
	TierMedium  = "medium_quality"
	TierLow     = "low_quality"
	TierUnrated = "unrated"
)

var titleCaser = cases.Title(language.English)

// Organizer computes dataset paths and moves artifacts into place. With a
// decoder and encoder wired, each placed artifact is standardized: decoded,
// loudness-normalized toward audio_settings.target_lufs, and re-encoded in
// audio_settings.format. Without them it falls back to a verbatim copy.
type Organizer struct {
	cfg     *config.Config
	decoder media.Decoder
	encoder media.Encoder
	logger  *slog.Logger
	now     func() time.Time
}

// New builds the organizer.
func New(cfg *config.Config, decoder media.Decoder, encoder media.Encoder, logger *slog.Logger) *Organizer {
	return &Organizer{
		cfg:     cfg,
		decoder: decoder,
		encoder: encoder,
		logger:  logging.NewComponentLogger(logger, "organizer"),
		now:     time.Now,
	}
}

// TierFor maps a quality score to its tier directory.
func TierFor(score *float64) string {
	switch {
	case score == nil:
		return TierUnrated
	case *score >= 0.8:
		return TierHigh
	case *score >= 0.5:
		return TierMedium
	default:
		return TierLow
	}
}

// TargetPath returns the deterministic output location for an item. The same
// item always maps to the same path.
func (o *Organizer) TargetPath(item *queue.Item) string {
	dir := o.cfg.Paths.DatasetDir
	if o.cfg.Output.OrganizeByQuality {
		dir = filepath.Join(dir, TierFor(item.QualityScore))
	}
	if o.cfg.Output.ByGenre && item.Genre != "" {
		dir = filepath.Join(dir, pathSegment(item.Genre))
	}
	if o.cfg.Output.BySubgenre && item.Subgenre != "" {
		dir = filepath.Join(dir, pathSegment(item.Subgenre))
	}
	name := filepath.Base(item.LocalPath)
	if format := o.cfg.AudioSettings.Format; format != "" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + "." + format
	}
	return filepath.Join(dir, name)
}

// Place writes the item's standardized artifact to its dataset location and
// the provenance record beside it. With skip_existing set an existing output
// is left untouched; otherwise it is replaced atomically so a concurrent
// reader never sees a partial file.
func (o *Organizer) Place(ctx context.Context, item *queue.Item) (string, error) {
	if item.LocalPath == "" {
		return "", services.Wrap(services.ErrDecode, "organize", "place", "item has no downloaded file", nil)
	}

	dest := o.TargetPath(item)
	if o.cfg.Output.SkipExisting {
		if _, err := os.Stat(dest); err == nil {
			item.OutputPath = dest
			if err := o.writeRecord(item, dest); err != nil {
				return "", err
			}
			o.logger.Debug("output exists; skipping",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.String("path", dest),
			)
			return dest, nil
		}
	}

	if o.decoder != nil && o.encoder != nil {
		data, err := o.standardize(ctx, item)
		if err != nil {
			return "", err
		}
		if err := writeFileAtomic(dest, data); err != nil {
			return "", services.Wrap(services.ErrDecode, "organize", "place", "write artifact", err)
		}
	} else if err := copyFileAtomic(item.LocalPath, dest); err != nil {
		return "", services.Wrap(services.ErrDecode, "organize", "place", "copy artifact", err)
	}

	item.OutputPath = dest
	if err := o.writeRecord(item, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// standardize re-renders the downloaded file in the configured output format:
// decode, normalize loudness toward target_lufs, encode.
func (o *Organizer) standardize(ctx context.Context, item *queue.Item) ([]byte, error) {
	buf, err := o.decoder.Decode(ctx, item.LocalPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, services.Wrap(services.ErrDecode, "organize", "standardize", "decode audio", err)
	}
	buf = media.Normalize(buf, o.cfg.AudioSettings.TargetLUFS)
	data, err := o.encoder.Encode(ctx, buf, o.cfg.AudioSettings.Format)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, services.Wrap(services.ErrDecode, "organize", "standardize", "encode audio", err)
	}
	return data, nil
}

// record is the per-item provenance document written next to the artifact.
// Audio properties come from the metadata stage's record when the item
// carries one.
type record struct {
	Title        string   `json:"title,omitempty"`
	SourceURL    string   `json:"source_url"`
	Genre        string   `json:"genre,omitempty"`
	Subgenre     string   `json:"subgenre,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	QualityScore *float64 `json:"quality_score,omitempty"`
	QualityTier  string   `json:"quality_tier"`
	Fingerprint  string   `json:"fingerprint"`
	Duration     float64  `json:"duration_seconds,omitempty"`
	SampleRate   int      `json:"sample_rate,omitempty"`
	Channels     int      `json:"channels,omitempty"`
	Bitrate      int      `json:"bitrate,omitempty"`
	CacheHit     bool     `json:"feature_cache_hit"`
	FeatureRef   string   `json:"feature_ref,omitempty"`
	OutputPath   string   `json:"output_path"`
	OrganizedAt  string   `json:"organized_at"`
}

func (o *Organizer) writeRecord(item *queue.Item, dest string) error {
	doc := record{
		Title:        item.Title,
		SourceURL:    item.SourceURL,
		Genre:        item.Genre,
		Subgenre:     item.Subgenre,
		Tags:         item.Tags(),
		QualityScore: item.QualityScore,
		QualityTier:  TierFor(item.QualityScore),
		Fingerprint:  item.Fingerprint,
		CacheHit:     item.CacheHit,
		FeatureRef:   item.FeatureRef,
		OutputPath:   dest,
		OrganizedAt:  o.now().UTC().Format(time.RFC3339),
	}
	if meta, ok := metadata.ParseRecord(item.MetadataJSON); ok {
		doc.Duration = meta.Duration
		doc.SampleRate = meta.SampleRate
		doc.Channels = meta.Channels
		doc.Bitrate = meta.Bitrate
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrDecode, "organize", "record", "encode record", err)
	}
	recordPath := strings.TrimSuffix(dest, filepath.Ext(dest)) + ".json"
	if err := writeFileAtomic(recordPath, data); err != nil {
		return services.Wrap(services.ErrDecode, "organize", "record", "write record", err)
	}
	return nil
}

// Manifest summarizes the organized dataset.
type Manifest struct {
	GeneratedAt string         `json:"generated_at"`
	TotalTracks int            `json:"total_tracks"`
	Genres      map[string]int `json:"genres"`
	Tiers       map[string]int `json:"quality_tiers,omitempty"`
}

// WriteManifest writes dataset_info.json at the dataset root with per-genre
// track counts over the completed items.
func (o *Organizer) WriteManifest(items []*queue.Item) error {
	manifest := Manifest{
		GeneratedAt: o.now().UTC().Format(time.RFC3339),
		Genres:      make(map[string]int),
	}
	if o.cfg.Output.OrganizeByQuality {
		manifest.Tiers = make(map[string]int)
	}
	for _, item := range items {
		if item.OutputPath == "" {
			continue
		}
		manifest.TotalTracks++
		label := "Unknown"
		if item.Genre != "" {
			label = titleCaser.String(item.Genre)
		}
		manifest.Genres[label]++
		if manifest.Tiers != nil {
			manifest.Tiers[TierFor(item.QualityScore)]++
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(o.cfg.Paths.DatasetDir, "dataset_info.json"), data)
}

func pathSegment(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '-' || r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(name))
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

func copyFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".organize-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
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

func writeFileAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".manifest-*")
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
