// Package metadata derives per-track metadata from the decoded audio and the
// playlist declaration, and records it on the item for the organizer.
package metadata

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"trackle/internal/config"
	"trackle/internal/logging"
	"trackle/internal/media"
	"trackle/internal/queue"
	"trackle/internal/services"
)

// Record is the per-track metadata document persisted on the item; the
// organizer folds its audio properties into the provenance record it writes
// next to the organized file.
type Record struct {
	Title       string   `json:"title"`
	SourceURL   string   `json:"source_url"`
	Genre       string   `json:"genre"`
	Subgenre    string   `json:"subgenre,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Duration    float64  `json:"duration_seconds"`
	SampleRate  int      `json:"sample_rate"`
	Channels    int      `json:"channels"`
	Bitrate     int      `json:"bitrate,omitempty"`
	ExtractedAt string   `json:"extracted_at"`
}

// Stage extracts metadata for one item.
type Stage struct {
	cfg     *config.Config
	decoder media.Decoder
	logger  *slog.Logger
	now     func() time.Time
}

// New builds the metadata stage.
func New(cfg *config.Config, decoder media.Decoder, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:     cfg,
		decoder: decoder,
		logger:  logging.NewComponentLogger(logger, "metadata"),
		now:     time.Now,
	}
}

// Process decodes the downloaded file and records track metadata as JSON on
// the item. Decode failures are terminal for the item.
func (s *Stage) Process(ctx context.Context, item *queue.Item) error {
	if item.LocalPath == "" {
		return services.Wrap(services.ErrDecode, "metadata", "decode", "item has no downloaded file", nil)
	}

	buf, err := s.decoder.Decode(ctx, item.LocalPath)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return services.Wrap(services.ErrDecode, "metadata", "decode", "decode audio", err)
	}

	record := Record{
		Title:       item.Title,
		SourceURL:   item.SourceURL,
		Genre:       item.Genre,
		Subgenre:    item.Subgenre,
		Tags:        item.Tags(),
		Fingerprint: item.Fingerprint,
		Duration:    buf.Seconds(),
		SampleRate:  buf.SampleRate,
		Channels:    buf.Channels,
		Bitrate:     buf.Bitrate,
		ExtractedAt: s.now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return services.Wrap(services.ErrDecode, "metadata", "encode", "encode metadata record", err)
	}
	item.MetadataJSON = string(data)

	s.logger.Debug("metadata extracted",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.Float64("duration_seconds", record.Duration),
		logging.Int("sample_rate", record.SampleRate),
	)
	return nil
}

// ParseRecord decodes a persisted metadata record.
func ParseRecord(raw string) (Record, bool) {
	if raw == "" {
		return Record{}, false
	}
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, false
	}
	return record, true
}
