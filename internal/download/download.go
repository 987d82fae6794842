// Package download fetches playlist tracks into the downloads directory and
// fingerprints them for the rest of the pipeline.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"trackle/internal/config"
	"trackle/internal/fingerprint"
	"trackle/internal/logging"
	"trackle/internal/media"
	"trackle/internal/queue"
	"trackle/internal/services"
)

// Stage fetches one track per item via the injected media fetcher.
type Stage struct {
	cfg     *config.Config
	fetcher media.Fetcher
	logger  *slog.Logger
}

// New builds the download stage.
func New(cfg *config.Config, fetcher media.Fetcher, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logging.NewComponentLogger(logger, "download"),
	}
}

// Process fetches the item's source and records the local path and content
// fingerprint. With skip_existing enabled an already-downloaded file is kept;
// check_modified additionally re-fingerprints the file so a changed source is
// fetched again.
func (s *Stage) Process(ctx context.Context, item *queue.Item) error {
	if s.fetcher == nil {
		return services.Wrap(services.ErrConfiguration, "download", "fetch", "no fetcher configured", nil)
	}

	dest := s.destinationPath(item)
	if s.cfg.DownloadSettings.SkipExisting && item.LocalPath != "" {
		if existing := s.reuseExisting(item); existing {
			s.logger.Debug("reusing existing download",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.String("path", item.LocalPath),
			)
			return nil
		}
	}

	data, err := s.fetcher.Fetch(ctx, media.SourceDescriptor{
		URL:      item.SourceURL,
		Title:    item.Title,
		Genre:    item.Genre,
		Subgenre: item.Subgenre,
		Tags:     item.Tags(),
	})
	if err != nil {
		if services.Retryable(err) || ctx.Err() != nil {
			return err
		}
		return services.Wrap(services.ErrTransientFetch, "download", "fetch", "fetch source", err)
	}
	if len(data) == 0 {
		return services.Wrap(services.ErrDecode, "download", "fetch", "source returned no data", nil)
	}

	if err := writeFileAtomic(dest, data); err != nil {
		return services.Wrap(services.ErrTransientFetch, "download", "write", "write download", err)
	}

	item.LocalPath = dest
	item.Fingerprint = fingerprint.Bytes(data)
	if item.Title == "" {
		item.Title = titleFromURL(item.SourceURL)
	}
	return nil
}

// reuseExisting reports whether the recorded download can be kept as-is.
func (s *Stage) reuseExisting(item *queue.Item) bool {
	info, err := os.Stat(item.LocalPath)
	if err != nil || info.IsDir() {
		return false
	}
	if !s.cfg.DownloadSettings.CheckModified {
		return true
	}
	fp, err := fingerprint.File(item.LocalPath)
	if err != nil {
		return false
	}
	if item.Fingerprint == "" {
		item.Fingerprint = fp
		return true
	}
	return fp == item.Fingerprint
}

func (s *Stage) destinationPath(item *queue.Item) string {
	name := titleFromURL(item.SourceURL)
	if item.Title != "" {
		name = sanitizeName(item.Title)
	}
	format := s.cfg.DownloadSettings.AudioFormat
	if format == "" {
		format = "mp3"
	}
	dir := s.cfg.Paths.DownloadsDir
	if item.Genre != "" {
		dir = filepath.Join(dir, sanitizeName(item.Genre))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d.%s", name, item.ID, format))
}

func titleFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return "track"
	}
	base := strings.TrimSuffix(path.Base(parsed.Path), path.Ext(parsed.Path))
	if base == "" || base == "." {
		return "track"
	}
	return sanitizeName(base)
}

func sanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(name))
	if cleaned == "" {
		return "track"
	}
	return strings.ToLower(cleaned)
}

func writeFileAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
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
