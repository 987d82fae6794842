package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"trackle/internal/services"
)

// YtDlpFetcher fetches audio via the yt-dlp binary. It is the production
// Fetcher; tests inject fakes instead of shelling out.
type YtDlpFetcher struct {
	Binary  string
	Codec   string
	Quality string
	TempDir string
}

// NewYtDlpFetcher builds a fetcher with the configured codec and quality.
func NewYtDlpFetcher(codec, quality, tempDir string) *YtDlpFetcher {
	return &YtDlpFetcher{Binary: "yt-dlp", Codec: codec, Quality: quality, TempDir: tempDir}
}

// Fetch downloads one track and returns its raw bytes. Network and
// availability failures are tagged transient so the executor retries them.
func (f *YtDlpFetcher) Fetch(ctx context.Context, src SourceDescriptor) ([]byte, error) {
	if strings.TrimSpace(src.URL) == "" {
		return nil, services.Wrap(services.ErrDecode, "download", "fetch", "source URL is empty", nil)
	}

	workDir, err := os.MkdirTemp(f.TempDir, "fetch-*")
	if err != nil {
		return nil, fmt.Errorf("create fetch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	outTemplate := filepath.Join(workDir, "track.%(ext)s")
	args := []string{
		"--extract-audio",
		"--audio-format", f.Codec,
		"--audio-quality", f.Quality,
		"--no-playlist",
		"--output", outTemplate,
		src.URL,
	}

	binary := f.Binary
	if binary == "" {
		binary = "yt-dlp"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransientFetch, "download", "yt-dlp",
			strings.TrimSpace(string(output)), err)
	}

	path := filepath.Join(workDir, "track."+f.Codec)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrTransientFetch, "download", "yt-dlp",
				"fetch produced no output file", err)
		}
		return nil, fmt.Errorf("read fetched file: %w", err)
	}
	return data, nil
}
