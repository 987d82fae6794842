package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"trackle/internal/services"
)

// FFmpegCodec decodes and encodes through the ffmpeg binary using raw
// 64-bit float PCM on the pipe. It is the production Decoder/Encoder pair;
// tests inject fakes.
type FFmpegCodec struct {
	Binary     string
	SampleRate int
	Channels   int
}

// NewFFmpegCodec builds a codec targeting the configured sample rate and
// channel count.
func NewFFmpegCodec(sampleRate, channels int) *FFmpegCodec {
	return &FFmpegCodec{Binary: "ffmpeg", SampleRate: sampleRate, Channels: channels}
}

func (c *FFmpegCodec) binary() string {
	if c.Binary == "" {
		return "ffmpeg"
	}
	return c.Binary
}

// Decode reads a media file into a normalized PCM buffer. Decode failures are
// terminal for the item: corrupt media does not improve on retry.
func (c *FFmpegCodec) Decode(ctx context.Context, path string) (*Buffer, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "f64le",
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"pipe:1",
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrDecode, "", "ffmpeg decode",
			strings.TrimSpace(stderr.String()), err)
	}

	raw := stdout.Bytes()
	if len(raw) == 0 || len(raw)%8 != 0 {
		return nil, services.Wrap(services.ErrDecode, "", "ffmpeg decode",
			fmt.Sprintf("unexpected PCM payload of %d bytes", len(raw)), nil)
	}
	samples := make([]float64, len(raw)/8)
	for i := range samples {
		bits := binary.LittleEndian.Uint64(raw[i*8:])
		samples[i] = math.Float64frombits(bits)
	}
	return &Buffer{
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		Samples:    samples,
	}, nil
}

// Encode writes a PCM buffer out in the requested container format.
func (c *FFmpegCodec) Encode(ctx context.Context, buf *Buffer, format string) ([]byte, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, services.Wrap(services.ErrDecode, "", "ffmpeg encode", "empty buffer", nil)
	}
	raw := make([]byte, len(buf.Samples)*8)
	for i, sample := range buf.Samples {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(sample))
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "f64le",
		"-ac", strconv.Itoa(buf.Channels),
		"-ar", strconv.Itoa(buf.SampleRate),
		"-i", "pipe:0",
		"-f", format,
		"pipe:1",
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Stdin = bytes.NewReader(raw)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrDecode, "", "ffmpeg encode",
			strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}
