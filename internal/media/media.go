package media

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// SourceDescriptor identifies one track to ingest, as declared by a playlist.
type SourceDescriptor struct {
	URL      string
	Title    string
	Genre    string
	Subgenre string
	Tags     []string
}

// Buffer holds decoded PCM samples with known properties. Samples are
// interleaved when Channels > 1 and normalized to [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   int
	Bitrate    int
	Samples    []float64
}

// Duration returns the playing time represented by the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(float64(frames) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the buffer duration in seconds.
func (b *Buffer) Seconds() float64 {
	return b.Duration().Seconds()
}

// Vector is a named feature vector produced by the extraction collaborator.
type Vector map[string]float64

// FeatureSet describes which features the extractor should compute. Its
// descriptor doubles as half of the feature-cache key.
type FeatureSet struct {
	Name      string
	Features  []string
	FrameSize float64
}

// Descriptor returns a stable string identifying the feature set. Two sets
// with the same descriptor are interchangeable for caching purposes, so every
// field that changes extractor output is part of it, frame size included.
func (f FeatureSet) Descriptor() string {
	d := f.Name
	if len(f.Features) > 0 {
		d += ":" + strings.Join(f.Features, ",")
	}
	if f.FrameSize > 0 {
		d += "@" + strconv.FormatFloat(f.FrameSize, 'g', -1, 64)
	}
	return d
}

// Fetcher retrieves raw media bytes for a source descriptor.
type Fetcher interface {
	Fetch(ctx context.Context, src SourceDescriptor) ([]byte, error)
}

// Decoder turns an on-disk media file into a PCM buffer.
type Decoder interface {
	Decode(ctx context.Context, path string) (*Buffer, error)
}

// Encoder writes a PCM buffer back out in the given container format.
type Encoder interface {
	Encode(ctx context.Context, buf *Buffer, format string) ([]byte, error)
}

// Extractor computes a feature vector from decoded audio. The pipeline treats
// it as a black box with a known contract.
type Extractor interface {
	Extract(ctx context.Context, buf *Buffer, set FeatureSet) (Vector, error)
}

// SilenceDetector reports the fraction of a buffer that is silent.
type SilenceDetector interface {
	SilenceRatio(buf *Buffer) float64
}
