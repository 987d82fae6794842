package media

import (
	"math"
	"testing"
	"time"
)

func TestSilenceRatio(t *testing.T) {
	samples := make([]float64, 1000)
	for i := 250; i < 1000; i++ {
		samples[i] = 0.5
	}
	buf := &Buffer{SampleRate: 1000, Channels: 1, Samples: samples}

	ratio := AmplitudeSilenceDetector{}.SilenceRatio(buf)
	if math.Abs(ratio-0.25) > 1e-9 {
		t.Fatalf("expected silence ratio 0.25, got %f", ratio)
	}
}

func TestSilenceRatioEmptyBuffer(t *testing.T) {
	if ratio := (AmplitudeSilenceDetector{}).SilenceRatio(nil); ratio != 1 {
		t.Fatalf("nil buffer should be fully silent, got %f", ratio)
	}
	if ratio := (AmplitudeSilenceDetector{}).SilenceRatio(&Buffer{}); ratio != 1 {
		t.Fatalf("empty buffer should be fully silent, got %f", ratio)
	}
}

func TestBufferDuration(t *testing.T) {
	buf := &Buffer{SampleRate: 44100, Channels: 2, Samples: make([]float64, 44100*2*3)}
	if got := buf.Duration(); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	var nilBuf *Buffer
	if nilBuf.Duration() != 0 {
		t.Fatal("nil buffer should have zero duration")
	}
}

func TestFeatureSetDescriptor(t *testing.T) {
	set := FeatureSet{Name: "standard-v1", Features: []string{"tempo", "mfcc"}}
	if set.Descriptor() != "standard-v1:tempo,mfcc" {
		t.Fatalf("unexpected descriptor %q", set.Descriptor())
	}
	bare := FeatureSet{Name: "standard-v1"}
	if bare.Descriptor() != "standard-v1" {
		t.Fatalf("unexpected descriptor %q", bare.Descriptor())
	}
}
