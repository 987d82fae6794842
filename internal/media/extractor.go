package media

import (
	"context"
	"math"
)

// BasicExtractor computes amplitude-domain features in pure Go: frame RMS
// statistics, zero-crossing rate, peak level, and duration. It covers the
// extractor contract for setups without an external analysis tool; richer
// feature sets plug in behind the same interface.
type BasicExtractor struct{}

// Extract computes the feature vector for a decoded buffer. The frame size
// from the feature set controls the RMS windows; a non-positive frame size
// falls back to 50ms.
func (BasicExtractor) Extract(ctx context.Context, buf *Buffer, set FeatureSet) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vector := Vector{}
	if buf == nil || len(buf.Samples) == 0 || buf.SampleRate <= 0 {
		return vector, nil
	}

	frameSize := set.FrameSize
	if frameSize <= 0 {
		frameSize = 0.05
	}
	frameSamples := int(frameSize * float64(buf.SampleRate) * float64(maxInt(buf.Channels, 1)))
	if frameSamples < 1 {
		frameSamples = 1
	}

	var frames []float64
	for start := 0; start < len(buf.Samples); start += frameSamples {
		end := start + frameSamples
		if end > len(buf.Samples) {
			end = len(buf.Samples)
		}
		frames = append(frames, rms(buf.Samples[start:end]))
	}

	mean, std := meanStd(frames)
	vector["rms_energy_mean"] = mean
	vector["rms_energy_std"] = std
	vector["zero_crossing_rate_mean"] = zeroCrossingRate(buf.Samples)
	vector["peak_amplitude"] = peak(buf.Samples)
	vector["duration_seconds"] = buf.Seconds()
	return vector, nil
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(values)))
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

func peak(samples []float64) float64 {
	var p float64
	for _, s := range samples {
		if abs := math.Abs(s); abs > p {
			p = abs
		}
	}
	return p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
