package media

import "math"

// defaultSilenceFloor is the absolute amplitude below which a sample counts
// as silent (~-60 dBFS).
const defaultSilenceFloor = 0.001

// AmplitudeSilenceDetector classifies samples as silent by amplitude floor.
type AmplitudeSilenceDetector struct {
	// Floor overrides the default amplitude threshold when positive.
	Floor float64
}

// SilenceRatio returns the fraction of samples whose magnitude falls below
// the floor. An empty buffer is fully silent.
func (d AmplitudeSilenceDetector) SilenceRatio(buf *Buffer) float64 {
	if buf == nil || len(buf.Samples) == 0 {
		return 1
	}
	floor := d.Floor
	if floor <= 0 {
		floor = defaultSilenceFloor
	}
	silent := 0
	for _, sample := range buf.Samples {
		if math.Abs(sample) < floor {
			silent++
		}
	}
	return float64(silent) / float64(len(buf.Samples))
}
