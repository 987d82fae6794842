package media

import "math"

// Normalize scales a buffer toward the target loudness. The level estimate is
// the whole-buffer RMS expressed in dBFS, a serviceable stand-in for
// integrated LUFS on full-scale PCM. Samples are clamped to [-1, 1] after
// scaling. A nil or silent buffer and a non-negative target pass through
// unchanged.
func Normalize(buf *Buffer, targetLUFS float64) *Buffer {
	if buf == nil || len(buf.Samples) == 0 || targetLUFS >= 0 {
		return buf
	}
	level := rms(buf.Samples)
	if level <= 0 {
		return buf
	}
	gain := math.Pow(10, (targetLUFS-20*math.Log10(level))/20)
	out := &Buffer{
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Bitrate:    buf.Bitrate,
		Samples:    make([]float64, len(buf.Samples)),
	}
	for i, s := range buf.Samples {
		v := s * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out.Samples[i] = v
	}
	return out
}
