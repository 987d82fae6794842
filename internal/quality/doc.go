// Package quality scores decoded audio buffers against configured
// thresholds. Evaluation is a pure function of the buffer and thresholds:
// no I/O, no randomness, and no errors escape to the caller: unreadable
// input yields a zero-score report with a recorded violation.
//
// The scalar score is the weighted fraction of passing sub-checks
// (duration, silence, dynamic range, clipping, bitrate). Weights come from
// validation_thresholds.weights; unset weights default to 1, giving equal
// weighting, so with all five checks enabled a single violation scores 0.8.
package quality
