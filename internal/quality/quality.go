package quality

import (
	"fmt"
	"math"

	"trackle/internal/config"
	"trackle/internal/media"
)

// Check names used in required_features, weights, and report flags.
const (
	CheckDuration     = "duration"
	CheckSilence      = "silence"
	CheckDynamicRange = "dynamic_range"
	CheckClipping     = "clipping"
	CheckBitrate      = "bitrate"
)

// clippingCeiling is the absolute amplitude at or above which a sample counts
// as clipped.
const clippingCeiling = 0.99

// Report is the outcome of evaluating one decoded buffer. It is a value
// object: the caller decides pass/fail via Score >= min_quality_score.
type Report struct {
	Score      float64
	Checks     map[string]bool
	Violations []string
	Metrics    map[string]float64
}

// Passed reports whether the score clears the given minimum.
func (r Report) Passed(minScore float64) bool {
	return r.Score >= minScore
}

// Validator scores decoded audio against configured thresholds. Evaluate is
// deterministic and never fails: bad input produces a zero-score report.
type Validator struct {
	Silence    media.SilenceDetector
	Thresholds config.ValidationThresholds
}

// New builds a validator with the default amplitude silence detector.
func New(th config.ValidationThresholds) Validator {
	return Validator{Silence: media.AmplitudeSilenceDetector{}, Thresholds: th}
}

type subCheck struct {
	name   string
	weight float64
	passed bool
	detail string
}

// Evaluate computes the quality report for a decoded buffer. Sub-checks run
// per required_features (all five when the list is empty); each passing
// check contributes its weight, and the score is the passed fraction of the
// total weight. Weights default to 1, giving equal weighting.
func (v Validator) Evaluate(buf *media.Buffer) Report {
	report := Report{
		Checks:  make(map[string]bool),
		Metrics: make(map[string]float64),
	}
	if buf == nil || len(buf.Samples) == 0 || buf.SampleRate <= 0 {
		report.Violations = append(report.Violations, "missing sample data")
		return report
	}

	th := v.Thresholds
	duration := buf.Seconds()
	report.Metrics["duration"] = duration
	report.Metrics["sample_rate"] = float64(buf.SampleRate)

	peak, meanAbs := amplitudeStats(buf.Samples)
	dynamicRange := 20 * math.Log10(peak/(meanAbs+1e-6))
	clippingRatio := clippedFraction(buf.Samples)
	report.Metrics["dynamic_range"] = dynamicRange
	report.Metrics["clipping_ratio"] = clippingRatio

	detector := v.Silence
	if detector == nil {
		detector = media.AmplitudeSilenceDetector{}
	}
	silenceRatio := detector.SilenceRatio(buf)
	silenceDuration := silenceRatio * duration
	report.Metrics["silence_ratio"] = silenceRatio
	report.Metrics["silence_duration"] = silenceDuration

	var checks []subCheck
	if v.checkEnabled(CheckDuration) {
		checks = append(checks, subCheck{
			name:   CheckDuration,
			weight: th.Weights.Duration,
			passed: th.MinDuration <= 0 || duration >= th.MinDuration,
			detail: fmt.Sprintf("duration too short: %.1fs < %.1fs", duration, th.MinDuration),
		})
	}
	if v.checkEnabled(CheckSilence) {
		checks = append(checks, subCheck{
			name:   CheckSilence,
			weight: th.Weights.Silence,
			passed: th.MaxSilenceDuration <= 0 || silenceDuration <= th.MaxSilenceDuration,
			detail: fmt.Sprintf("excessive silence: %.1fs > %.1fs", silenceDuration, th.MaxSilenceDuration),
		})
	}
	if v.checkEnabled(CheckDynamicRange) {
		checks = append(checks, subCheck{
			name:   CheckDynamicRange,
			weight: th.Weights.DynamicRange,
			passed: th.MinDynamicRange <= 0 || dynamicRange >= th.MinDynamicRange,
			detail: fmt.Sprintf("low dynamic range: %.1fdB < %.1fdB", dynamicRange, th.MinDynamicRange),
		})
	}
	if v.checkEnabled(CheckClipping) {
		checks = append(checks, subCheck{
			name:   CheckClipping,
			weight: th.Weights.Clipping,
			passed: clippingRatio <= th.MaxClippingRatio,
			detail: fmt.Sprintf("excessive clipping: %.2f%% of samples", clippingRatio*100),
		})
	}
	if v.checkEnabled(CheckBitrate) {
		report.Metrics["bitrate"] = float64(buf.Bitrate)
		// Unknown bitrate (0) passes: decoded PCM has no bitrate of its own.
		checks = append(checks, subCheck{
			name:   CheckBitrate,
			weight: th.Weights.Bitrate,
			passed: th.MinBitrate <= 0 || buf.Bitrate <= 0 || buf.Bitrate >= th.MinBitrate,
			detail: fmt.Sprintf("bitrate too low: %d < %d", buf.Bitrate, th.MinBitrate),
		})
	}

	if len(checks) == 0 {
		report.Score = 1
		return report
	}

	var passedWeight, weightTotal float64
	for _, check := range checks {
		weight := check.weight
		if weight <= 0 {
			weight = 1
		}
		weightTotal += weight
		report.Checks[check.name] = check.passed
		if check.passed {
			passedWeight += weight
		} else {
			report.Violations = append(report.Violations, check.detail)
		}
	}
	report.Score = passedWeight / weightTotal
	return report
}

func (v Validator) checkEnabled(name string) bool {
	required := v.Thresholds.RequiredFeatures
	if len(required) == 0 {
		return true
	}
	for _, entry := range required {
		if entry == name {
			return true
		}
	}
	return false
}

func amplitudeStats(samples []float64) (peak, meanAbs float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, sample := range samples {
		abs := math.Abs(sample)
		if abs > peak {
			peak = abs
		}
		sum += abs
	}
	return peak, sum / float64(len(samples))
}

func clippedFraction(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	clipped := 0
	for _, sample := range samples {
		if math.Abs(sample) >= clippingCeiling {
			clipped++
		}
	}
	return float64(clipped) / float64(len(samples))
}
