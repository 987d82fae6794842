package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransientFetch marks network or source failures that are worth retrying.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrDecode marks corrupt or unsupported media; never retried.
	ErrDecode = errors.New("decode error")
	// ErrQualityRejected marks audio below the configured thresholds. Not a
	// fault: the item ends failed with the rejection reason recorded.
	ErrQualityRejected = errors.New("quality rejected")
	// ErrCacheUnavailable marks feature-cache failures that degrade to a miss.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrConfiguration marks invalid settings; fatal before any stage runs.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for retry classification and reason reporting.
// The marker should be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransientFetch
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage error should be retried by the executor.
// Only transient fetch failures qualify; everything else is terminal for the
// attempt loop.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}

// ReasonCode maps a stage error to the stable code recorded on the item and
// surfaced in the final run report.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return "DecodeError"
	case errors.Is(err, ErrQualityRejected):
		return "QualityRejected"
	case errors.Is(err, ErrTransientFetch):
		return "TransientFetchError"
	case errors.Is(err, ErrCacheUnavailable):
		return "CacheUnavailable"
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	default:
		return "StageError"
	}
}

// Details extracts the human-readable portion of a wrapped stage error.
type ErrorDetails struct {
	Message string
	Reason  string
}

// DetailsOf splits a stage error into its reason code and message.
func DetailsOf(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	return ErrorDetails{
		Message: strings.TrimSpace(err.Error()),
		Reason:  ReasonCode(err),
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
