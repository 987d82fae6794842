package services_test

import (
	"errors"
	"strings"
	"testing"

	"trackle/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	base := errors.New("connection reset")
	err := services.Wrap(services.ErrTransientFetch, "download", "fetch source", "request failed", base)
	if !errors.Is(err, services.ErrTransientFetch) {
		t.Fatalf("expected wrapped error to match marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "download: fetch source: request failed") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		reason    string
	}{
		{"transient", services.Wrap(services.ErrTransientFetch, "download", "", "", nil), true, "TransientFetchError"},
		{"decode", services.Wrap(services.ErrDecode, "quality_check", "", "", nil), false, "DecodeError"},
		{"quality", services.Wrap(services.ErrQualityRejected, "quality_check", "", "", nil), false, "QualityRejected"},
		{"cache", services.Wrap(services.ErrCacheUnavailable, "features", "", "", nil), false, "CacheUnavailable"},
		{"config", services.Wrap(services.ErrConfiguration, "", "", "", nil), false, "ConfigurationError"},
		{"plain", errors.New("boom"), false, "StageError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Retryable(tc.err); got != tc.retryable {
				t.Fatalf("Retryable = %v, want %v", got, tc.retryable)
			}
			if got := services.ReasonCode(tc.err); got != tc.reason {
				t.Fatalf("ReasonCode = %q, want %q", got, tc.reason)
			}
		})
	}
}

func TestReasonCodeNil(t *testing.T) {
	if code := services.ReasonCode(nil); code != "" {
		t.Fatalf("expected empty reason for nil error, got %q", code)
	}
}
