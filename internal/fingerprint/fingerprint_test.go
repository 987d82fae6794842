package fingerprint_test

import (
	"os"
	"path/filepath"
	"testing"

	"trackle/internal/fingerprint"
)

func TestFileMatchesBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.mp3")
	payload := []byte("not really audio")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	fromFile, err := fingerprint.File(path)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if fromFile != fingerprint.Bytes(payload) {
		t.Fatalf("file and byte fingerprints disagree: %s vs %s", fromFile, fingerprint.Bytes(payload))
	}
	if len(fromFile) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fromFile))
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := fingerprint.File(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestBytesIsStable(t *testing.T) {
	a := fingerprint.Bytes([]byte("same"))
	b := fingerprint.Bytes([]byte("same"))
	if a != b {
		t.Fatal("fingerprints for identical content must match")
	}
	if a == fingerprint.Bytes([]byte("different")) {
		t.Fatal("fingerprints for different content must differ")
	}
}
