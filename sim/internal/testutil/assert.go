// Package testutil provides shared test helpers for the signal-sim packages.
// It has no dependencies on sim/ so that sim's own tests can import it.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertFloat64Near compares two float64 values with absolute tolerance.
// Use it for sim times and durations, where zero is a legitimate value.
func AssertFloat64Near(t *testing.T, name string, want, got, absTol float64) {
	t.Helper()
	if math.Abs(want-got) > absTol {
		t.Errorf("%s: got %v, want %v (tol=%v)", name, got, want, absTol)
	}
}

// WriteTempFile writes content to name inside a per-test temp dir and returns its path.
func WriteTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
