package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTuningFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	return path
}

func TestLoadTuningEmptyPathReturnsDefaults(t *testing.T) {
	limits, err := LoadTuning("")
	if err != nil {
		t.Fatalf("LoadTuning() error = %v", err)
	}
	if limits.CombinedFloor != 0.3 {
		t.Fatalf("expected default combined floor 0.3, got %v", limits.CombinedFloor)
	}
	if limits.Weights.Semantic != 0.40 {
		t.Fatalf("expected default semantic weight 0.40, got %v", limits.Weights.Semantic)
	}
}

func TestLoadTuningAppliesOverrides(t *testing.T) {
	path := writeTuningFile(t, `
weights:
  semantic: 0.5
  keyword: 0.2
  quality: 0.2
  diversity: 0.1
combined_floor: 0.25
dedup_threshold: 0.9
`)

	limits, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning() error = %v", err)
	}
	if limits.Weights.Semantic != 0.5 {
		t.Fatalf("expected semantic weight 0.5, got %v", limits.Weights.Semantic)
	}
	if limits.CombinedFloor != 0.25 {
		t.Fatalf("expected combined floor 0.25, got %v", limits.CombinedFloor)
	}
	if limits.DedupThreshold != 0.9 {
		t.Fatalf("expected dedup threshold 0.9, got %v", limits.DedupThreshold)
	}
}

func TestLoadTuningRejectsBadWeights(t *testing.T) {
	path := writeTuningFile(t, `
weights:
  semantic: 0.9
  keyword: 0.9
  quality: 0.1
  diversity: 0.1
`)

	if _, err := LoadTuning(path); err == nil {
		t.Fatalf("expected error for weights not summing to 1.0")
	}
}

func TestLoadTuningRejectsOutOfRangeFloor(t *testing.T) {
	path := writeTuningFile(t, "combined_floor: 1.5\n")
	if _, err := LoadTuning(path); err == nil {
		t.Fatalf("expected error for out-of-range combined floor")
	}
}
