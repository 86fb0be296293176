package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// Tuning is the optional YAML overlay for ranking parameters. Operators
// adjust these without a rebuild; everything not set keeps its default.
type Tuning struct {
	Weights        domain.ScoreWeights `yaml:"weights"`
	CombinedFloor  *float64            `yaml:"combined_floor"`
	DedupThreshold *float64            `yaml:"dedup_threshold"`
}

// LoadTuning reads the overlay file and applies it on top of the default
// pipeline limits. An empty path returns the defaults unchanged.
func LoadTuning(path string) (domain.PipelineLimits, error) {
	limits := domain.DefaultPipelineLimits()
	if path == "" {
		return limits, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return limits, fmt.Errorf("read tuning file: %w", err)
	}

	var tuning Tuning
	if err := yaml.Unmarshal(raw, &tuning); err != nil {
		return limits, fmt.Errorf("parse tuning file: %w", err)
	}

	if sum := tuning.Weights.Semantic + tuning.Weights.Keyword + tuning.Weights.Quality + tuning.Weights.Diversity; sum > 0 {
		if math.Abs(sum-1.0) > 0.01 {
			return limits, fmt.Errorf("tuning weights must sum to 1.0, got %.3f", sum)
		}
		limits.Weights = tuning.Weights
	}
	if tuning.CombinedFloor != nil {
		if *tuning.CombinedFloor < 0 || *tuning.CombinedFloor >= 1 {
			return limits, fmt.Errorf("combined_floor %v out of range", *tuning.CombinedFloor)
		}
		limits.CombinedFloor = *tuning.CombinedFloor
	}
	if tuning.DedupThreshold != nil {
		if *tuning.DedupThreshold <= 0 || *tuning.DedupThreshold > 1 {
			return limits, fmt.Errorf("dedup_threshold %v out of range", *tuning.DedupThreshold)
		}
		limits.DedupThreshold = *tuning.DedupThreshold
	}

	return limits, nil
}
