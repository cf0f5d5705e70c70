package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/clinnlp/note-trainer/internal/aggregate"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: recorded
// model outputs for a sequence of evaluation units, replayed through the
// aggregation and metrics pipeline without a running service.
type Fixture struct {
	Description string            `json:"description"`
	NumClasses  int               `json:"n_classes"`
	Mode        string            `json:"mode"`
	Units       []FixtureUnit     `json:"units"`
	Expected    []ExpectedOutcome `json:"expected_results,omitempty"`
}

// FixtureUnit holds one unit's recorded logits and gold labels.
type FixtureUnit struct {
	UnitID string      `json:"unit_id"`
	Logits [][]float64 `json:"logits"`
	Labels []int64     `json:"labels"`
	Loss   *float64    `json:"loss,omitempty"`
}

// ExpectedOutcome captures the prediction a unit is expected to produce.
type ExpectedOutcome struct {
	UnitID     string  `json:"unit_id"`
	Prediction []int64 `json:"prediction"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

// SaveFixture writes a fixture as indented JSON.
func SaveFixture(path string, f *Fixture) error {
	if err := f.validate(); err != nil {
		return fmt.Errorf("fixture: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

func (f *Fixture) validate() error {
	if f.NumClasses <= 0 {
		return fmt.Errorf("n_classes must be positive, got %d", f.NumClasses)
	}
	if _, err := f.AggregateMode(); err != nil {
		return err
	}
	if len(f.Units) == 0 {
		return fmt.Errorf("fixture has no units")
	}
	return nil
}

// AggregateMode maps the fixture's mode string to the aggregation mode.
func (f *Fixture) AggregateMode() (aggregate.Mode, error) {
	switch f.Mode {
	case "single":
		return aggregate.ModeSingle, nil
	case "batch":
		return aggregate.ModeFixedBatch, nil
	case "weighted":
		return aggregate.ModeWeightedWindow, nil
	default:
		return "", fmt.Errorf("unknown mode %q", f.Mode)
	}
}

// ModeName is the inverse of AggregateMode, used when exporting fixtures.
func ModeName(m aggregate.Mode) string {
	switch m {
	case aggregate.ModeFixedBatch:
		return "batch"
	case aggregate.ModeWeightedWindow:
		return "weighted"
	default:
		return "single"
	}
}

// #endregion fixture-loader
