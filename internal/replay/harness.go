package replay

import (
	"fmt"

	"github.com/clinnlp/note-trainer/internal/aggregate"
	"github.com/clinnlp/note-trainer/internal/metrics"
)

// #region harness-types

// UnitResult is the replayed outcome for one fixture unit.
type UnitResult struct {
	UnitID     string
	Prediction []int64
	Loss       float64
	Matched    bool // true when no expectation exists or it was met
}

// Summary aggregates a full replay run.
type Summary struct {
	Units      []UnitResult
	Report     metrics.Report
	Mismatches int
	Checked    int
}

// #endregion harness-types

// #region harness

// Run replays every unit of the fixture through the aggregation pipeline
// and scores the predictions against the recorded labels. When the
// fixture carries expected predictions, each unit is also checked
// against them.
func Run(f *Fixture) (*Summary, error) {
	mode, err := f.AggregateMode()
	if err != nil {
		return nil, err
	}
	expected := make(map[string][]int64, len(f.Expected))
	for _, e := range f.Expected {
		expected[e.UnitID] = e.Prediction
	}

	acc := metrics.NewAccumulator(f.NumClasses)
	summary := &Summary{Units: make([]UnitResult, 0, len(f.Units))}

	for i, u := range f.Units {
		out := aggregate.ModelOutput{Logits: u.Logits, Loss: u.Loss}
		res, err := aggregate.Combine(mode, out, u.Labels)
		if err != nil {
			return nil, fmt.Errorf("unit %d (%s): %w", i, u.UnitID, err)
		}

		var preds []int64
		if mode == aggregate.ModeFixedBatch {
			preds = make([]int64, len(res.Rows))
			for r, row := range res.Rows {
				preds[r] = aggregate.Argmax(row)
			}
			if err := acc.AddBatch(u.Labels, preds); err != nil {
				return nil, fmt.Errorf("unit %d (%s): %w", i, u.UnitID, err)
			}
		} else {
			preds = []int64{aggregate.Argmax(res.Combined)}
			if err := acc.AddPair(u.Labels[0], preds[0]); err != nil {
				return nil, fmt.Errorf("unit %d (%s): %w", i, u.UnitID, err)
			}
		}

		ur := UnitResult{UnitID: u.UnitID, Prediction: preds, Loss: res.Loss, Matched: true}
		if want, ok := expected[u.UnitID]; ok {
			summary.Checked++
			ur.Matched = equalPredictions(preds, want)
			if !ur.Matched {
				summary.Mismatches++
			}
		}
		summary.Units = append(summary.Units, ur)
	}

	summary.Report = acc.Compute()
	return summary, nil
}

func equalPredictions(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// #endregion harness
