package aggregate

import "errors"

// #region mode
// Mode selects how per-chunk model outputs are combined into one
// document-level decision. Resolved once at configuration time and
// never mixed within a run.
type Mode string

const (
	// ModeSingle treats each unit as one document with no positional
	// weighting. A ones vector is still pushed through the weighted-sum
	// path so that multi-chunk units collapse the same way.
	ModeSingle Mode = "single"
	// ModeFixedBatch processes N independent documents per unit using the
	// model's native batched loss. No cross-chunk combination.
	ModeFixedBatch Mode = "fixed_batch"
	// ModeWeightedWindow combines all chunks of one document with
	// Gaussian positional weights that favor the start of the note.
	ModeWeightedWindow Mode = "weighted_window"
)
// #endregion mode

// #region errors
var (
	// ErrEmptyUnit is returned for a unit with zero chunks. A document
	// must contribute at least one chunk; this indicates an upstream
	// pipeline defect and is fatal.
	ErrEmptyUnit = errors.New("unit has no chunks")
	// ErrLabelMismatch is returned when chunks of a windowed unit do not
	// share one document label.
	ErrLabelMismatch = errors.New("window chunks carry different labels")
	// ErrShapeMismatch is returned when the logits row count does not
	// match the label count.
	ErrShapeMismatch = errors.New("logits rows do not match labels")
	// ErrMissingLoss is returned in fixed-batch mode when the model
	// output has no precomputed loss.
	ErrMissingLoss = errors.New("fixed batch output carries no model loss")
)
// #endregion errors

// #region model-output
// ModelOutput is what the external model returns for one unit: one logit
// row per chunk (or per batch row), and a precomputed mean loss when the
// model was asked to compute it (fixed-batch mode only).
type ModelOutput struct {
	Logits [][]float64
	Loss   *float64
}
// #endregion model-output

// #region combine-result
// CombineResult is the per-unit outcome of combination: one scalar loss
// and the logits that back the document decision.
type CombineResult struct {
	// Loss is the unit's scalar loss. In fixed-batch mode it is the
	// model's native mean loss over the rows.
	Loss float64
	// Combined is the single 1×C decision logit vector. Nil in
	// fixed-batch mode, where each row is its own decision.
	Combined []float64
	// Rows holds the per-row logits in fixed-batch mode. Nil otherwise.
	Rows [][]float64
	// Weights is the weight vector applied to the rows. Nil in
	// fixed-batch mode.
	Weights []float64
}
// #endregion combine-result
