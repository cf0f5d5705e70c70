package runner

import (
	"context"
	"errors"

	"github.com/clinnlp/note-trainer/internal/aggregate"
	"github.com/clinnlp/note-trainer/internal/dataset"
	"github.com/clinnlp/note-trainer/internal/metrics"
)

// #region errors
var (
	// ErrEmptyStream is returned when a phase receives zero units. The
	// mean-loss-per-document divide would be 0/0; the boundary is made
	// explicit instead of leaking a NaN.
	ErrEmptyStream = errors.New("unit stream is empty")
)
// #endregion errors

// #region collaborators
// Model abstracts the external sequence-classification service. Forward
// runs one unit through the network; computeLoss asks the service for its
// native batched loss (fixed-batch mode only). Backward backpropagates the
// weighted document loss for the retained forward pass; a nil weight
// vector means the native batched loss is backpropagated instead.
type Model interface {
	Train(ctx context.Context) error
	Eval(ctx context.Context) error
	Forward(ctx context.Context, unit dataset.Unit, computeLoss bool) (aggregate.ModelOutput, error)
	Backward(ctx context.Context, weights []float64, label int64) error
}

// Optimizer abstracts the remote optimizer: one parameter step and a
// gradient clear per training unit.
type Optimizer interface {
	Step(ctx context.Context) error
	ZeroGrad(ctx context.Context) error
}

// Scheduler advances the learning-rate schedule once per training unit.
type Scheduler interface {
	Step(ctx context.Context) error
}
// #endregion collaborators

// #region run-context
// RunContext carries per-run facts into the epoch and evaluation runners.
// It is an explicit value, not process state, so runs can coexist in
// tests.
type RunContext struct {
	Epoch      int
	Devices    int
	NumClasses int
	Mode       aggregate.Mode
}

// deviceCount guards against an unset Devices field.
func (rc RunContext) deviceCount() int {
	if rc.Devices < 1 {
		return 1
	}
	return rc.Devices
}
// #endregion run-context

// #region results
// EpochResult reports one TRAIN+VALIDATE pass: mean losses per document
// and the validation metrics snapshot.
type EpochResult struct {
	TrainLoss float64
	ValLoss   float64
	Metrics   metrics.Report
}

// EvalResult reports a single evaluation pass over a held-out stream.
type EvalResult struct {
	Loss    float64
	Metrics metrics.Report
}
// #endregion results
