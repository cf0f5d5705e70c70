package runner

import (
	"context"
	"fmt"

	"github.com/clinnlp/note-trainer/internal/aggregate"
	"github.com/clinnlp/note-trainer/internal/dataset"
	"github.com/clinnlp/note-trainer/internal/metrics"
)

// #region epoch-runner
// EpochRunner drives one training pass followed by one validation pass
// over document streams. The two phases are strictly sequential:
// validation observes the exact parameter state left by the last training
// step of the same call.
type EpochRunner struct {
	model Model
	opt   Optimizer
	sched Scheduler
}

// NewEpochRunner wires an epoch runner to its collaborators.
func NewEpochRunner(model Model, opt Optimizer, sched Scheduler) *EpochRunner {
	return &EpochRunner{model: model, opt: opt, sched: sched}
}
// #endregion epoch-runner

// #region run
// Run executes TRAIN then VALIDATE and returns per-document mean losses
// plus the validation metrics. Any collaborator failure aborts the epoch;
// there is no per-unit retry, since replaying a deterministic numeric
// failure cannot change the outcome.
func (r *EpochRunner) Run(ctx context.Context, rc RunContext, train, val []dataset.Unit) (EpochResult, error) {
	trainLoss, err := r.trainPass(ctx, rc, train)
	if err != nil {
		return EpochResult{}, fmt.Errorf("epoch %d train: %w", rc.Epoch, err)
	}

	valLoss, rep, err := evalPass(ctx, r.model, rc, val)
	if err != nil {
		return EpochResult{}, fmt.Errorf("epoch %d validate: %w", rc.Epoch, err)
	}

	return EpochResult{TrainLoss: trainLoss, ValLoss: valLoss, Metrics: rep}, nil
}
// #endregion run

// #region train-pass
func (r *EpochRunner) trainPass(ctx context.Context, rc RunContext, units []dataset.Unit) (float64, error) {
	if len(units) == 0 {
		return 0, ErrEmptyStream
	}
	if err := r.model.Train(ctx); err != nil {
		return 0, fmt.Errorf("enter train mode: %w", err)
	}

	fixed := rc.Mode == aggregate.ModeFixedBatch
	var lossSum float64
	docs := 0

	for i, u := range units {
		out, err := r.model.Forward(ctx, u, fixed)
		if err != nil {
			return 0, fmt.Errorf("unit %d forward: %w", i, err)
		}
		res, err := aggregate.Combine(rc.Mode, out, u.Labels)
		if err != nil {
			return 0, fmt.Errorf("unit %d combine: %w", i, err)
		}

		// Backward on the combined loss; fixed batches backpropagate the
		// model's own loss (nil weights).
		if fixed {
			err = r.model.Backward(ctx, nil, 0)
		} else {
			err = r.model.Backward(ctx, res.Weights, u.Labels[0])
		}
		if err != nil {
			return 0, fmt.Errorf("unit %d backward: %w", i, err)
		}

		if err := r.opt.Step(ctx); err != nil {
			return 0, fmt.Errorf("unit %d optimizer step: %w", i, err)
		}
		if err := r.sched.Step(ctx); err != nil {
			return 0, fmt.Errorf("unit %d scheduler step: %w", i, err)
		}
		if err := r.opt.ZeroGrad(ctx); err != nil {
			return 0, fmt.Errorf("unit %d zero grad: %w", i, err)
		}

		lossSum += unitLoss(res, u, fixed)
		docs += u.Documents(fixed)
	}

	return lossSum / float64(docs*rc.deviceCount()), nil
}

// unitLoss scales the per-unit loss for epoch accounting: a fixed batch's
// model loss is a mean over its rows, so it re-weights by row count to
// make the epoch total an average over documents rather than over units.
func unitLoss(res aggregate.CombineResult, u dataset.Unit, fixed bool) float64 {
	if fixed {
		return res.Loss * float64(len(u.Rows))
	}
	return res.Loss
}
// #endregion train-pass

// #region eval-pass
// evalPass is the shared inference-mode pass: no gradients, loss
// accounting identical to training, and one (gold, predicted) pair per
// document decision fed into a fresh accumulator.
func evalPass(ctx context.Context, model Model, rc RunContext, units []dataset.Unit) (float64, metrics.Report, error) {
	if len(units) == 0 {
		return 0, metrics.Report{}, ErrEmptyStream
	}
	if err := model.Eval(ctx); err != nil {
		return 0, metrics.Report{}, fmt.Errorf("enter eval mode: %w", err)
	}

	fixed := rc.Mode == aggregate.ModeFixedBatch
	acc := metrics.NewAccumulator(rc.NumClasses)
	var lossSum float64
	docs := 0

	for i, u := range units {
		out, err := model.Forward(ctx, u, fixed)
		if err != nil {
			return 0, metrics.Report{}, fmt.Errorf("unit %d forward: %w", i, err)
		}
		res, err := aggregate.Combine(rc.Mode, out, u.Labels)
		if err != nil {
			return 0, metrics.Report{}, fmt.Errorf("unit %d combine: %w", i, err)
		}

		if fixed {
			preds := make([]int64, len(res.Rows))
			for j, row := range res.Rows {
				preds[j] = aggregate.Argmax(row)
			}
			if err := acc.AddBatch(u.Labels, preds); err != nil {
				return 0, metrics.Report{}, fmt.Errorf("unit %d metrics: %w", i, err)
			}
		} else {
			if err := acc.AddPair(u.Labels[0], aggregate.Argmax(res.Combined)); err != nil {
				return 0, metrics.Report{}, fmt.Errorf("unit %d metrics: %w", i, err)
			}
		}

		lossSum += unitLoss(res, u, fixed)
		docs += u.Documents(fixed)
	}

	return lossSum / float64(docs*rc.deviceCount()), acc.Compute(), nil
}
// #endregion eval-pass

// #region evaluation-runner
// EvaluationRunner runs the validation algorithm once against a held-out
// stream, with its own fresh accumulator and no training side effects.
type EvaluationRunner struct {
	model Model
}

// NewEvaluationRunner wires an evaluation runner to the model.
func NewEvaluationRunner(model Model) *EvaluationRunner {
	return &EvaluationRunner{model: model}
}

// Run evaluates the stream and returns the mean loss per document and the
// metrics snapshot.
func (r *EvaluationRunner) Run(ctx context.Context, rc RunContext, units []dataset.Unit) (EvalResult, error) {
	loss, rep, err := evalPass(ctx, r.model, rc, units)
	if err != nil {
		return EvalResult{}, fmt.Errorf("evaluate: %w", err)
	}
	return EvalResult{Loss: loss, Metrics: rep}, nil
}
// #endregion evaluation-runner
