package metrics

import (
	"errors"
	"fmt"
)

// #region errors
var (
	// ErrLengthMismatch is returned when gold and predicted sequences
	// differ in length. This is a pipeline defect and must abort the run.
	ErrLengthMismatch = errors.New("gold and predicted lengths differ")
	// ErrClassOutOfRange is returned for a label outside [0, numClasses).
	ErrClassOutOfRange = errors.New("class id out of range")
)
// #endregion errors

// #region accumulator
// Accumulator keeps streaming per-class confusion counts for a fixed
// number of classes. One accumulator lives for exactly one phase
// (train, validation, or test) and must be fed one pair per document
// decision, never per raw chunk.
type Accumulator struct {
	numClasses int
	tp         []int64
	fp         []int64
	fn         []int64
}

// NewAccumulator creates an accumulator for numClasses declared classes.
// The class count is fixed by configuration, not inferred from observed
// labels, so macro averages keep a stable denominator.
func NewAccumulator(numClasses int) *Accumulator {
	return &Accumulator{
		numClasses: numClasses,
		tp:         make([]int64, numClasses),
		fp:         make([]int64, numClasses),
		fn:         make([]int64, numClasses),
	}
}

// NumClasses returns the configured class count.
func (a *Accumulator) NumClasses() int {
	return a.numClasses
}
// #endregion accumulator

// #region add
// AddPair records one (gold, predicted) document decision.
func (a *Accumulator) AddPair(gold, pred int64) error {
	if err := a.checkClass(gold); err != nil {
		return fmt.Errorf("gold: %w", err)
	}
	if err := a.checkClass(pred); err != nil {
		return fmt.Errorf("predicted: %w", err)
	}
	if gold == pred {
		a.tp[gold]++
	} else {
		a.fn[gold]++
		a.fp[pred]++
	}
	return nil
}

// AddBatch records aligned sequences of gold and predicted class ids.
func (a *Accumulator) AddBatch(gold, pred []int64) error {
	if len(gold) != len(pred) {
		return fmt.Errorf("%w: %d gold, %d predicted", ErrLengthMismatch, len(gold), len(pred))
	}
	for i := range gold {
		if err := a.AddPair(gold[i], pred[i]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accumulator) checkClass(c int64) error {
	if c < 0 || int(c) >= a.numClasses {
		return fmt.Errorf("%w: %d with %d classes", ErrClassOutOfRange, c, a.numClasses)
	}
	return nil
}
// #endregion add

// #region compute
// Compute returns a point-in-time report over everything added so far.
// It does not mutate the accumulator and may be called repeatedly.
func (a *Accumulator) Compute() Report {
	rep := Report{
		NumClasses: a.numClasses,
		PerClass:   make([]Scores, a.numClasses),
	}

	var tpSum, fpSum, fnSum int64
	var macroP, macroR, macroF float64

	for c := 0; c < a.numClasses; c++ {
		s := scoresFromCounts(a.tp[c], a.fp[c], a.fn[c])
		rep.PerClass[c] = s
		macroP += s.Precision
		macroR += s.Recall
		macroF += s.F1
		tpSum += a.tp[c]
		fpSum += a.fp[c]
		fnSum += a.fn[c]
	}

	// Macro: unweighted mean over all declared classes. Classes with zero
	// support contribute 0 and stay in the denominator.
	n := float64(a.numClasses)
	rep.Macro = Scores{Precision: macroP / n, Recall: macroR / n, F1: macroF / n}

	// Micro: pool raw counts across classes first.
	rep.Micro = scoresFromCounts(tpSum, fpSum, fnSum)

	return rep
}

// scoresFromCounts derives precision, recall, and F1 with zero-denominator
// guards: any undefined ratio is reported as 0, never NaN.
func scoresFromCounts(tp, fp, fn int64) Scores {
	var s Scores
	if tp+fp > 0 {
		s.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		s.Recall = float64(tp) / float64(tp+fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}
// #endregion compute

// #region counts
// Counts exposes the raw confusion counters for one class.
func (a *Accumulator) Counts(class int) (tp, fp, fn int64) {
	return a.tp[class], a.fp[class], a.fn[class]
}
// #endregion counts
