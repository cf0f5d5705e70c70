package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/clinnlp/note-trainer/internal/aggregate"
	"github.com/clinnlp/note-trainer/internal/dataset"
)

// #region mocks
// mockService plays model, optimizer, and scheduler at once and records
// the call sequence for ordering assertions.
type mockService struct {
	calls []string

	logits     map[string][][]float64 // keyed by first token of first row
	batchLoss  float64
	forwardErr error
	stepErr    error
}

func (m *mockService) key(u dataset.Unit) string {
	return fmt.Sprintf("%d", u.Rows[0][0])
}

func (m *mockService) Train(context.Context) error {
	m.calls = append(m.calls, "train")
	return nil
}

func (m *mockService) Eval(context.Context) error {
	m.calls = append(m.calls, "eval")
	return nil
}

func (m *mockService) Forward(_ context.Context, u dataset.Unit, computeLoss bool) (aggregate.ModelOutput, error) {
	m.calls = append(m.calls, "forward")
	if m.forwardErr != nil {
		return aggregate.ModelOutput{}, m.forwardErr
	}
	out := aggregate.ModelOutput{Logits: m.logits[m.key(u)]}
	if computeLoss {
		loss := m.batchLoss
		out.Loss = &loss
	}
	return out, nil
}

func (m *mockService) Backward(_ context.Context, weights []float64, _ int64) error {
	if weights == nil {
		m.calls = append(m.calls, "backward-native")
	} else {
		m.calls = append(m.calls, "backward-weighted")
	}
	return nil
}

func (m *mockService) Step(context.Context) error {
	m.calls = append(m.calls, "opt-step")
	return m.stepErr
}

func (m *mockService) ZeroGrad(context.Context) error {
	m.calls = append(m.calls, "zero-grad")
	return nil
}

// schedStep separates the scheduler from the optimizer in the call log.
type schedStep struct{ m *mockService }

func (s schedStep) Step(context.Context) error {
	s.m.calls = append(s.m.calls, "sched-step")
	return nil
}
// #endregion mocks

func approx(t *testing.T, got, want float64, what string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s: got %v, want %v", what, got, want)
	}
}

func windowUnit(firstToken, label int64, chunks int) dataset.Unit {
	u := dataset.Unit{}
	for i := 0; i < chunks; i++ {
		u.Rows = append(u.Rows, []int64{firstToken, int64(i)})
		u.Labels = append(u.Labels, label)
	}
	return u
}

func TestEpochRunnerWeightedWindow(t *testing.T) {
	m := &mockService{logits: map[string][][]float64{
		// unit 1: two chunks, gold 0, first chunk dominates toward 0
		"1": {{3.0, -1.0}, {-2.0, 1.0}},
		// unit 2: one chunk, gold 1, predicted 0 (miss)
		"2": {{2.0, 0.0}},
	}}
	r := NewEpochRunner(m, m, schedStep{m})
	rc := RunContext{Epoch: 0, Devices: 1, NumClasses: 2, Mode: aggregate.ModeWeightedWindow}

	train := []dataset.Unit{windowUnit(1, 0, 2), windowUnit(2, 1, 1)}
	val := []dataset.Unit{windowUnit(1, 0, 2), windowUnit(2, 1, 1)}

	res, err := r.Run(context.Background(), rc, train, val)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Expected losses straight from the aggregation policy.
	c1, err := aggregate.Combine(rc.Mode, aggregate.ModelOutput{Logits: m.logits["1"]}, []int64{0, 0})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	c2, err := aggregate.Combine(rc.Mode, aggregate.ModelOutput{Logits: m.logits["2"]}, []int64{1})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	approx(t, res.TrainLoss, (c1.Loss+c2.Loss)/2, "train loss")
	approx(t, res.ValLoss, (c1.Loss+c2.Loss)/2, "val loss")

	// unit 1 correct, unit 2 predicted 0 instead of 1.
	approx(t, res.Metrics.Micro.F1, 0.5, "micro F1")

	// TRAIN strictly precedes VALIDATE and each training unit runs the
	// full forward → backward → step → sched → zero-grad cycle.
	want := []string{
		"train",
		"forward", "backward-weighted", "opt-step", "sched-step", "zero-grad",
		"forward", "backward-weighted", "opt-step", "sched-step", "zero-grad",
		"eval",
		"forward", "forward",
	}
	if len(m.calls) != len(want) {
		t.Fatalf("call sequence %v", m.calls)
	}
	for i := range want {
		if m.calls[i] != want[i] {
			t.Fatalf("call %d: got %s, want %s (full: %v)", i, m.calls[i], want[i], m.calls)
		}
	}
}

func TestEpochRunnerFixedBatchAccounting(t *testing.T) {
	m := &mockService{
		batchLoss: 0.5,
		logits: map[string][][]float64{
			"1": {{2.0, 0.0}, {0.0, 2.0}, {2.0, 0.0}},
			"2": {{0.0, 2.0}},
		},
	}
	r := NewEpochRunner(m, m, schedStep{m})
	rc := RunContext{Devices: 1, NumClasses: 2, Mode: aggregate.ModeFixedBatch}

	// 3-row batch then a trailing 1-row batch: 4 documents total.
	train := []dataset.Unit{
		{Rows: [][]int64{{1, 0}, {1, 1}, {1, 2}}, Labels: []int64{0, 1, 1}},
		{Rows: [][]int64{{2, 0}}, Labels: []int64{1}},
	}

	res, err := r.Run(context.Background(), rc, train, train)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The model's mean loss re-weights by row count: (0.5*3 + 0.5*1) / 4.
	approx(t, res.TrainLoss, 0.5, "train loss")

	// Row 3 of batch 1 is gold 1 predicted 0; everything else correct.
	approx(t, res.Metrics.Micro.F1, 0.75, "micro F1")

	// Native loss is backpropagated in fixed-batch mode.
	for _, c := range m.calls {
		if c == "backward-weighted" {
			t.Fatal("fixed batch must not backpropagate a weight vector")
		}
	}
}

func TestEpochRunnerSingleModeOnesFallback(t *testing.T) {
	// Two chunks without weighting: rows are summed, so the combined
	// decision follows the larger-magnitude row.
	m := &mockService{logits: map[string][][]float64{
		"1": {{1.0, 0.0}, {0.0, 3.0}},
	}}
	r := NewEpochRunner(m, m, schedStep{m})
	rc := RunContext{Devices: 1, NumClasses: 2, Mode: aggregate.ModeSingle}

	u := windowUnit(1, 1, 2)
	res, err := r.Run(context.Background(), rc, []dataset.Unit{u}, []dataset.Unit{u})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	approx(t, res.ValLoss, aggregate.CrossEntropy([]float64{1.0, 3.0}, 1), "val loss")
	approx(t, res.Metrics.Micro.F1, 1.0, "micro F1")
}

func TestEpochRunnerEmptyTrainStream(t *testing.T) {
	m := &mockService{}
	r := NewEpochRunner(m, m, schedStep{m})
	rc := RunContext{Devices: 1, NumClasses: 2, Mode: aggregate.ModeSingle}

	_, err := r.Run(context.Background(), rc, nil, []dataset.Unit{windowUnit(1, 0, 1)})
	if !errors.Is(err, ErrEmptyStream) {
		t.Fatalf("expected ErrEmptyStream, got %v", err)
	}
}

func TestEpochRunnerForwardFailureIsFatal(t *testing.T) {
	boom := errors.New("device assertion failed")
	m := &mockService{forwardErr: boom}
	r := NewEpochRunner(m, m, schedStep{m})
	rc := RunContext{Devices: 1, NumClasses: 2, Mode: aggregate.ModeSingle}

	u := windowUnit(1, 0, 1)
	_, err := r.Run(context.Background(), rc, []dataset.Unit{u}, []dataset.Unit{u})
	if !errors.Is(err, boom) {
		t.Fatalf("expected propagated forward error, got %v", err)
	}
}

func TestDeviceCountNormalization(t *testing.T) {
	m := &mockService{logits: map[string][][]float64{"1": {{2.0, 0.0}}}}
	r := NewEpochRunner(m, m, schedStep{m})
	u := windowUnit(1, 0, 1)

	one, err := r.Run(context.Background(),
		RunContext{Devices: 1, NumClasses: 2, Mode: aggregate.ModeSingle},
		[]dataset.Unit{u}, []dataset.Unit{u})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	two, err := r.Run(context.Background(),
		RunContext{Devices: 2, NumClasses: 2, Mode: aggregate.ModeSingle},
		[]dataset.Unit{u}, []dataset.Unit{u})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	approx(t, two.TrainLoss, one.TrainLoss/2, "device-normalized loss")
}

func TestEvaluationRunner(t *testing.T) {
	m := &mockService{logits: map[string][][]float64{
		"1": {{3.0, -1.0}},
		"2": {{-1.0, 3.0}},
	}}
	r := NewEvaluationRunner(m)
	rc := RunContext{Devices: 1, NumClasses: 2, Mode: aggregate.ModeWeightedWindow}

	units := []dataset.Unit{windowUnit(1, 0, 1), windowUnit(2, 1, 1)}
	res, err := r.Run(context.Background(), rc, units)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	approx(t, res.Metrics.Micro.F1, 1.0, "micro F1")

	// No training side effects: eval mode only, forwards only.
	for _, c := range m.calls {
		switch c {
		case "train", "opt-step", "sched-step", "zero-grad", "backward-weighted", "backward-native":
			t.Fatalf("evaluation produced training call %s", c)
		}
	}
}
