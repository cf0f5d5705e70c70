package codec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clinnlp/note-trainer/internal/dataset"
)

// stubService records the last request per path and plays back canned
// JSON responses.
type stubService struct {
	mux      *http.ServeMux
	requests map[string]json.RawMessage
}

func newStubService() *stubService {
	s := &stubService{
		mux:      http.NewServeMux(),
		requests: make(map[string]json.RawMessage),
	}
	return s
}

func (s *stubService) handle(path string, status int, response string) {
	s.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.requests[path] = body
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	})
}

func testClient(t *testing.T, s *stubService) *Client {
	t.Helper()
	srv := httptest.NewServer(s.mux)
	t.Cleanup(srv.Close)
	return NewClientWithHTTP(resty.New().SetBaseURL(srv.URL))
}

func TestForward(t *testing.T) {
	s := newStubService()
	s.handle("/model/forward", http.StatusOK, `{"logits": [[0.1, 0.9], [0.8, 0.2]], "loss": null}`)
	c := testClient(t, s)

	unit := dataset.Unit{
		Rows:   [][]int64{{101, 5, 102}, {101, 6, 102}},
		Labels: []int64{1, 1},
	}
	out, err := c.Forward(context.Background(), unit, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(out.Logits) != 2 || out.Logits[0][1] != 0.9 {
		t.Fatalf("unexpected logits: %v", out.Logits)
	}
	if out.Loss != nil {
		t.Fatal("expected no loss without compute_loss")
	}

	var req forwardRequest
	if err := json.Unmarshal(s.requests["/model/forward"], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(req.InputIDs) != 2 || req.Labels[0] != 1 || req.ComputeLoss {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestForwardWithLoss(t *testing.T) {
	s := newStubService()
	s.handle("/model/forward", http.StatusOK, `{"logits": [[0.5, 0.5]], "loss": 0.693}`)
	c := testClient(t, s)

	out, err := c.Forward(context.Background(), dataset.Unit{
		Rows:   [][]int64{{101}},
		Labels: []int64{0},
	}, true)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.Loss == nil || *out.Loss != 0.693 {
		t.Fatalf("expected loss 0.693, got %v", out.Loss)
	}
}

func TestBackwardSendsWeights(t *testing.T) {
	s := newStubService()
	s.handle("/model/backward", http.StatusOK, `{}`)
	c := testClient(t, s)

	if err := c.Backward(context.Background(), []float64{0.4, 0.2}, 2); err != nil {
		t.Fatalf("Backward: %v", err)
	}
	var req backwardRequest
	if err := json.Unmarshal(s.requests["/model/backward"], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(req.Weights) != 2 || req.Label != 2 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestModeToggling(t *testing.T) {
	s := newStubService()
	s.handle("/model/mode", http.StatusOK, `{}`)
	c := testClient(t, s)

	if err := c.Train(context.Background()); err != nil {
		t.Fatalf("Train: %v", err)
	}
	var req modeRequest
	if err := json.Unmarshal(s.requests["/model/mode"], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if !req.Training {
		t.Fatal("Train must request training mode")
	}

	if err := c.Eval(context.Background()); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if err := json.Unmarshal(s.requests["/model/mode"], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Training {
		t.Fatal("Eval must request inference mode")
	}
}

func TestOptimizerAndScheduler(t *testing.T) {
	s := newStubService()
	s.handle("/optimizer/step", http.StatusOK, `{}`)
	s.handle("/optimizer/zero_grad", http.StatusOK, `{}`)
	s.handle("/scheduler/step", http.StatusOK, `{}`)
	c := testClient(t, s)

	if err := c.Optimizer().Step(context.Background()); err != nil {
		t.Fatalf("optimizer step: %v", err)
	}
	if err := c.Optimizer().ZeroGrad(context.Background()); err != nil {
		t.Fatalf("zero grad: %v", err)
	}
	if err := c.Scheduler().Step(context.Background()); err != nil {
		t.Fatalf("scheduler step: %v", err)
	}
	for _, p := range []string{"/optimizer/step", "/optimizer/zero_grad", "/scheduler/step"} {
		if _, ok := s.requests[p]; !ok {
			t.Fatalf("no request recorded for %s", p)
		}
	}
}

func TestInit(t *testing.T) {
	s := newStubService()
	s.handle("/training/init", http.StatusOK, `{"devices": 2}`)
	c := testClient(t, s)

	out, err := c.Init(context.Background(), InitRequest{
		Checkpoint:   "clinical-bert-base",
		NumClasses:   5,
		LearningRate: 5e-5,
		WarmupSteps:  12,
		TotalSteps:   1200,
		Seed:         42,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if out.Devices != 2 {
		t.Fatalf("expected 2 devices, got %d", out.Devices)
	}

	var req InitRequest
	if err := json.Unmarshal(s.requests["/training/init"], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Checkpoint != "clinical-bert-base" || req.NumClasses != 5 || req.Seed != 42 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestInitDefaultsToOneDevice(t *testing.T) {
	s := newStubService()
	s.handle("/training/init", http.StatusOK, `{"devices": 0}`)
	c := testClient(t, s)

	out, err := c.Init(context.Background(), InitRequest{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if out.Devices != 1 {
		t.Fatalf("expected device floor of 1, got %d", out.Devices)
	}
}

func TestSaveCheckpoint(t *testing.T) {
	s := newStubService()
	s.handle("/model/checkpoint", http.StatusOK, `{"path": "/runs/checkpoint-10.pt"}`)
	c := testClient(t, s)

	path, err := c.SaveCheckpoint(context.Background(), 10, 0.42)
	if err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if path != "/runs/checkpoint-10.pt" {
		t.Fatalf("unexpected path %q", path)
	}
	var req checkpointRequest
	if err := json.Unmarshal(s.requests["/model/checkpoint"], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Epoch != 10 || req.TrainLoss != 0.42 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestServiceErrorPropagates(t *testing.T) {
	s := newStubService()
	s.handle("/model/forward", http.StatusInternalServerError, `{"error": "CUDA out of memory"}`)
	c := testClient(t, s)

	_, err := c.Forward(context.Background(), dataset.Unit{
		Rows:   [][]int64{{101}},
		Labels: []int64{0},
	}, false)
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("service message not propagated: %v", err)
	}
}

func TestReady(t *testing.T) {
	s := newStubService()
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := testClient(t, s)
	if err := c.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}

func TestWaitReadyRecoversFromStartup(t *testing.T) {
	s := newStubService()
	calls := 0
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	c := testClient(t, s)

	if err := c.WaitReady(context.Background(), 5, time.Millisecond); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 probes, got %d", calls)
	}
}

func TestWaitReadyGivesUp(t *testing.T) {
	s := newStubService()
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := testClient(t, s)

	if err := c.WaitReady(context.Background(), 2, time.Millisecond); err == nil {
		t.Fatal("expected error when service never comes up")
	}
}
