package codec

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clinnlp/note-trainer/internal/aggregate"
	"github.com/clinnlp/note-trainer/internal/dataset"
	"github.com/clinnlp/note-trainer/internal/runner"
)

// #region types
// InitRequest configures a training session on the Python service: which
// pretrained checkpoint to load, the classification head size, and the
// optimizer/schedule parameters derived by the controller.
type InitRequest struct {
	Checkpoint   string  `json:"checkpoint"`
	NumClasses   int     `json:"num_classes"`
	LearningRate float64 `json:"learning_rate"`
	WarmupSteps  int     `json:"warmup_steps"`
	TotalSteps   int     `json:"total_steps"`
	Seed         int64   `json:"seed"`
}

// InitResponse reports what the service allocated for the session.
type InitResponse struct {
	Devices int `json:"devices"`
}

// CheckpointResponse carries the service-side path of a saved checkpoint.
type CheckpointResponse struct {
	Path string `json:"path"`
}

type modeRequest struct {
	Training bool `json:"training"`
}

type forwardRequest struct {
	InputIDs    [][]int64 `json:"input_ids"`
	Labels      []int64   `json:"labels"`
	ComputeLoss bool      `json:"compute_loss"`
}

type forwardResponse struct {
	Logits [][]float64 `json:"logits"`
	Loss   *float64    `json:"loss"`
}

type backwardRequest struct {
	Weights []float64 `json:"weights"`
	Label   int64     `json:"label"`
}

type checkpointRequest struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
}
// #endregion types

// #region client
// Client wraps the HTTP connection to the Python training service. It
// implements the runner.Model interface; Optimizer() and Scheduler()
// expose the remaining collaborator surfaces.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(120 * time.Second),
	}
}

// NewClientWithHTTP creates a Client around a preconfigured resty client.
// Used by tests to point at a local stub server.
func NewClientWithHTTP(http *resty.Client) *Client {
	return &Client{http: http}
}

// post runs one JSON POST and decodes the response into out (may be nil).
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: service returned %s: %s", path, resp.Status(), resp.String())
	}
	return nil
}
// #endregion client

// #region readiness
// Ready probes the service health endpoint.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("health: service returned %s", resp.Status())
	}
	return nil
}

// WaitReady polls the health endpoint until the service answers or the
// attempts run out. Only startup is retried; failures after the session
// begins are fatal to the run.
func (c *Client) WaitReady(ctx context.Context, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.Ready(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("service not ready after %d attempts: %w", attempts, err)
}
// #endregion readiness

// #region init
// Init loads the pretrained model and builds the optimizer and schedule
// on the service side. Returns the device count used for data-parallel
// replication.
func (c *Client) Init(ctx context.Context, req InitRequest) (InitResponse, error) {
	var out InitResponse
	if err := c.post(ctx, "/training/init", req, &out); err != nil {
		return InitResponse{}, err
	}
	if out.Devices < 1 {
		out.Devices = 1
	}
	return out, nil
}
// #endregion init

// #region model
// Train switches the remote model into training mode.
func (c *Client) Train(ctx context.Context) error {
	return c.post(ctx, "/model/mode", modeRequest{Training: true}, nil)
}

// Eval switches the remote model into inference mode.
func (c *Client) Eval(ctx context.Context) error {
	return c.post(ctx, "/model/mode", modeRequest{Training: false}, nil)
}

// Forward runs one unit through the network. While in training mode the
// service retains the computation graph so a following Backward can use
// it.
func (c *Client) Forward(ctx context.Context, unit dataset.Unit, computeLoss bool) (aggregate.ModelOutput, error) {
	var out forwardResponse
	err := c.post(ctx, "/model/forward", forwardRequest{
		InputIDs:    unit.Rows,
		Labels:      unit.Labels,
		ComputeLoss: computeLoss,
	}, &out)
	if err != nil {
		return aggregate.ModelOutput{}, err
	}
	return aggregate.ModelOutput{Logits: out.Logits, Loss: out.Loss}, nil
}

// Backward backpropagates the document loss for the retained forward
// pass. A non-nil weight vector asks the service to re-apply the weighted
// combination before the backward pass; nil backpropagates the native
// batched loss.
func (c *Client) Backward(ctx context.Context, weights []float64, label int64) error {
	return c.post(ctx, "/model/backward", backwardRequest{Weights: weights, Label: label}, nil)
}
// #endregion model

// #region optimizer
type optimizerClient struct {
	c *Client
}

func (o optimizerClient) Step(ctx context.Context) error {
	return o.c.post(ctx, "/optimizer/step", nil, nil)
}

func (o optimizerClient) ZeroGrad(ctx context.Context) error {
	return o.c.post(ctx, "/optimizer/zero_grad", nil, nil)
}

// Optimizer exposes the remote optimizer collaborator.
func (c *Client) Optimizer() runner.Optimizer {
	return optimizerClient{c: c}
}

type schedulerClient struct {
	c *Client
}

func (s schedulerClient) Step(ctx context.Context) error {
	return s.c.post(ctx, "/scheduler/step", nil, nil)
}

// Scheduler exposes the remote learning-rate schedule collaborator.
func (c *Client) Scheduler() runner.Scheduler {
	return schedulerClient{c: c}
}
// #endregion optimizer

// #region checkpoint
// SaveCheckpoint tells the service to persist model and optimizer state
// for the given epoch and returns the service-side path.
func (c *Client) SaveCheckpoint(ctx context.Context, epoch int, trainLoss float64) (string, error) {
	var out CheckpointResponse
	err := c.post(ctx, "/model/checkpoint", checkpointRequest{Epoch: epoch, TrainLoss: trainLoss}, &out)
	if err != nil {
		return "", err
	}
	return out.Path, nil
}
// #endregion checkpoint
