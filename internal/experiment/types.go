package experiment

import "time"

// #region run-record
// RunRecord identifies one training run and the configuration it was
// launched with.
type RunRecord struct {
	RunID      string
	ConfigJSON string
	CreatedAt  time.Time
}
// #endregion run-record

// #region epoch-record
// EpochRecord is one row of per-epoch results: the two mean losses and
// the flattened validation (or test) metrics as JSON.
type EpochRecord struct {
	RunID      string
	Epoch      int
	Phase      string // "validation" | "test"
	TrainLoss  float64
	ValLoss    float64
	ReportJSON string
	CreatedAt  time.Time
}
// #endregion epoch-record

// #region checkpoint-record
// CheckpointRecord points at a model/optimizer snapshot saved by the
// training service.
type CheckpointRecord struct {
	RunID      string
	Epoch      int
	RemotePath string
	TrainLoss  float64
	CreatedAt  time.Time
}
// #endregion checkpoint-record
