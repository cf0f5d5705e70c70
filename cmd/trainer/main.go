package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/clinnlp/note-trainer/internal/aggregate"
	"github.com/clinnlp/note-trainer/internal/codec"
	"github.com/clinnlp/note-trainer/internal/config"
	"github.com/clinnlp/note-trainer/internal/dataset"
	"github.com/clinnlp/note-trainer/internal/experiment"
	"github.com/clinnlp/note-trainer/internal/metrics"
	"github.com/clinnlp/note-trainer/internal/report"
	"github.com/clinnlp/note-trainer/internal/runner"
)

// checkpointEvery controls how often the service is asked to persist
// model and optimizer state. The final epoch always checkpoints.
const checkpointEvery = 10

// #region main
func main() {
	cfg, err := config.FromArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("[TRAIN] config: %v", err)
	}
	if v := os.Getenv("TRAINER_SERVICE_ADDR"); v != "" {
		cfg.ServiceAddr = v
	}
	if v := os.Getenv("TRAINER_DB"); v != "" {
		cfg.DBPath = v
	}
	r := cfg.Resolve()
	ctx := context.Background()

	// 1. Load the tokenized dataset splits
	ds, err := dataset.Load(r.DatasetPath)
	if err != nil {
		log.Fatalf("[TRAIN] load dataset: %v", err)
	}
	log.Printf("[TRAIN] dataset: %d train / %d validation / %d test documents",
		len(ds.Train), len(ds.Validation), len(ds.Test))

	// 2. Connect to the training service and initialize the session
	client := codec.NewClient(r.ServiceAddr)
	if err := client.WaitReady(ctx, 10, 3*time.Second); err != nil {
		log.Fatalf("[TRAIN] service not ready at %s: %v", r.ServiceAddr, err)
	}
	stepsPerEpoch := unitsPerEpoch(len(ds.Train), r)
	totalSteps := stepsPerEpoch * r.Epochs
	init, err := client.Init(ctx, codec.InitRequest{
		Checkpoint:   r.Checkpoint,
		NumClasses:   r.NumClasses,
		LearningRate: r.LearningRate,
		WarmupSteps:  config.WarmupSteps(totalSteps),
		TotalSteps:   totalSteps,
		Seed:         r.Seed,
	})
	if err != nil {
		log.Fatalf("[TRAIN] init session: %v", err)
	}
	log.Printf("[TRAIN] session ready: %d device(s), %d steps (%d warmup)",
		init.Devices, totalSteps, config.WarmupSteps(totalSteps))

	// 3. Register the run
	store, err := experiment.NewStore(r.DBPath)
	if err != nil {
		log.Fatalf("[TRAIN] open experiment db: %v", err)
	}
	defer store.Close()

	cfgJSON, err := cfg.JSON()
	if err != nil {
		log.Fatalf("[TRAIN] encode config: %v", err)
	}
	run, err := store.CreateRun(cfgJSON)
	if err != nil {
		log.Fatalf("[TRAIN] create run: %v", err)
	}
	log.Printf("[TRAIN] run %s", run.RunID)

	if err := os.MkdirAll(r.OutDir, 0o755); err != nil {
		log.Fatalf("[TRAIN] create output dir: %v", err)
	}
	csv, err := report.NewCSVWriter(filepath.Join(r.OutDir, run.RunID+".csv"), fixedInfo(ds, r), r.NumClasses)
	if err != nil {
		log.Fatalf("[TRAIN] open csv: %v", err)
	}
	defer csv.Close()

	// 4. Collate the held-out splits once; training re-collates per epoch
	// after shuffling
	valUnits, err := collate(ds.Validation, r)
	if err != nil {
		log.Fatalf("[TRAIN] collate validation split: %v", err)
	}

	epochRunner := runner.NewEpochRunner(client, client.Optimizer(), client.Scheduler())
	for epoch := 0; epoch < r.Epochs; epoch++ {
		shuffled := dataset.Shuffle(ds.Train, r.Seed+int64(epoch))
		trainUnits, err := collate(shuffled, r)
		if err != nil {
			log.Fatalf("[TRAIN] collate train split: %v", err)
		}

		rc := runner.RunContext{
			Epoch:      epoch,
			Devices:    init.Devices,
			NumClasses: r.NumClasses,
			Mode:       r.Mode,
		}
		res, err := epochRunner.Run(ctx, rc, trainUnits, valUnits)
		if err != nil {
			log.Fatalf("[TRAIN] epoch %d: %v", epoch, err)
		}

		report.LogEpoch(epoch, res.TrainLoss, res.ValLoss)
		report.LogReport("VAL", res.Metrics)
		if err := csv.WriteEpoch(epoch, res.TrainLoss, res.ValLoss, res.Metrics); err != nil {
			log.Fatalf("[TRAIN] write csv: %v", err)
		}
		if err := logEpoch(store, run.RunID, epoch, "validation", res.TrainLoss, res.ValLoss, res.Metrics); err != nil {
			log.Fatalf("[TRAIN] record epoch: %v", err)
		}

		if (epoch+1)%checkpointEvery == 0 || epoch == r.Epochs-1 {
			path, err := client.SaveCheckpoint(ctx, epoch, res.TrainLoss)
			if err != nil {
				log.Fatalf("[TRAIN] save checkpoint: %v", err)
			}
			err = store.RecordCheckpoint(experiment.CheckpointRecord{
				RunID:      run.RunID,
				Epoch:      epoch,
				RemotePath: path,
				TrainLoss:  res.TrainLoss,
			})
			if err != nil {
				log.Fatalf("[TRAIN] record checkpoint: %v", err)
			}
			log.Printf("[TRAIN] checkpoint after epoch %d at %s", epoch, path)
		}
	}

	// 5. Final pass over the test split
	testUnits, err := collate(ds.Test, r)
	if err != nil {
		log.Fatalf("[TRAIN] collate test split: %v", err)
	}
	eval := runner.NewEvaluationRunner(client)
	rc := runner.RunContext{
		Epoch:      r.Epochs - 1,
		Devices:    init.Devices,
		NumClasses: r.NumClasses,
		Mode:       r.Mode,
	}
	testRes, err := eval.Run(ctx, rc, testUnits)
	if err != nil {
		log.Fatalf("[TRAIN] test pass: %v", err)
	}
	report.LogReport("TEST", testRes.Metrics)
	if err := csv.WriteTest(testRes.Metrics); err != nil {
		log.Fatalf("[TRAIN] write csv: %v", err)
	}
	if err := logEpoch(store, run.RunID, r.Epochs-1, "test", 0, testRes.Loss, testRes.Metrics); err != nil {
		log.Fatalf("[TRAIN] record test: %v", err)
	}

	log.Printf("[TRAIN] done: run %s", run.RunID)
}
// #endregion main

// #region helpers

// collate turns documents into the mode's unit shape.
func collate(docs []dataset.Document, r config.Resolved) ([]dataset.Unit, error) {
	if r.Mode == aggregate.ModeFixedBatch {
		return dataset.CollateBatch(docs, r.BatchSize)
	}
	return dataset.CollateWindow(docs)
}

// unitsPerEpoch counts optimizer steps per epoch for the schedule.
func unitsPerEpoch(trainDocs int, r config.Resolved) int {
	if r.Mode == aggregate.ModeFixedBatch {
		return (trainDocs + r.BatchSize - 1) / r.BatchSize
	}
	return trainDocs
}

func fixedInfo(ds *dataset.Dataset, r config.Resolved) report.FixedInfo {
	labelled := len(ds.Train) + len(ds.Validation)
	valSplit := 0.0
	if labelled > 0 {
		valSplit = float64(len(ds.Validation)) / float64(labelled)
	}
	return report.FixedInfo{
		LearningRate: r.LearningRate,
		ValSplit:     valSplit,
		WindowSize:   r.WindowSize,
		SeqLen:       r.SeqLen,
		BatchSize:    r.BatchSize,
		Weighting:    r.Weighting,
	}
}

func logEpoch(store *experiment.Store, runID string, epoch int, phase string, trainLoss, valLoss float64, rep metrics.Report) error {
	b, err := json.Marshal(rep.Groups())
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return store.LogEpoch(experiment.EpochRecord{
		RunID:      runID,
		Epoch:      epoch,
		Phase:      phase,
		TrainLoss:  trainLoss,
		ValLoss:    valLoss,
		ReportJSON: string(b),
	})
}

// #endregion helpers
