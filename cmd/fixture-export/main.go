package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/clinnlp/note-trainer/internal/aggregate"
	"github.com/clinnlp/note-trainer/internal/codec"
	"github.com/clinnlp/note-trainer/internal/config"
	"github.com/clinnlp/note-trainer/internal/dataset"
	"github.com/clinnlp/note-trainer/internal/replay"
)

// #region main

func main() {
	datasetPath := flag.String("dataset", "", "path to dataset splits")
	checkpoint := flag.String("checkpoint", "", "model checkpoint to load")
	serviceAddr := flag.String("service-addr", "http://localhost:8400", "training service base URL")
	numClasses := flag.Int("n-classes", 0, "number of classes")
	split := flag.String("split", "validation", "split to export (train, validation, test)")
	last := flag.Int("last", 8, "number of units to export")
	batchSize := flag.Int("batch-size", 0, "batch size (0 = per-document units)")
	weighting := flag.Bool("weighting", false, "weight overlapping note chunks by position")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *datasetPath == "" || *checkpoint == "" || *numClasses <= 0 || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --dataset d.json --checkpoint c --n-classes N --out fixture.json "+
			"[--split s] [--last N] [--batch-size N] [--weighting] [--service-addr url]")
		os.Exit(2)
	}

	cfg := config.Config{
		DatasetPath: *datasetPath,
		BatchSize:   *batchSize,
		Weighting:   *weighting,
	}
	r := cfg.Resolve()

	err := run(r.Mode, *datasetPath, *checkpoint, *serviceAddr, *numClasses, *split, *last, *batchSize, *outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(mode aggregate.Mode, datasetPath, checkpoint, serviceAddr string, numClasses int, split string, last, batchSize int, outPath string) error {
	ctx := context.Background()

	ds, err := dataset.Load(datasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	docs, err := pickSplit(ds, split)
	if err != nil {
		return err
	}

	var units []dataset.Unit
	if mode == aggregate.ModeFixedBatch {
		units, err = dataset.CollateBatch(docs, batchSize)
	} else {
		units, err = dataset.CollateWindow(docs)
	}
	if err != nil {
		return fmt.Errorf("collate %s split: %w", split, err)
	}
	if len(units) > last {
		units = units[:last]
	}

	client := codec.NewClient(serviceAddr)
	if err := client.Ready(ctx); err != nil {
		return fmt.Errorf("service not ready at %s: %w", serviceAddr, err)
	}
	_, err = client.Init(ctx, codec.InitRequest{
		Checkpoint:   checkpoint,
		NumClasses:   numClasses,
		LearningRate: 5e-5,
		TotalSteps:   len(units),
		Seed:         42,
	})
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	if err := client.Eval(ctx); err != nil {
		return fmt.Errorf("set eval mode: %w", err)
	}

	fixture, err := buildFixture(ctx, client, mode, numClasses, split, units)
	if err != nil {
		return err
	}
	if err := replay.SaveFixture(outPath, fixture); err != nil {
		return err
	}
	fmt.Printf("Wrote fixture to %s (%d units)\n", outPath, len(fixture.Units))
	return nil
}

func pickSplit(ds *dataset.Dataset, split string) ([]dataset.Document, error) {
	switch split {
	case "train":
		return ds.Train, nil
	case "validation":
		return ds.Validation, nil
	case "test":
		return ds.Test, nil
	default:
		return nil, fmt.Errorf("unknown split %q", split)
	}
}

// #endregion export

// #region fixture

// buildFixture records one forward pass per unit and the prediction the
// aggregation pipeline derives from it, so a later replay can verify the
// pipeline against what the live service produced.
func buildFixture(ctx context.Context, client *codec.Client, mode aggregate.Mode, numClasses int, split string, units []dataset.Unit) (*replay.Fixture, error) {
	fixture := &replay.Fixture{
		Description: fmt.Sprintf("Live export: %d units from the %s split", len(units), split),
		NumClasses:  numClasses,
		Mode:        replay.ModeName(mode),
	}

	for i, u := range units {
		out, err := client.Forward(ctx, u, mode == aggregate.ModeFixedBatch)
		if err != nil {
			return nil, fmt.Errorf("forward unit %d: %w", i, err)
		}
		res, err := aggregate.Combine(mode, out, u.Labels)
		if err != nil {
			return nil, fmt.Errorf("combine unit %d: %w", i, err)
		}

		unitID := fmt.Sprintf("unit-%d", i)
		fixture.Units = append(fixture.Units, replay.FixtureUnit{
			UnitID: unitID,
			Logits: out.Logits,
			Labels: u.Labels,
			Loss:   out.Loss,
		})

		var preds []int64
		if mode == aggregate.ModeFixedBatch {
			preds = make([]int64, len(res.Rows))
			for r, row := range res.Rows {
				preds[r] = aggregate.Argmax(row)
			}
		} else {
			preds = []int64{aggregate.Argmax(res.Combined)}
		}
		fixture.Expected = append(fixture.Expected, replay.ExpectedOutcome{
			UnitID:     unitID,
			Prediction: preds,
		})
	}

	return fixture, nil
}

// #endregion fixture
