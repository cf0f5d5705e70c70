package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strings"

	"github.com/clinnlp/note-trainer/internal/aggregate"
)

// #region config
// Config is the raw launch configuration before mode resolution.
type Config struct {
	DatasetPath  string  `json:"dataset"`
	Checkpoint   string  `json:"checkpoint"`
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	NumClasses   int     `json:"n_classes"`
	BatchSize    int     `json:"batch_size"` // 0 = not configured
	Weighting    bool    `json:"weighting"`
	ServiceAddr  string  `json:"service_addr"`
	DBPath       string  `json:"db_path"`
	OutDir       string  `json:"out_dir"`
	Seed         int64   `json:"seed"`
}

// Resolved is the configuration after the operating mode has been
// decided. The mode is fixed once here; nothing downstream re-derives it
// from optional fields.
type Resolved struct {
	Config
	Mode       aggregate.Mode
	WindowSize string
	SeqLen     string
}
// #endregion config

// #region flags
// FromArgs parses the command line. Args excludes the program name.
func FromArgs(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("trainer", flag.ContinueOnError)
	fs.StringVar(&cfg.DatasetPath, "dataset", "", "path to dataset splits")
	fs.StringVar(&cfg.Checkpoint, "checkpoint", "", "pretrained model checkpoint")
	fs.IntVar(&cfg.Epochs, "epochs", 0, "number of epochs")
	fs.Float64Var(&cfg.LearningRate, "learning-rate", 5e-5, "learning rate")
	fs.IntVar(&cfg.NumClasses, "n-classes", 0, "number of classes")
	fs.IntVar(&cfg.BatchSize, "batch-size", 0, "batch size for non-overlapping notes (0 = per-document units)")
	fs.BoolVar(&cfg.Weighting, "weighting", false, "weight overlapping note chunks by position")
	fs.StringVar(&cfg.ServiceAddr, "service-addr", "http://localhost:8400", "training service base URL")
	fs.StringVar(&cfg.DBPath, "db", "experiments.db", "path to the experiment database")
	fs.StringVar(&cfg.OutDir, "out", "./runs", "output directory for CSV reports")
	fs.Int64Var(&cfg.Seed, "seed", 42, "shuffle and initialization seed")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var problems []string
	if c.DatasetPath == "" {
		problems = append(problems, "dataset path is required")
	}
	if c.Checkpoint == "" {
		problems = append(problems, "checkpoint is required")
	}
	if c.Epochs <= 0 {
		problems = append(problems, "epochs must be positive")
	}
	if c.NumClasses <= 0 {
		problems = append(problems, "n-classes must be positive")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
// #endregion flags

// #region dataset-name
// ParseDatasetName extracts the sequence length and window size the
// tokenization pipeline encoded in the dataset filename
// (…maxlen{N}ws{N|None}.json). The literal "None" means windowing was
// disabled upstream.
func ParseDatasetName(path string) (seqLen, windowSize string) {
	base := filepath.Base(path)
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	windowSize = base
	if i := strings.LastIndex(base, "ws"); i >= 0 {
		windowSize = base[i+2:]
	}
	if i := strings.LastIndex(base, "maxlen"); i >= 0 {
		seqLen = base[i+6:]
		if j := strings.Index(seqLen, "ws"); j >= 0 {
			seqLen = seqLen[:j]
		}
	}
	return seqLen, windowSize
}
// #endregion dataset-name

// #region resolve
// Resolve decides the operating mode once and applies the conflict
// policy. Conflicting options are recovered by disabling the weaker one
// with a warning; the run continues.
func (c Config) Resolve() Resolved {
	seqLen, ws := ParseDatasetName(c.DatasetPath)
	r := Resolved{Config: c, WindowSize: ws, SeqLen: seqLen}

	if c.BatchSize > 0 {
		// Batched runs use the model's native loss; positional weighting
		// cannot apply across unrelated documents.
		if r.Weighting {
			log.Printf("[CONFIG] weighting strategy is incompatible with batching, disabling it")
			r.Weighting = false
		}
		if ws != "None" {
			log.Printf("[CONFIG] collating batches of size %d: dataset has window %s enabled, "+
				"notes will be cut at the first %s-token chunk", c.BatchSize, ws, seqLen)
		} else {
			log.Printf("[CONFIG] collating batches of size %d", c.BatchSize)
		}
		r.Mode = aggregate.ModeFixedBatch
		return r
	}

	if ws == "None" {
		log.Printf("[CONFIG] window not present and no batch size given, running with batch size 1")
		if r.Weighting {
			log.Printf("[CONFIG] weighting strategy cannot be applied with batch size 1, disabling it")
			r.Weighting = false
		}
		r.Mode = aggregate.ModeSingle
		return r
	}

	// Only the literal "None" disables weighting. A filename that does
	// not parse to a window size still takes the weighted path when
	// weighting is requested; earlier runs were produced under this rule
	// and rescoring them requires keeping it.
	if r.Weighting {
		r.Mode = aggregate.ModeWeightedWindow
	} else {
		r.Mode = aggregate.ModeSingle
	}
	return r
}
// #endregion resolve

// #region derived
// WarmupSteps computes the warmup length of the learning-rate schedule:
// 1% of the total step count, rounded.
func WarmupSteps(totalSteps int) int {
	return int(math.Round(float64(totalSteps) / 100))
}

// JSON renders the configuration for run registration.
func (c Config) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(b), nil
}
// #endregion derived
