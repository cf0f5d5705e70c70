package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/clinnlp/note-trainer/internal/experiment"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to experiments.db")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show epoch history for one run")
	phase := flag.String("phase", "validation", "epoch phase to show (validation or test)")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/experiments.db [--last N] [--run id] [--phase p] [--json]")
		os.Exit(2)
	}

	store, err := experiment.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *runID != "" {
		err = runDetailMode(store, *runID, *phase, *jsonOut)
	} else {
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(store *experiment.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	if jsonOut {
		return printJSON(runs)
	}

	fmt.Printf("%-12s  %-20s  %s\n", "Run", "Created", "Config")
	fmt.Printf("%-12s+-%-20s+-%s\n",
		"------------", "--------------------", "----------------------------------------")
	for _, r := range runs {
		fmt.Printf("%-12s  %-20s  %s\n",
			shortID(r.RunID), r.CreatedAt.Format("2006-01-02T15:04:05Z"), truncate(r.ConfigJSON, 60))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

// epochRow flattens an EpochRecord for output, with the report's metric
// groups decoded.
type epochRow struct {
	Epoch     int                           `json:"epoch"`
	TrainLoss float64                       `json:"tr_loss"`
	ValLoss   float64                       `json:"val_loss"`
	Metrics   map[string]map[string]float64 `json:"metrics,omitempty"`
}

func runDetailMode(store *experiment.Store, runID, phase string, jsonOut bool) error {
	epochs, err := store.ListEpochs(runID, phase)
	if err != nil {
		return err
	}
	if len(epochs) == 0 {
		fmt.Fprintf(os.Stderr, "no %s epochs recorded for run %s\n", phase, runID)
		return nil
	}

	rows := make([]epochRow, len(epochs))
	for i, e := range epochs {
		rows[i] = epochRow{Epoch: e.Epoch, TrainLoss: e.TrainLoss, ValLoss: e.ValLoss}
		if e.ReportJSON != "" {
			var groups map[string]map[string]float64
			if err := json.Unmarshal([]byte(e.ReportJSON), &groups); err == nil {
				rows[i].Metrics = groups
			}
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-6s  %10s  %10s  %8s  %8s\n", "Epoch", "Tr Loss", "Val Loss", "F1 micro", "F1 macro")
	fmt.Printf("%-6s+-%10s+-%10s+-%8s+-%8s\n",
		"------", "----------", "----------", "--------", "--------")
	for _, r := range rows {
		fmt.Printf("%-6d  %10.4f  %10.4f  %8s  %8s\n",
			r.Epoch, r.TrainLoss, r.ValLoss, metricCell(r.Metrics, "micro"), metricCell(r.Metrics, "macro"))
	}

	latest, err := store.LatestCheckpoint(runID)
	if err == nil {
		fmt.Printf("\nLatest checkpoint: epoch %d at %s\n", latest.Epoch, latest.RemotePath)
	}
	return nil
}

func metricCell(groups map[string]map[string]float64, key string) string {
	if groups == nil {
		return "—"
	}
	f1, ok := groups["f1"]
	if !ok {
		return "—"
	}
	v, ok := f1[key]
	if !ok {
		return "—"
	}
	return fmt.Sprintf("%.4f", v)
}

// #endregion detail-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// #endregion output
