package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/clinnlp/note-trainer/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	f, err := replay.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		os.Exit(2)
	}

	sum, err := replay.Run(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(2)
	}

	os.Exit(printSummary(f, sum))
}

// #endregion main

// #region output

// printSummary outputs a per-unit table plus the replayed metrics and
// returns the exit code: 1 when any expectation diverged, 0 otherwise.
func printSummary(f *replay.Fixture, sum *replay.Summary) int {
	if f.Description != "" {
		fmt.Println(f.Description)
	}
	fmt.Printf("%-12s| %-15s| %10s | %s\n", "Unit", "Prediction", "Loss", "Match")
	fmt.Printf("%-12s+%-16s+%12s+%s\n",
		"------------", "----------------", "------------", "------")

	for _, u := range sum.Units {
		match := "OK"
		if !u.Matched {
			match = "DIFF"
		}
		fmt.Printf("%-12s| %-15s| %10.4f | %s\n", u.UnitID, formatPrediction(u.Prediction), u.Loss, match)
	}

	fmt.Printf("\nReplayed metrics:\n")
	for _, mv := range sum.Report.Flatten() {
		fmt.Printf("  %s_%s: %.4f\n", mv.Group, mv.Key, mv.Value)
	}
	fmt.Printf("\nSummary: %d units, %d checked, %d diverge\n",
		len(sum.Units), sum.Checked, sum.Mismatches)

	if sum.Mismatches > 0 {
		return 1
	}
	return 0
}

func formatPrediction(preds []int64) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ",")
}

// #endregion output
