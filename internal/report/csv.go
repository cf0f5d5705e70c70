package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/clinnlp/note-trainer/internal/metrics"
)

// #region fixed-info
// FixedInfo holds the run parameters repeated on every CSV row, so each
// row is self-describing when files from several runs are concatenated.
type FixedInfo struct {
	LearningRate float64
	ValSplit     float64
	WindowSize   string
	SeqLen       string
	BatchSize    int
	Weighting    bool
}

func (f FixedInfo) fields() []string {
	batch := ""
	if f.BatchSize > 0 {
		batch = strconv.Itoa(f.BatchSize)
	}
	return []string{
		formatFloat(f.LearningRate),
		formatFloat(f.ValSplit),
		f.WindowSize,
		f.SeqLen,
		batch,
		strconv.FormatBool(f.Weighting),
	}
}
// #endregion fixed-info

// #region header
// metricPrefixes maps report groups to their CSV column prefixes.
var metricPrefixes = map[string]string{
	"f1":        "f1",
	"precision": "p",
	"recall":    "r",
}

// Header returns the full CSV column list for numClasses classes.
func Header(numClasses int) []string {
	cols := []string{
		"learning_rate", "val_split", "window_size", "sequence_length",
		"batch_size", "weighting_enabled", "epoch", "tr_loss", "val_loss",
	}
	for _, group := range []string{"f1", "precision", "recall"} {
		p := metricPrefixes[group]
		cols = append(cols, p+"_micro", p+"_macro")
		for c := 0; c < numClasses; c++ {
			cols = append(cols, fmt.Sprintf("%s_class%d", p, c))
		}
	}
	return cols
}
// #endregion header

// #region csv-writer
// CSVWriter appends one metrics row per epoch to a CSV file, plus a final
// test row with blank epoch and loss cells.
type CSVWriter struct {
	f          *os.File
	w          *csv.Writer
	fixed      FixedInfo
	numClasses int
}

// NewCSVWriter creates the file and writes the header row.
func NewCSVWriter(path string, fixed FixedInfo, numClasses int) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header(numClasses)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSVWriter{f: f, w: w, fixed: fixed, numClasses: numClasses}, nil
}

// WriteEpoch appends one validation row.
func (c *CSVWriter) WriteEpoch(epoch int, trainLoss, valLoss float64, rep metrics.Report) error {
	row := append(c.fixed.fields(),
		strconv.Itoa(epoch),
		formatFloat(trainLoss),
		formatFloat(valLoss),
	)
	return c.writeRow(append(row, metricFields(rep)...))
}

// WriteTest appends the final test row; epoch and loss cells stay blank,
// matching the epoch rows' shape.
func (c *CSVWriter) WriteTest(rep metrics.Report) error {
	row := append(c.fixed.fields(), "", "", "")
	return c.writeRow(append(row, metricFields(rep)...))
}

func (c *CSVWriter) writeRow(row []string) error {
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes and closes the file.
func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

func metricFields(rep metrics.Report) []string {
	flat := rep.Flatten()
	out := make([]string, len(flat))
	for i, mv := range flat {
		out[i] = formatFloat(mv.Value)
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
// #endregion csv-writer
