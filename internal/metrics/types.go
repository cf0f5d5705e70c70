package metrics

import "fmt"

// #region scores
// Scores bundles precision, recall, and F1 for one class or aggregate.
type Scores struct {
	Precision float64
	Recall    float64
	F1        float64
}
// #endregion scores

// #region report
// Report is an immutable snapshot of classification quality: per-class
// scores plus micro and macro aggregates over the configured class count.
type Report struct {
	NumClasses int
	PerClass   []Scores
	Micro      Scores
	Macro      Scores
}
// #endregion report

// #region metric-value
// MetricValue is one flattened report cell: group is the metric family
// (f1, precision, recall) and key is the sub-series (micro, macro,
// class{i}).
type MetricValue struct {
	Group string
	Key   string
	Value float64
}
// #endregion metric-value

// #region flatten
// groupOrder fixes the column order used by CSV emission and any other
// consumer that needs a deterministic layout.
var groupOrder = []string{"f1", "precision", "recall"}

// Flatten returns the report as ordered (group, key, value) rows:
// for each of f1, precision, recall: micro, macro, then class0..classN.
func (r Report) Flatten() []MetricValue {
	rows := make([]MetricValue, 0, len(groupOrder)*(2+r.NumClasses))
	for _, g := range groupOrder {
		rows = append(rows,
			MetricValue{Group: g, Key: "micro", Value: pick(r.Micro, g)},
			MetricValue{Group: g, Key: "macro", Value: pick(r.Macro, g)},
		)
		for c, s := range r.PerClass {
			rows = append(rows, MetricValue{Group: g, Key: fmt.Sprintf("class%d", c), Value: pick(s, g)})
		}
	}
	return rows
}

// Groups returns the report as nested maps, the shape the reporting
// collaborator consumes: group name → sub-key → score.
func (r Report) Groups() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(groupOrder))
	for _, mv := range r.Flatten() {
		if out[mv.Group] == nil {
			out[mv.Group] = make(map[string]float64)
		}
		out[mv.Group][mv.Key] = mv.Value
	}
	return out
}

func pick(s Scores, group string) float64 {
	switch group {
	case "precision":
		return s.Precision
	case "recall":
		return s.Recall
	default:
		return s.F1
	}
}
// #endregion flatten
