package report

import (
	"log"

	"github.com/clinnlp/note-trainer/internal/metrics"
)

// #region console
// LogEpoch prints the epoch loss summary.
func LogEpoch(epoch int, trainLoss, valLoss float64) {
	log.Printf("[EPOCH] %d -- training loss %.4f", epoch, trainLoss)
	log.Printf("[EPOCH] %d -- validation loss %.4f", epoch, valLoss)
}

// LogReport prints every metric group of a report under the given tag.
func LogReport(tag string, rep metrics.Report) {
	for _, mv := range rep.Flatten() {
		log.Printf("[%s] %s_%s: %.4f", tag, metricPrefixes[mv.Group], mv.Key, mv.Value)
	}
}
// #endregion console
