package dataset

import (
	"fmt"
	"math/rand"
)

// #region collate-window
// CollateWindow builds one unit per document holding all of its ordered
// chunks, with the document label repeated per row. This is the shape
// consumed by windowed and single-chunk runs.
func CollateWindow(docs []Document) ([]Unit, error) {
	units := make([]Unit, 0, len(docs))
	for i, d := range docs {
		if len(d.Chunks) == 0 {
			return nil, fmt.Errorf("document %d (%s): %w", i, d.ID, ErrEmptyDocument)
		}
		labels := make([]int64, len(d.Chunks))
		for j := range labels {
			labels[j] = d.Label
		}
		units = append(units, Unit{Rows: d.Chunks, Labels: labels})
	}
	return units, nil
}
// #endregion collate-window

// #region collate-batch
// CollateBatch groups documents into units of up to size rows, taking only
// the first chunk of each document. A windowed dataset fed through this
// path is deliberately cut at the first chunk.
func CollateBatch(docs []Document, size int) ([]Unit, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	var units []Unit
	for start := 0; start < len(docs); start += size {
		end := start + size
		if end > len(docs) {
			end = len(docs)
		}
		u := Unit{
			Rows:   make([][]int64, 0, end-start),
			Labels: make([]int64, 0, end-start),
		}
		for i := start; i < end; i++ {
			d := docs[i]
			if len(d.Chunks) == 0 {
				return nil, fmt.Errorf("document %d (%s): %w", i, d.ID, ErrEmptyDocument)
			}
			u.Rows = append(u.Rows, d.Chunks[0])
			u.Labels = append(u.Labels, d.Label)
		}
		units = append(units, u)
	}
	return units, nil
}
// #endregion collate-batch

// #region shuffle
// Shuffle returns a seeded permutation of docs. The training split is
// reshuffled each epoch; validation and test keep stream order.
func Shuffle(docs []Document, seed int64) []Document {
	out := make([]Document, len(docs))
	copy(out, docs)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
// #endregion shuffle
