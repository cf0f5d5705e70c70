package dataset

import "errors"

// #region errors
var (
	// ErrEmptyDocument is returned for a document with zero chunks.
	// Every document must contribute at least one chunk; anything else is
	// an upstream windowing defect and aborts the run.
	ErrEmptyDocument = errors.New("document has no chunks")
)
// #endregion errors

// #region document
// Document is one label-bearing note, pre-tokenized upstream into one or
// more fixed-length chunks by a sliding-window split. Chunks are ordered
// by their position in the original note; chunk 0 opens the note.
type Document struct {
	ID     string    `json:"id"`
	Chunks [][]int64 `json:"chunks"`
	Label  int64     `json:"label"`
}
// #endregion document

// #region dataset
// Dataset bundles the three fixed splits produced by the tokenization
// pipeline.
type Dataset struct {
	Train      []Document `json:"train"`
	Validation []Document `json:"validation"`
	Test       []Document `json:"test"`
}
// #endregion dataset

// #region unit
// Unit is the atomic item fed to the model and the aggregation step: a
// stack of token-id rows with one label per row. Its shape depends on the
// run mode: all chunks of one document (windowed), the first chunk of N
// documents (fixed batch), or a single chunk.
type Unit struct {
	Rows   [][]int64
	Labels []int64
}

// Documents returns how many label-bearing documents the unit represents:
// every row in a fixed batch is its own document, any other shape is one
// document.
func (u Unit) Documents(fixedBatch bool) int {
	if fixedBatch {
		return len(u.Rows)
	}
	return 1
}
// #endregion unit
