package dataset

import (
	"encoding/json"
	"fmt"
	"os"
)

// #region loader
// Load reads and parses a dataset splits file.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if err := validateSplit("train", ds.Train); err != nil {
		return nil, err
	}
	if err := validateSplit("validation", ds.Validation); err != nil {
		return nil, err
	}
	if err := validateSplit("test", ds.Test); err != nil {
		return nil, err
	}
	return &ds, nil
}

func validateSplit(name string, docs []Document) error {
	for i, d := range docs {
		if len(d.Chunks) == 0 {
			return fmt.Errorf("%s[%d] (%s): %w", name, i, d.ID, ErrEmptyDocument)
		}
	}
	return nil
}
// #endregion loader
