package fixtures

import (
	"fmt"

	"github.com/mitchellh/copystructure"
)

// Cloner returns a copy of a record that shares no mutable state with the original.
type Cloner[R any] func(R) (R, error)

// DeepCopy clones maps, slices, pointers and exported struct fields recursively. Unexported struct
// fields are not copied.
func DeepCopy[R any](record R) (R, error) {
	var zero R
	if any(record) == nil {
		return zero, nil
	}
	v, err := copystructure.Copy(record)
	if err != nil {
		return zero, fmt.Errorf("failed to copy record: %w", err)
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("failed to copy record: got %T, want %T", v, zero)
	}
	return out, nil
}

func cloneAll[R any](clone Cloner[R], records []R) ([]R, error) {
	out := make([]R, len(records))
	for i, r := range records {
		c, err := clone(r)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
