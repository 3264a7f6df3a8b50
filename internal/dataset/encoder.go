package dataset

import (
	"fmt"
	"sort"
)

// LabelEncoder maps string labels to indices in sorted label order.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// Fit learns the sorted set of unique labels.
func (e *LabelEncoder) Fit(labels []string) *LabelEncoder {
	seen := make(map[string]struct{})
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	e.classes = make([]string, 0, len(seen))
	for l := range seen {
		e.classes = append(e.classes, l)
	}
	sort.Strings(e.classes)

	e.index = make(map[string]int, len(e.classes))
	for i, c := range e.classes {
		e.index[c] = i
	}
	return e
}

// Transform encodes labels. A label not seen by Fit is an error.
func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	if e.index == nil {
		return nil, fmt.Errorf("label encoder is not fitted")
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := e.index[l]
		if !ok {
			return nil, fmt.Errorf("unseen label %q", l)
		}
		out[i] = id
	}
	return out, nil
}

// InverseTransform decodes class indices back to labels.
func (e *LabelEncoder) InverseTransform(ids []int) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(e.classes) {
			return nil, fmt.Errorf("class index %d out of range [0,%d)", id, len(e.classes))
		}
		out[i] = e.classes[id]
	}
	return out, nil
}

func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}
