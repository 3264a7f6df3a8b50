package learn

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// Fold holds the sample indices of one cross-validation split.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold splits samples into K folds that keep the class
// proportions. Samples are not shuffled: the samples of each class are dealt
// to the folds in order, continuing where the previous class stopped.
type StratifiedKFold struct {
	K int
}

func (s StratifiedKFold) Split(y []int) ([]Fold, error) {
	if s.K < 2 {
		return nil, fmt.Errorf("learn: need at least 2 folds, got %d", s.K)
	}
	if s.K > len(y) {
		return nil, fmt.Errorf("learn: cannot split %d samples into %d folds", len(y), s.K)
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for label, members := range byClass {
		classes = append(classes, label)
		if len(members) < s.K {
			log.Warn().
				Int("class", label).
				Int("members", len(members)).
				Int("folds", s.K).
				Msg("Class has fewer members than folds")
		}
	}
	sort.Ints(classes)

	inTest := make([]int, len(y))
	next := 0
	for _, label := range classes {
		for _, i := range byClass[label] {
			inTest[i] = next
			next = (next + 1) % s.K
		}
	}

	folds := make([]Fold, s.K)
	for i, f := range inTest {
		for k := range folds {
			if k == f {
				folds[k].Test = append(folds[k].Test, i)
			} else {
				folds[k].Train = append(folds[k].Train, i)
			}
		}
	}
	return folds, nil
}

func subset[T any](X []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}
