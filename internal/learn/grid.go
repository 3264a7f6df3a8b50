package learn

import (
	"math"
	"math/rand"
	"sort"
)

// Grid maps a parameter name to the values to try.
type Grid map[string][]any

// Size is the number of candidates in the grid.
func (g Grid) Size() int {
	n := 1
	for _, values := range g {
		n *= len(values)
	}
	return n
}

// ParameterGrid expands g into every combination. Keys are iterated in
// sorted order with the last key varying fastest. An empty grid yields a
// single empty candidate.
func ParameterGrid(g Grid) []map[string]any {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []map[string]any{{}}
	for _, k := range keys {
		next := make([]map[string]any, 0, len(out)*len(g[k]))
		for _, base := range out {
			for _, v := range g[k] {
				c := make(map[string]any, len(base)+1)
				for bk, bv := range base {
					c[bk] = bv
				}
				c[k] = v
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}

// SampleCandidates draws n candidates without replacement. With n >= len(candidates)
// all of them are returned in order.
func SampleCandidates(candidates []map[string]any, n int, seed int64) []map[string]any {
	if n <= 0 || n >= len(candidates) {
		return candidates
	}
	rng := rand.New(rand.NewSource(seed))
	out := make([]map[string]any, n)
	for i, p := range rng.Perm(len(candidates))[:n] {
		out[i] = candidates[p]
	}
	return out
}

// LogSpace returns num values spaced evenly on a log scale, from base^start
// to base^stop inclusive.
func LogSpace(start, stop float64, num int, base float64) []any {
	out := make([]any, num)
	for i := range out {
		e := start
		if num > 1 {
			e = start + float64(i)*(stop-start)/float64(num-1)
		}
		out[i] = math.Pow(base, e)
	}
	return out
}
