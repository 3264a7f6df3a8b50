package learn

import (
	"errors"
	"fmt"
)

// Accuracy is the fraction of predictions equal to the true label.
func Accuracy(yTrue, yPred []int) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, fmt.Errorf("learn: %d labels but %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return 0, errors.New("learn: accuracy of an empty set")
	}
	correct := 0
	for i, y := range yTrue {
		if y == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// ConfusionMatrix counts predictions per (true, predicted) class index.
// Labels outside [0, classes) are ignored.
func ConfusionMatrix(yTrue, yPred []int, classes int) [][]int {
	m := make([][]int, classes)
	for i := range m {
		m[i] = make([]int, classes)
	}
	for i, y := range yTrue {
		if i >= len(yPred) {
			break
		}
		p := yPred[i]
		if y < 0 || y >= classes || p < 0 || p >= classes {
			continue
		}
		m[y][p]++
	}
	return m
}
