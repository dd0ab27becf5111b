package linear

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Regression metrics. All of them panic if the slices differ in length.

// RMSE is the root mean squared error.
func RMSE(y, pred []float64) float64 {
	return math.Sqrt(MSE(y, pred))
}

// MSE is the mean squared error.
func MSE(y, pred []float64) float64 {
	mustMatch(y, pred)
	d := floats.Distance(y, pred, 2)
	return d * d / float64(len(y))
}

// MAE is the mean absolute error.
func MAE(y, pred []float64) float64 {
	mustMatch(y, pred)
	return floats.Distance(y, pred, 1) / float64(len(y))
}

// R2 is the coefficient of determination. A constant y yields 1 for a
// perfect fit and 0 otherwise.
func R2(y, pred []float64) float64 {
	mustMatch(y, pred)
	if floats.Max(y) == floats.Min(y) {
		if floats.Equal(y, pred) {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(pred, y, nil)
}

func mustMatch(y, pred []float64) {
	if len(y) != len(pred) || len(y) == 0 {
		panic("linear: metric inputs must be non-empty and of equal length")
	}
}
