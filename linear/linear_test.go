package linear

import (
	"bytes"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synthetic returns y = 3*x0 - 2*x1 + 0.5 with small noise.
func synthetic(n int) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(1, 2))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range n {
		a, b := rng.NormFloat64(), rng.NormFloat64()
		x[i] = []float64{a, b}
		y[i] = 3*a - 2*b + 0.5 + 0.01*rng.NormFloat64()
	}
	return x, y
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	bad := Params{Alpha: -1, L1Ratio: 2, MaxIter: 0, Tol: 0}
	err := bad.Validate()
	require.Error(t, err)
	for _, frag := range []string{"alpha", "l1_ratio", "max_iter", "tol"} {
		assert.Contains(t, err.Error(), frag)
	}
}

func TestFitRecoversCoefficients(t *testing.T) {
	x, y := synthetic(500)
	p := DefaultParams()
	p.Alpha = 1e-4
	m, err := New(p)
	require.NoError(t, err)
	require.NoError(t, m.Fit(x, y))

	assert.True(t, m.Converged)
	assert.InDelta(t, 3.0, m.Coef[0], 0.01)
	assert.InDelta(t, -2.0, m.Coef[1], 0.01)
	assert.InDelta(t, 0.5, m.Intercept, 0.01)

	pred, err := m.Predict(x)
	require.NoError(t, err)
	assert.Less(t, RMSE(y, pred), 0.05)
}

func TestFitShrinksWithPenalty(t *testing.T) {
	x, y := synthetic(200)
	lasso := Params{Alpha: 10, L1Ratio: 1, MaxIter: 1000, Tol: 1e-6, FitIntercept: true}
	m, err := New(lasso)
	require.NoError(t, err)
	require.NoError(t, m.Fit(x, y))
	assert.Equal(t, []float64{0, 0}, m.Coef, "a large L1 penalty zeroes every coefficient")
}

func TestFitRejectsRaggedInput(t *testing.T) {
	m, err := New(DefaultParams())
	require.NoError(t, err)
	assert.Error(t, m.Fit([][]float64{{1, 2}, {3}}, []float64{1, 2}))
	assert.Error(t, m.Fit([][]float64{{1}}, []float64{1, 2}))
	assert.Error(t, m.Fit(nil, nil))
	assert.Error(t, m.Fit([][]float64{{}, {}}, []float64{1, 2}))

	_, err = m.Predict([][]float64{{1}})
	assert.Error(t, err, "unfitted")
}

func TestEncodeLoadRoundTrip(t *testing.T) {
	x, y := synthetic(100)
	m, err := New(Params{Alpha: 0.01, L1Ratio: 0.2, MaxIter: 1000, Tol: 1e-4, FitIntercept: true})
	require.NoError(t, err)
	require.NoError(t, m.Fit(x, y))

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))
	loaded, err := Load(&buf)
	require.NoError(t, err)

	want, err := m.Predict(x)
	require.NoError(t, err)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9)
	}
	assert.Equal(t, Format, loaded.Format())
	assert.Equal(t, 2, loaded.NumFeatures())
}

const wineSample = `"fixed acidity";"volatile acidity";"alcohol";"quality"
7.4;0.7;9.4;5
7.8;0.88;9.8;5
11.2;0.28;9.8;6
7.4;0.66;9.4;5
`

func TestLoadCSV(t *testing.T) {
	ds, err := LoadCSV(strings.NewReader(wineSample), "quality", ';')
	require.NoError(t, err)
	assert.Equal(t, []string{"fixed acidity", "volatile acidity", "alcohol"}, ds.Features)
	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, []float64{11.2, 0.28, 9.8}, ds.X[2])
	assert.Equal(t, []float64{5, 5, 6, 5}, ds.Y)
	assert.Equal(t, 2, ds.Head(2).Len())

	_, err = LoadCSV(strings.NewReader(wineSample), "price", ';')
	assert.Error(t, err)
	_, err = LoadCSV(strings.NewReader("a;quality\nx;1\n"), "quality", ';')
	assert.Error(t, err)
}

func TestTrainTestSplit(t *testing.T) {
	x, y := synthetic(100)
	ds := Dataset{Features: []string{"a", "b"}, X: x, Y: y}

	train, test, err := TrainTestSplit(ds, 0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, 75, train.Len())
	assert.Equal(t, 25, test.Len())

	again, _, err := TrainTestSplit(ds, 0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, train.Y, again.Y, "same seed, same split")

	_, _, err = TrainTestSplit(ds, 1, 42)
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	y := []float64{1, 2, 3, 4}
	pred := []float64{1, 2, 3, 6}
	assert.InDelta(t, 1.0, MSE(y, pred), 1e-12)
	assert.InDelta(t, 1.0, RMSE(y, pred), 1e-12)
	assert.InDelta(t, 0.5, MAE(y, pred), 1e-12)
	assert.InDelta(t, 1-4.0/5.0, R2(y, pred), 1e-12)
	assert.Equal(t, 1.0, R2([]float64{2, 2}, []float64{2, 2}))
	assert.False(t, math.IsNaN(R2([]float64{2, 2}, []float64{1, 3})))
	assert.Panics(t, func() { RMSE([]float64{1}, nil) })
}
