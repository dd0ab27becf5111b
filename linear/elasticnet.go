// Package linear is a small ElasticNet regression toolkit used by the
// example training programs: coordinate-descent fitting, CSV loading,
// train/test splitting and regression metrics.
package linear

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Format is the model format identifier written to MLmodel manifests.
const Format = "linear.elasticnet/v1"

// DataFile is the file name the encoded model is stored under.
const DataFile = "model.json"

// Params are the ElasticNet hyperparameters.
type Params struct {
	// Alpha scales both penalty terms.
	Alpha float64 `json:"alpha"`
	// L1Ratio mixes the penalties: 1 is lasso, 0 is ridge.
	L1Ratio float64 `json:"l1_ratio"`
	MaxIter int     `json:"max_iter"`
	// Tol is the duality-gap tolerance relative to ||y||².
	Tol          float64 `json:"tol"`
	FitIntercept bool    `json:"fit_intercept"`
}

// DefaultParams mirrors the usual defaults: alpha 1, l1_ratio 0.5, 1000
// iterations, tolerance 1e-4 and an intercept.
func DefaultParams() Params {
	return Params{Alpha: 1, L1Ratio: 0.5, MaxIter: 1000, Tol: 1e-4, FitIntercept: true}
}

// Validate rejects out-of-range hyperparameters.
func (p Params) Validate() error {
	var errs []error
	if p.Alpha < 0 || math.IsNaN(p.Alpha) {
		errs = append(errs, fmt.Errorf("alpha must be >= 0, got %v", p.Alpha))
	}
	if p.L1Ratio < 0 || p.L1Ratio > 1 || math.IsNaN(p.L1Ratio) {
		errs = append(errs, fmt.Errorf("l1_ratio must be in [0, 1], got %v", p.L1Ratio))
	}
	if p.MaxIter <= 0 {
		errs = append(errs, fmt.Errorf("max_iter must be positive, got %d", p.MaxIter))
	}
	if p.Tol <= 0 || math.IsNaN(p.Tol) {
		errs = append(errs, fmt.Errorf("tol must be positive, got %v", p.Tol))
	}
	if len(errs) > 0 {
		return fmt.Errorf("linear: invalid params: %w", errors.Join(errs...))
	}
	return nil
}

// ElasticNet is a linear model with combined L1 and L2 penalties, minimizing
//
//	1/(2n) ||y - Xw - b||² + alpha*l1_ratio*||w||₁ + alpha*(1-l1_ratio)/2*||w||²
type ElasticNet struct {
	Params    Params    `json:"params"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	// Iterations is the number of coordinate sweeps the last Fit ran.
	Iterations int  `json:"iterations"`
	Converged  bool `json:"converged"`
}

// New returns an unfitted model.
func New(p Params) (*ElasticNet, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &ElasticNet{Params: p}, nil
}

// Fit estimates coefficients by cyclic coordinate descent. Non-convergence
// within MaxIter is not an error; check Converged.
func (m *ElasticNet) Fit(x [][]float64, y []float64) error {
	if err := m.Params.Validate(); err != nil {
		return err
	}
	n := len(x)
	if n == 0 {
		return errors.New("linear: fit: no samples")
	}
	if len(y) != n {
		return fmt.Errorf("linear: fit: %d rows but %d targets", n, len(y))
	}
	p := len(x[0])
	if p == 0 {
		return errors.New("linear: fit: no features")
	}
	for i, row := range x {
		if len(row) != p {
			return fmt.Errorf("linear: fit: row %d has %d features, want %d", i, len(row), p)
		}
	}

	// Column copies of the design matrix, centered when fitting an intercept.
	design := mat.NewDense(n, p, nil)
	for i, row := range x {
		design.SetRow(i, row)
	}
	xMean := make([]float64, p)
	cols := make([][]float64, p)
	for j := range cols {
		cols[j] = mat.Col(nil, j, design)
		if m.Params.FitIntercept {
			xMean[j] = stat.Mean(cols[j], nil)
			floats.AddConst(-xMean[j], cols[j])
		}
	}
	yc := append([]float64(nil), y...)
	var yMean float64
	if m.Params.FitIntercept {
		yMean = stat.Mean(y, nil)
		floats.AddConst(-yMean, yc)
	}

	l1 := m.Params.Alpha * m.Params.L1Ratio * float64(n)
	l2 := m.Params.Alpha * (1 - m.Params.L1Ratio) * float64(n)
	tol := m.Params.Tol * floats.Dot(yc, yc)

	w := make([]float64, p)
	norms := make([]float64, p)
	for j, c := range cols {
		norms[j] = floats.Dot(c, c)
	}
	r := append([]float64(nil), yc...)

	m.Converged = false
	m.Iterations = 0
	for iter := 1; iter <= m.Params.MaxIter; iter++ {
		m.Iterations = iter
		var wMax, dwMax float64
		for j, c := range cols {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			if old != 0 {
				floats.AddScaled(r, old, c)
			}
			rho := floats.Dot(c, r)
			w[j] = softThreshold(rho, l1) / (norms[j] + l2)
			if w[j] != 0 {
				floats.AddScaled(r, -w[j], c)
			}
			dwMax = math.Max(dwMax, math.Abs(w[j]-old))
			wMax = math.Max(wMax, math.Abs(w[j]))
		}

		if wMax == 0 || dwMax/wMax < m.Params.Tol || iter == m.Params.MaxIter {
			if dualityGap(cols, r, yc, w, l1, l2) < tol {
				m.Converged = true
				break
			}
		}
	}

	m.Coef = w
	m.Intercept = 0
	if m.Params.FitIntercept {
		m.Intercept = yMean - floats.Dot(xMean, w)
	}
	return nil
}

func dualityGap(cols [][]float64, r, y, w []float64, l1, l2 float64) float64 {
	var dualNorm float64
	for j, c := range cols {
		dualNorm = math.Max(dualNorm, math.Abs(floats.Dot(c, r)-l2*w[j]))
	}
	rNorm2 := floats.Dot(r, r)
	wNorm2 := floats.Dot(w, w)
	scale := 1.0
	gap := rNorm2
	if dualNorm > l1 {
		scale = l1 / dualNorm
		gap = 0.5 * (rNorm2 + rNorm2*scale*scale)
	}
	return gap + l1*floats.Norm(w, 1) - scale*floats.Dot(r, y) + 0.5*l2*(1+scale*scale)*wNorm2
}

// Predict returns Xw + b for each row.
func (m *ElasticNet) Predict(x [][]float64) ([]float64, error) {
	if m.Coef == nil {
		return nil, errors.New("linear: predict: model is not fitted")
	}
	if len(x) == 0 {
		return []float64{}, nil
	}
	for i, row := range x {
		if len(row) != len(m.Coef) {
			return nil, fmt.Errorf("linear: predict: row %d has %d features, want %d", i, len(row), len(m.Coef))
		}
	}
	out := make([]float64, len(x))
	if len(m.Coef) == 0 {
		floats.AddConst(m.Intercept, out)
		return out, nil
	}
	design := mat.NewDense(len(x), len(m.Coef), nil)
	for i, row := range x {
		design.SetRow(i, row)
	}
	pred := mat.NewVecDense(len(x), out)
	pred.MulVec(design, mat.NewVecDense(len(m.Coef), m.Coef))
	floats.AddConst(m.Intercept, out)
	return out, nil
}

// Format implements the model format contract used when logging models.
func (m *ElasticNet) Format() string { return Format }

// DataFile is the artifact file name Encode output is stored under.
func (m *ElasticNet) DataFile() string { return DataFile }

// NumFeatures is the number of input columns the model was fitted on.
func (m *ElasticNet) NumFeatures() int { return len(m.Coef) }

// Encode writes the model as JSON.
func (m *ElasticNet) Encode(w io.Writer) error {
	if m.Coef == nil {
		return errors.New("linear: encode: model is not fitted")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// Load decodes a model written by Encode.
func Load(r io.Reader) (*ElasticNet, error) {
	var m ElasticNet
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("linear: load: %w", err)
	}
	if m.Coef == nil {
		return nil, errors.New("linear: load: no coefficients")
	}
	return &m, nil
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}
