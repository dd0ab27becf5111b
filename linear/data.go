package linear

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Dataset is a numeric feature matrix with one target column.
type Dataset struct {
	Features []string
	Target   string
	X        [][]float64
	Y        []float64
}

// Len is the number of rows.
func (d Dataset) Len() int { return len(d.X) }

// Head returns the first n rows (all of them if n exceeds Len).
func (d Dataset) Head(n int) Dataset {
	n = min(n, d.Len())
	return Dataset{Features: d.Features, Target: d.Target, X: d.X[:n], Y: d.Y[:n]}
}

// LoadCSV reads a delimited file with a header row. Every column except
// target becomes a feature; all values must be numeric. Header names are
// trimmed of quotes and spaces.
func LoadCSV(r io.Reader, target string, sep rune) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Dataset{}, fmt.Errorf("linear: read csv header: %w", err)
	}
	targetIdx := -1
	ds := Dataset{Target: target}
	for i, h := range header {
		h = strings.Trim(strings.TrimSpace(h), `"`)
		if h == target {
			targetIdx = i
			continue
		}
		ds.Features = append(ds.Features, h)
	}
	if targetIdx < 0 {
		return Dataset{}, fmt.Errorf("linear: target column %q not in header %v", target, header)
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("linear: read csv: %w", err)
		}
		row := make([]float64, 0, len(rec)-1)
		var y float64
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("linear: csv line %d column %d: %w", line, i+1, err)
			}
			if i == targetIdx {
				y = v
				continue
			}
			row = append(row, v)
		}
		ds.X = append(ds.X, row)
		ds.Y = append(ds.Y, y)
	}
	if ds.Len() == 0 {
		return Dataset{}, errors.New("linear: csv has no data rows")
	}
	return ds, nil
}

// TrainTestSplit shuffles rows with a seeded PCG source and holds out
// ceil(testFraction*n) of them for testing.
func TrainTestSplit(d Dataset, testFraction float64, seed uint64) (train, test Dataset, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Dataset{}, Dataset{}, fmt.Errorf("linear: test fraction must be in (0, 1), got %v", testFraction)
	}
	n := d.Len()
	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest == 0 || nTest >= n {
		return Dataset{}, Dataset{}, fmt.Errorf("linear: cannot split %d rows with test fraction %v", n, testFraction)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)

	pick := func(idx []int) Dataset {
		out := Dataset{Features: d.Features, Target: d.Target, X: make([][]float64, len(idx)), Y: make([]float64, len(idx))}
		for i, k := range idx {
			out.X[i] = d.X[k]
			out.Y[i] = d.Y[k]
		}
		return out
	}
	return pick(perm[nTest:]), pick(perm[:nTest]), nil
}
