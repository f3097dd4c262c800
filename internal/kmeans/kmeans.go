package kmeans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// #region options
// Init selects how initial centroids are chosen.
type Init string

const (
	InitKMeansPlusPlus Init = "k-means++"
	InitRandom         Init = "random"
)

// ParseInit accepts the configured init strategy names.
func ParseInit(s string) (Init, error) {
	switch Init(s) {
	case InitKMeansPlusPlus, InitRandom:
		return Init(s), nil
	}
	return "", fmt.Errorf("unknown init strategy %q", s)
}

// Options controls a fit. Zero values fall back to DefaultOptions.
type Options struct {
	Init    Init
	Seed    uint64
	MaxIter int
	// Tol is relative to the mean per-feature variance of the data.
	Tol   float64
	NInit int
}

// DefaultOptions mirrors the usual k-means defaults.
func DefaultOptions() Options {
	return Options{Init: InitKMeansPlusPlus, Seed: 42, MaxIter: 300, Tol: 1e-4, NInit: 10}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Init == "" {
		o.Init = d.Init
	}
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.Tol <= 0 {
		o.Tol = d.Tol
	}
	if o.NInit <= 0 {
		o.NInit = d.NInit
	}
	return o
}
// #endregion options

// #region errors
var (
	ErrInvalidK    = errors.New("kmeans: k must be at least 1")
	ErrTooFewRows  = errors.New("kmeans: fewer rows than clusters")
	ErrEmptyInput  = errors.New("kmeans: empty input")
	ErrNonFinite   = errors.New("kmeans: input contains NaN or Inf")
	ErrDimMismatch = errors.New("kmeans: feature width does not match model")
)
// #endregion errors

// #region model
// Model is a fitted k-means model.
type Model struct {
	Centroids  [][]float64 `json:"centroids"`
	Inertia    float64     `json:"inertia"`
	Iterations int         `json:"iterations"`
	Init       Init        `json:"init"`
	Seed       uint64      `json:"seed"`
}

// K returns the number of centroids.
func (m *Model) K() int { return len(m.Centroids) }

// Predict assigns each row to its nearest centroid.
func (m *Model) Predict(data *mat.Dense) ([]int, error) {
	rows, cols := data.Dims()
	if m.K() == 0 {
		return nil, ErrInvalidK
	}
	if cols != len(m.Centroids[0]) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimMismatch, cols, len(m.Centroids[0]))
	}
	labels := make([]int, rows)
	for i := 0; i < rows; i++ {
		labels[i], _ = nearest(data.RawRowView(i), m.Centroids)
	}
	return labels, nil
}

// MarshalBinary serializes the model as JSON.
func (m *Model) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBinary restores a model written by MarshalBinary.
func (m *Model) UnmarshalBinary(b []byte) error {
	if err := json.Unmarshal(b, m); err != nil {
		return fmt.Errorf("decode kmeans model: %w", err)
	}
	if m.K() == 0 {
		return fmt.Errorf("decode kmeans model: %w", ErrInvalidK)
	}
	return nil
}
// #endregion model

// #region fit
// Fit runs Lloyd's algorithm NInit times from different seeded
// initializations and keeps the run with the lowest inertia. Results are
// deterministic for a fixed Seed.
func Fit(ctx context.Context, data *mat.Dense, k int, opts Options) (*Model, []int, error) {
	if k < 1 {
		return nil, nil, ErrInvalidK
	}
	if data == nil || data.IsEmpty() {
		return nil, nil, ErrEmptyInput
	}
	rows, _ := data.Dims()
	if rows < k {
		return nil, nil, fmt.Errorf("%w: %d rows, %d clusters", ErrTooFewRows, rows, k)
	}
	for i := 0; i < rows; i++ {
		for _, v := range data.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("%w: row %d", ErrNonFinite, i)
			}
		}
	}
	opts = opts.withDefaults()
	tol := opts.Tol * meanVariance(data)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	var best *Model
	var bestLabels []int
	for run := 0; run < opts.NInit; run++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		var centers [][]float64
		switch opts.Init {
		case InitRandom:
			centers = initRandom(data, k, rng)
		default:
			centers = initPlusPlus(data, k, rng)
		}
		labels, inertia, iters := lloyd(data, centers, opts.MaxIter, tol)
		if best == nil || inertia < best.Inertia {
			best = &Model{Centroids: centers, Inertia: inertia, Iterations: iters, Init: opts.Init, Seed: opts.Seed}
			bestLabels = labels
		}
	}
	return best, bestLabels, nil
}

func meanVariance(data *mat.Dense) float64 {
	rows, cols := data.Dims()
	if rows < 2 {
		return 0
	}
	col := make([]float64, rows)
	var sum float64
	for j := 0; j < cols; j++ {
		mat.Col(col, j, data)
		// population variance, like numpy's default
		sum += stat.Variance(col, nil) * float64(rows-1) / float64(rows)
	}
	return sum / float64(cols)
}
// #endregion fit

// #region init
func initRandom(data *mat.Dense, k int, rng *rand.Rand) [][]float64 {
	rows, _ := data.Dims()
	perm := rng.Perm(rows)
	centers := make([][]float64, k)
	for c := 0; c < k; c++ {
		centers[c] = copyRow(data, perm[c])
	}
	return centers
}

func initPlusPlus(data *mat.Dense, k int, rng *rand.Rand) [][]float64 {
	rows, _ := data.Dims()
	centers := make([][]float64, 0, k)
	centers = append(centers, copyRow(data, rng.IntN(rows)))

	d2 := make([]float64, rows)
	for i := range d2 {
		d2[i] = sqDist(data.RawRowView(i), centers[0])
	}
	for len(centers) < k {
		total := floats.Sum(d2)
		var pick int
		if total == 0 {
			// all remaining points coincide with a center
			pick = rng.IntN(rows)
		} else {
			target := rng.Float64() * total
			acc := 0.0
			pick = rows - 1
			for i, d := range d2 {
				acc += d
				if acc >= target {
					pick = i
					break
				}
			}
		}
		c := copyRow(data, pick)
		centers = append(centers, c)
		for i := range d2 {
			if d := sqDist(data.RawRowView(i), c); d < d2[i] {
				d2[i] = d
			}
		}
	}
	return centers
}
// #endregion init

// #region lloyd
func lloyd(data *mat.Dense, centers [][]float64, maxIter int, tol float64) ([]int, float64, int) {
	rows, cols := data.Dims()
	k := len(centers)
	labels := make([]int, rows)
	dist := make([]float64, rows)
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, cols)
	}
	counts := make([]int, k)

	iters := 0
	for iters < maxIter {
		iters++
		for i := 0; i < rows; i++ {
			labels[i], dist[i] = nearest(data.RawRowView(i), centers)
		}

		for c := 0; c < k; c++ {
			floats.Scale(0, sums[c])
			counts[c] = 0
		}
		for i := 0; i < rows; i++ {
			floats.Add(sums[labels[i]], data.RawRowView(i))
			counts[labels[i]]++
		}

		shift := 0.0
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// relocate an empty cluster to the point farthest from its center
				far := floats.MaxIdx(dist)
				next := copyRow(data, far)
				shift += sqDist(next, centers[c])
				centers[c] = next
				dist[far] = 0
				continue
			}
			next := make([]float64, cols)
			floats.ScaleTo(next, 1/float64(counts[c]), sums[c])
			shift += sqDist(next, centers[c])
			centers[c] = next
		}
		if shift <= tol {
			break
		}
	}

	inertia := 0.0
	for i := 0; i < rows; i++ {
		var d float64
		labels[i], d = nearest(data.RawRowView(i), centers)
		inertia += d
	}
	return labels, inertia, iters
}

func nearest(row []float64, centers [][]float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, center := range centers {
		if d := sqDist(row, center); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func copyRow(data *mat.Dense, i int) []float64 {
	row := data.RawRowView(i)
	out := make([]float64, len(row))
	copy(out, row)
	return out
}
// #endregion lloyd
