// Package knee finds the point of diminishing returns on a monotone curve
// using the Kneedle algorithm (Satopaa et al., 2011), offline variant.
package knee

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Curve is the shape of the curve around the knee.
type Curve string

const (
	Convex  Curve = "convex"
	Concave Curve = "concave"
)

// Direction is the overall trend of y as x grows.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
)

// DefaultSensitivity is the S parameter most callers use.
const DefaultSensitivity = 1.0

var ErrInvalidInput = errors.New("knee: invalid input")

// ParseCurve accepts "convex" or "concave".
func ParseCurve(s string) (Curve, error) {
	switch Curve(s) {
	case Convex, Concave:
		return Curve(s), nil
	}
	return "", fmt.Errorf("%w: unknown curve %q", ErrInvalidInput, s)
}

// ParseDirection accepts "increasing" or "decreasing".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Increasing, Decreasing:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, s)
}

// Detect returns the x value at the knee. ok is false when the curve has no
// knee (flat, too short, or no difference-curve maximum crosses its
// threshold). x must be strictly increasing.
func Detect(x, y []float64, curve Curve, dir Direction, sensitivity float64) (knee float64, ok bool, err error) {
	if len(x) != len(y) {
		return 0, false, fmt.Errorf("%w: len(x)=%d len(y)=%d", ErrInvalidInput, len(x), len(y))
	}
	if _, err := ParseCurve(string(curve)); err != nil {
		return 0, false, err
	}
	if _, err := ParseDirection(string(dir)); err != nil {
		return 0, false, err
	}
	if sensitivity < 0 || math.IsNaN(sensitivity) {
		return 0, false, fmt.Errorf("%w: sensitivity %v", ErrInvalidInput, sensitivity)
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) || math.IsInf(x[i], 0) || math.IsInf(y[i], 0) {
			return 0, false, fmt.Errorf("%w: non-finite value at %d", ErrInvalidInput, i)
		}
	}
	if !sort.SliceIsSorted(x, func(i, j int) bool { return x[i] < x[j] }) {
		return 0, false, fmt.Errorf("%w: x must be increasing", ErrInvalidInput)
	}
	n := len(x)
	if n < 3 {
		return 0, false, nil
	}

	xn, okx := normalize(x)
	yn, oky := normalize(y)
	if !okx || !oky {
		return 0, false, nil
	}
	yn = transform(yn, curve, dir)

	diff := make([]float64, n)
	floats.SubTo(diff, yn, xn)

	maxima := extrema(diff, func(a, b float64) bool { return a >= b })
	if len(maxima) == 0 {
		return 0, false, nil
	}
	minima := extrema(diff, func(a, b float64) bool { return a <= b })

	step := 0.0
	for i := 1; i < n; i++ {
		step += xn[i] - xn[i-1]
	}
	step = math.Abs(step / float64(n-1))

	isMax := indexSet(maxima)
	isMin := indexSet(minima)

	var threshold float64
	thresholdIndex := 0
	maxSeen := 0
	for i := maxima[0]; i < n-1; i++ {
		if isMax[i] {
			threshold = diff[maxima[maxSeen]] - sensitivity*step
			thresholdIndex = i
			maxSeen++
		}
		if isMin[i] {
			threshold = 0
		}
		if diff[i+1] < threshold {
			if (curve == Convex && dir == Decreasing) || (curve == Concave && dir == Increasing) {
				return x[thresholdIndex], true, nil
			}
			return x[n-1-thresholdIndex], true, nil
		}
	}
	return 0, false, nil
}

func normalize(v []float64) ([]float64, bool) {
	lo, hi := floats.Min(v), floats.Max(v)
	if hi == lo {
		return nil, false
	}
	out := make([]float64, len(v))
	for i, a := range v {
		out[i] = (a - lo) / (hi - lo)
	}
	return out, true
}

// transform maps every curve shape onto the concave increasing case.
func transform(y []float64, curve Curve, dir Direction) []float64 {
	switch {
	case dir == Decreasing && curve == Concave:
		return flip(y)
	case dir == Decreasing && curve == Convex:
		return invert(y)
	case dir == Increasing && curve == Convex:
		return flip(invert(y))
	}
	return y
}

func invert(y []float64) []float64 {
	hi := floats.Max(y)
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = hi - v
	}
	return out
}

func flip(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[len(y)-1-i] = v
	}
	return out
}

// extrema returns indices i where cmp(v[i], neighbor) holds for both
// neighbors, with out-of-range neighbors clipped to the edge value.
func extrema(v []float64, cmp func(a, b float64) bool) []int {
	var out []int
	last := len(v) - 1
	for i := range v {
		prev, next := v[max(i-1, 0)], v[min(i+1, last)]
		if cmp(v[i], prev) && cmp(v[i], next) {
			out = append(out, i)
		}
	}
	return out
}

func indexSet(idx []int) map[int]bool {
	m := make(map[int]bool, len(idx))
	for _, i := range idx {
		m[i] = true
	}
	return m
}
