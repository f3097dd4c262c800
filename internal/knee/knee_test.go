package knee

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// concaveIncreasing is y = 5 - 1/(x+0.1) sampled on 10 even points in [0, 1].
func concaveIncreasing() (x, y []float64) {
	for i := 0; i < 10; i++ {
		xi := float64(i) / 9
		x = append(x, xi)
		y = append(y, 5-1/(xi+0.1))
	}
	return x, y
}

func TestDetectConcaveIncreasing(t *testing.T) {
	x, y := concaveIncreasing()
	got, ok, err := Detect(x, y, Concave, Increasing, DefaultSensitivity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2.0/9, got, 1e-12)
}

func TestDetectConcaveDecreasing(t *testing.T) {
	x, y := concaveIncreasing()
	rev := make([]float64, len(y))
	for i := range y {
		rev[i] = y[len(y)-1-i]
	}
	got, ok, err := Detect(x, rev, Concave, Decreasing, DefaultSensitivity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 7.0/9, got, 1e-12)
}

func TestDetectConvexIncreasing(t *testing.T) {
	x, y := concaveIncreasing()
	neg := make([]float64, len(y))
	for i := range y {
		neg[i] = -y[len(y)-1-i]
	}
	got, ok, err := Detect(x, neg, Convex, Increasing, DefaultSensitivity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 7.0/9, got, 1e-12)
}

func TestDetectElbow(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := []float64{100, 40, 20, 15, 12, 10, 9, 8.5}
	got, ok, err := Detect(x, y, Convex, Decreasing, DefaultSensitivity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, got)
}

func TestDetectNoKnee(t *testing.T) {
	cases := map[string][]float64{
		"flat":     {5, 5, 5, 5, 5},
		"straight": {10, 8, 6, 4, 2},
	}
	x := []float64{1, 2, 3, 4, 5}
	for name, y := range cases {
		_, ok, err := Detect(x, y, Convex, Decreasing, DefaultSensitivity)
		require.NoError(t, err, name)
		assert.False(t, ok, name)
	}

	_, ok, err := Detect([]float64{1, 2}, []float64{10, 1}, Convex, Decreasing, DefaultSensitivity)
	require.NoError(t, err)
	assert.False(t, ok, "two points")
}

func TestDetectHighSensitivitySuppressesKnee(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := []float64{100, 40, 20, 15, 12, 10, 9, 8.5}
	_, ok, err := Detect(x, y, Convex, Decreasing, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetectInvalidInput(t *testing.T) {
	_, _, err := Detect([]float64{1, 2}, []float64{1}, Convex, Decreasing, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = Detect([]float64{1, 2, 3}, []float64{3, 2, 1}, "wiggly", Decreasing, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = Detect([]float64{1, 2, 3}, []float64{3, 2, 1}, Convex, "sideways", 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = Detect([]float64{3, 2, 1}, []float64{3, 2, 1}, Convex, Decreasing, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = Detect([]float64{1, 2, 3}, []float64{3, math.NaN(), 1}, Convex, Decreasing, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = Detect([]float64{1, 2, 3}, []float64{3, 2, 1}, Convex, Decreasing, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
