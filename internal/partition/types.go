package partition

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/kmeans"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/knee"
)

// #region errors
var (
	ErrFittingFailure = errors.New("partition: fitting failure")
	ErrNoKneeDetected = errors.New("partition: no knee detected")
)

// FitError reports the candidate count whose fit failed. It matches both
// ErrFittingFailure and the underlying cause with errors.Is.
type FitError struct {
	K   int
	Err error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("partition: fit k=%d: %v", e.K, e.Err)
}

func (e *FitError) Unwrap() []error { return []error{ErrFittingFailure, e.Err} }
// #endregion errors

// #region config
// CounterConfig configures the elbow sweep over [1, MaxK).
type CounterConfig struct {
	MaxK        int
	KMeans      kmeans.Options
	Curve       knee.Curve
	Direction   knee.Direction
	Sensitivity float64
	// PlotLocation receives the elbow plot PNG. Zero skips the plot.
	PlotLocation artifact.Location
}

// Validate rejects sweeps that cannot produce a knee.
func (c CounterConfig) Validate() error {
	if c.MaxK < 2 {
		return fmt.Errorf("partition: max_k must be at least 2, got %d", c.MaxK)
	}
	if _, err := knee.ParseCurve(string(c.Curve)); err != nil {
		return err
	}
	if _, err := knee.ParseDirection(string(c.Direction)); err != nil {
		return err
	}
	if !c.PlotLocation.IsZero() {
		return c.PlotLocation.Validate()
	}
	return nil
}

// AssignerConfig configures the final partitioning fit.
type AssignerConfig struct {
	KMeans kmeans.Options
	// Family is the registry family of the partitioning model, e.g. "KMeans".
	Family string
	// Bucket receives the serialized model.
	Bucket string
}
// #endregion config

// #region elbow
// Elbow is the dispersion curve of one sweep.
type Elbow struct {
	K       []int     `json:"k"`
	Inertia []float64 `json:"inertia"`
}

func (e Elbow) xy() (x, y []float64) {
	x = make([]float64, len(e.K))
	for i, k := range e.K {
		x[i] = float64(k)
	}
	return x, e.Inertia
}
// #endregion elbow
