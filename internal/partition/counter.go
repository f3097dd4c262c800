package partition

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/dataset"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/kmeans"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/knee"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/metrics"
)

// Counter picks the number of partitions with the elbow heuristic.
type Counter struct {
	cfg    CounterConfig
	store  artifact.Store
	logger *slog.Logger
}

// NewCounter validates cfg. store may be nil only when no plot location is set.
func NewCounter(cfg CounterConfig, store artifact.Store, logger *slog.Logger) (*Counter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil && !cfg.PlotLocation.IsZero() {
		return nil, fmt.Errorf("partition: plot location %s set without an artifact store", cfg.PlotLocation)
	}
	return &Counter{cfg: cfg, store: store, logger: logging.OrDiscard(logger)}, nil
}

// #region sweep
// Sweep fits k-means for every k in [1, MaxK) and returns the inertia curve.
// Any failed fit fails the whole sweep.
func (c *Counter) Sweep(ctx context.Context, obs *dataset.Observations) (Elbow, error) {
	var e Elbow
	for k := 1; k < c.cfg.MaxK; k++ {
		start := time.Now()
		m, _, err := kmeans.Fit(ctx, obs.Data, k, c.cfg.KMeans)
		metrics.ObserveCandidateFit(time.Since(start))
		if err != nil {
			metrics.IncPartitionError("fitting_failure")
			c.logger.Error("elbow candidate fit failed", "k", k, "rows", obs.Rows(), "error", err)
			return Elbow{}, &FitError{K: k, Err: err}
		}
		c.logger.Debug("elbow candidate", "k", k, "inertia", m.Inertia, "iterations", m.Iterations)
		e.K = append(e.K, k)
		e.Inertia = append(e.Inertia, m.Inertia)
	}
	return e, nil
}
// #endregion sweep

// #region select
// SelectPartitionCount runs the sweep, stores the elbow plot and returns the
// knee of the inertia curve. A curve without a knee fails with
// ErrNoKneeDetected rather than falling back to a default.
func (c *Counter) SelectPartitionCount(ctx context.Context, obs *dataset.Observations) (int, error) {
	elbow, err := c.Sweep(ctx, obs)
	if err != nil {
		return 0, err
	}

	if !c.cfg.PlotLocation.IsZero() {
		png, err := RenderElbow(elbow)
		if err != nil {
			return 0, err
		}
		if err := c.store.Put(ctx, c.cfg.PlotLocation, png); err != nil {
			metrics.IncPartitionError("artifact")
			c.logger.Error("store elbow plot", "location", c.cfg.PlotLocation.String(), "error", err)
			return 0, fmt.Errorf("store elbow plot: %w", err)
		}
		c.logger.Info("stored elbow plot", "location", c.cfg.PlotLocation.String())
	}

	x, y := elbow.xy()
	sensitivity := c.cfg.Sensitivity
	if sensitivity == 0 {
		sensitivity = knee.DefaultSensitivity
	}
	kx, ok, err := knee.Detect(x, y, c.cfg.Curve, c.cfg.Direction, sensitivity)
	if err != nil {
		metrics.IncPartitionError("fitting_failure")
		return 0, fmt.Errorf("%w: knee detection: %v", ErrFittingFailure, err)
	}
	if !ok {
		metrics.IncPartitionError("no_knee")
		c.logger.Error("no knee in elbow curve", "max_k", c.cfg.MaxK, "inertia", elbow.Inertia)
		return 0, fmt.Errorf("%w: max_k=%d curve=%s direction=%s",
			ErrNoKneeDetected, c.cfg.MaxK, c.cfg.Curve, c.cfg.Direction)
	}

	k := int(math.Round(kx))
	metrics.SetPartitionCount(k)
	c.logger.Info("selected partition count", "k", k, "max_k", c.cfg.MaxK)
	return k, nil
}
// #endregion select
