package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/dataset"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/kmeans"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/metrics"
)

// Assigner fits the partitioning model and labels every observation.
type Assigner struct {
	cfg    AssignerConfig
	store  artifact.Store
	logger *slog.Logger
}

// NewAssigner requires a store, a family name and a bucket.
func NewAssigner(cfg AssignerConfig, store artifact.Store, logger *slog.Logger) (*Assigner, error) {
	if store == nil {
		return nil, errors.New("partition: assigner needs an artifact store")
	}
	if cfg.Family == "" || cfg.Bucket == "" {
		return nil, errors.New("partition: assigner needs a family and a bucket")
	}
	return &Assigner{cfg: cfg, store: store, logger: logging.OrDiscard(logger)}, nil
}

// Assignment is the result of AssignPartitions.
type Assignment struct {
	Observations *dataset.Observations
	Model        *kmeans.Model
	Location     artifact.Location
	// ModelID is unique per call and names the stored blob.
	ModelID string
}

// AssignPartitions fits k-means with k groups, labels each row with its
// nearest centroid and stores the model under a fresh model id. obs is not
// modified; the labeled copy is returned.
func (a *Assigner) AssignPartitions(ctx context.Context, obs *dataset.Observations, k int) (Assignment, error) {
	model, labels, err := kmeans.Fit(ctx, obs.Data, k, a.cfg.KMeans)
	if err != nil {
		metrics.IncPartitionError("fitting_failure")
		a.logger.Error("partition fit failed", "k", k, "rows", obs.Rows(), "error", err)
		return Assignment{}, &FitError{K: k, Err: err}
	}

	labeled, err := obs.WithLabels(labels)
	if err != nil {
		return Assignment{}, fmt.Errorf("label observations: %w", err)
	}

	blob, err := model.MarshalBinary()
	if err != nil {
		return Assignment{}, fmt.Errorf("encode partition model: %w", err)
	}
	id := uuid.NewString()
	loc := artifact.Location{Bucket: a.cfg.Bucket, Key: artifact.ModelKey(a.cfg.Family, id)}
	if err := a.store.Put(ctx, loc, blob); err != nil {
		metrics.IncPartitionError("artifact")
		a.logger.Error("store partition model", "location", loc.String(), "error", err)
		return Assignment{}, fmt.Errorf("store partition model: %w", err)
	}

	a.logger.Info("assigned partitions",
		"k", k,
		"sizes", labeled.PartitionSizes(k),
		"inertia", model.Inertia,
		"location", loc.String(),
	)
	return Assignment{Observations: labeled, Model: model, Location: loc, ModelID: id}, nil
}

// LoadModel reads a partitioning model stored by AssignPartitions.
func LoadModel(ctx context.Context, store artifact.Store, loc artifact.Location) (*kmeans.Model, error) {
	blob, err := store.Get(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("load partition model %s: %w", loc, err)
	}
	var m kmeans.Model
	if err := m.UnmarshalBinary(blob); err != nil {
		return nil, err
	}
	return &m, nil
}
