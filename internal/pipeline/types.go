package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/eval"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/partition"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/promote"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/selector"
)

// ErrVerificationFailed is returned when post-promotion checks fail. The
// promotion itself has already been applied.
var ErrVerificationFailed = errors.New("pipeline: post-promotion verification failed")

// #region config
// Config wires the pipeline stages.
type Config struct {
	Experiment         string
	PartitioningFamily string
	Counter            partition.CounterConfig
	Assigner           partition.AssignerConfig
	Buckets            promote.StageBuckets
	// LabeledPath receives the labeled CSV handed to the trainer by Run.
	LabeledPath string
}

// Deps are the external systems the pipeline talks to.
type Deps struct {
	Registry registry.Registry
	Store    artifact.Store
	Logger   *slog.Logger
}
// #endregion config

// #region trainer
// TrainRequest tells a trainer where the labeled observations are.
type TrainRequest struct {
	Experiment  string
	LabeledPath string
	Partitions  int
}

// Trainer trains one model per partition and logs a run per candidate
// family to the registry. Training is outside this module.
type Trainer interface {
	Train(ctx context.Context, req TrainRequest) error
}
// #endregion trainer

// #region results
// ClusterResult is the output of the clustering stage.
type ClusterResult struct {
	Partitions int                   `json:"partitions"`
	Assignment partition.Assignment  `json:"-"`
	RunID      string                `json:"run_id"`
	Version    registry.ModelVersion `json:"version"`
}

// PromoteResult is the output of the promotion stage.
type PromoteResult struct {
	Winners selector.Winners `json:"winners"`
	Report  promote.Report   `json:"report"`
	Eval    eval.EvalResult  `json:"eval"`
}

// RunResult covers a full cluster, train and promote cycle.
type RunResult struct {
	Cluster ClusterResult `json:"cluster"`
	Promote PromoteResult `json:"promote"`
}
// #endregion results
