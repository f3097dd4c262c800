// Package pipeline sequences the cluster, train and promote stages against a
// tracking registry and an artifact store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/dataset"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/eval"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/partition"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/promote"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/selector"
)

var tracer = otel.Tracer("clusterpromote.pipeline")

// #region pipeline-struct
// Pipeline coordinates partition counting, assignment, model selection,
// promotion and verification. Stages run sequentially.
type Pipeline struct {
	cfg      Config
	deps     Deps
	counter  *partition.Counter
	assigner *partition.Assigner
	selector *selector.Selector
	engine   *promote.Engine
	logger   *slog.Logger
}
// #endregion pipeline-struct

// #region constructor
// New validates cfg and builds every stage.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Registry == nil || deps.Store == nil {
		return nil, errors.New("pipeline: registry and artifact store are required")
	}
	if cfg.Experiment == "" || cfg.PartitioningFamily == "" {
		return nil, errors.New("pipeline: experiment and partitioning family are required")
	}
	logger := logging.OrDiscard(deps.Logger)

	counter, err := partition.NewCounter(cfg.Counter, deps.Store, logger)
	if err != nil {
		return nil, err
	}
	assigner, err := partition.NewAssigner(cfg.Assigner, deps.Store, logger)
	if err != nil {
		return nil, err
	}
	engine, err := promote.NewEngine(deps.Registry, deps.Store, cfg.Buckets, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		counter:  counter,
		assigner: assigner,
		selector: selector.New(deps.Registry, cfg.PartitioningFamily, logger),
		engine:   engine,
		logger:   logger,
	}, nil
}
// #endregion constructor

// #region cluster
// Cluster chooses the partition count, labels obs and registers the
// partitioning model as a new version of the partitioning family.
func (p *Pipeline) Cluster(ctx context.Context, obs *dataset.Observations) (res ClusterResult, err error) {
	ctx, span := tracer.Start(ctx, "pipeline.Cluster",
		trace.WithAttributes(attribute.Int("rows", obs.Rows())),
	)
	defer func() { endSpan(span, err) }()

	k, err := p.counter.SelectPartitionCount(ctx, obs)
	if err != nil {
		return ClusterResult{}, err
	}
	span.SetAttributes(attribute.Int("partitions", k))

	a, err := p.assigner.AssignPartitions(ctx, obs, k)
	if err != nil {
		return ClusterResult{}, err
	}

	run, err := p.deps.Registry.LogRun(ctx, p.cfg.Experiment, map[string]float64{
		p.cfg.PartitioningFamily + "-partitions": float64(k),
		p.cfg.PartitioningFamily + "-inertia":    a.Model.Inertia,
	})
	if err != nil {
		return ClusterResult{}, fmt.Errorf("log partitioning run: %w", err)
	}
	mv, err := p.deps.Registry.RegisterVersion(ctx, p.cfg.PartitioningFamily, run.RunID, a.Location)
	if err != nil {
		return ClusterResult{}, fmt.Errorf("register partitioning model: %w", err)
	}

	p.logger.Info("clustering complete",
		"partitions", k,
		"family", mv.Family,
		"version", mv.Version,
		"run_id", run.RunID,
	)
	return ClusterResult{Partitions: k, Assignment: a, RunID: run.RunID, Version: mv}, nil
}
// #endregion cluster

// #region promote
// Promote selects the best model per partition from the experiment's runs,
// applies stage transitions and verifies the result. A failed verification
// returns ErrVerificationFailed alongside the full result.
func (p *Pipeline) Promote(ctx context.Context, k int) (res PromoteResult, err error) {
	ctx, span := tracer.Start(ctx, "pipeline.Promote",
		trace.WithAttributes(attribute.Int("partitions", k)),
	)
	defer func() { endSpan(span, err) }()

	runs, err := p.deps.Registry.ListRuns(ctx, p.cfg.Experiment)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("list runs: %w", err)
	}

	winners, err := p.selector.SelectBestModels(ctx, runs, k)
	if err != nil {
		return PromoteResult{}, err
	}
	res.Winners = winners

	res.Report, err = p.engine.Promote(ctx, winners.Families(), p.cfg.PartitioningFamily)
	if err != nil {
		return res, err
	}
	span.SetAttributes(attribute.Int("transitions", res.Report.Applied()))

	harness := eval.NewEvalHarness(eval.EvalConfig{
		PartitioningFamily: p.cfg.PartitioningFamily,
		Partitions:         k,
	})
	res.Eval, err = harness.Run(ctx, p.deps.Registry, p.deps.Store)
	if err != nil {
		return res, fmt.Errorf("verify promotion: %w", err)
	}
	if !res.Eval.Passed {
		p.logger.Error("verification failed", "reason", res.Eval.Reason)
		return res, fmt.Errorf("%w: %s", ErrVerificationFailed, res.Eval.Reason)
	}

	p.logger.Info("promotion complete",
		"winners", winners.Families(),
		"applied", res.Report.Applied(),
	)
	return res, nil
}
// #endregion promote

// #region run
// Run clusters obs, writes the labeled set to LabeledPath, hands it to
// trainer and promotes the resulting runs.
func (p *Pipeline) Run(ctx context.Context, obs *dataset.Observations, trainer Trainer) (res RunResult, err error) {
	if trainer == nil {
		return RunResult{}, errors.New("pipeline: trainer is required")
	}
	if p.cfg.LabeledPath == "" {
		return RunResult{}, errors.New("pipeline: labeled path is required")
	}

	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer func() { endSpan(span, err) }()

	res.Cluster, err = p.Cluster(ctx, obs)
	if err != nil {
		return res, err
	}

	if err := res.Cluster.Assignment.Observations.WriteCSVFile(p.cfg.LabeledPath); err != nil {
		return res, fmt.Errorf("write labeled observations: %w", err)
	}

	trainCtx, trainSpan := tracer.Start(ctx, "pipeline.Train")
	err = trainer.Train(trainCtx, TrainRequest{
		Experiment:  p.cfg.Experiment,
		LabeledPath: p.cfg.LabeledPath,
		Partitions:  res.Cluster.Partitions,
	})
	endSpan(trainSpan, err)
	if err != nil {
		p.logger.Error("training failed", "partitions", res.Cluster.Partitions, "error", err)
		return res, fmt.Errorf("train partitions: %w", err)
	}

	res.Promote, err = p.Promote(ctx, res.Cluster.Partitions)
	return res, err
}
// #endregion run

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
