package promote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/gate"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/metrics"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// Engine reconciles registry stages with the selected winners.
type Engine struct {
	reg     VersionStore
	store   artifact.Store
	buckets StageBuckets
	logger  *slog.Logger
}

// NewEngine needs buckets for both Staging and Production.
func NewEngine(reg VersionStore, store artifact.Store, buckets StageBuckets, logger *slog.Logger) (*Engine, error) {
	if reg == nil || store == nil {
		return nil, errors.New("promote: registry and artifact store are required")
	}
	for _, st := range []registry.Stage{registry.StageStaging, registry.StageProduction} {
		if buckets[st] == "" {
			return nil, fmt.Errorf("promote: no bucket configured for stage %s", st)
		}
	}
	return &Engine{reg: reg, store: store, buckets: buckets, logger: logging.OrDiscard(logger)}, nil
}

// #region promote
// Promote moves the latest version of every registered family to the stage
// the gate picks, most recently registered family first. The first failure
// aborts the cycle; versions already processed keep their new stage.
func (e *Engine) Promote(ctx context.Context, winners []string, partitioningFamily string) (Report, error) {
	latest, err := e.reg.ListLatestVersions(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: list latest versions: %v", ErrTransitionFailure, err)
	}

	g := gate.NewGate(gate.GateConfig{PartitioningFamily: partitioningFamily}, winners)
	var report Report
	for _, mv := range latest {
		if err := ctx.Err(); err != nil {
			e.logger.Error("promotion cancelled",
				"family", mv.Family,
				"version", mv.Version,
				"stage", string(mv.Stage),
				"processed", len(report.Outcomes),
				"error", err,
			)
			return report, fmt.Errorf("promote %s v%d: %w", mv.Family, mv.Version, err)
		}
		decision := g.Evaluate(mv.Family)
		out, err := e.transition(ctx, mv, decision)
		if err != nil {
			metrics.IncTransition(string(decision.Stage), metrics.ResultFailed)
			e.logger.Error("stage transition failed",
				"family", mv.Family,
				"version", mv.Version,
				"from", string(mv.Stage),
				"stage", string(decision.Stage),
				"error", err,
			)
			return report, err
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	e.logger.Info("promotion complete", "versions", len(report.Outcomes), "applied", report.Applied())
	return report, nil
}
// #endregion promote

// #region transition
// transition relocates the artifact and then updates the registry. A failed
// relocation leaves the stage untouched; a failed stage update removes the
// copy made for it.
func (e *Engine) transition(ctx context.Context, mv registry.ModelVersion, d gate.GateDecision) (Outcome, error) {
	out := Outcome{Family: mv.Family, Version: mv.Version, From: mv.Stage, To: d.Stage, Rule: d.Rule}
	fail := func(op string, err error) (Outcome, error) {
		return out, &TransitionError{Family: mv.Family, Version: mv.Version, From: mv.Stage, To: d.Stage, Op: op, Err: err}
	}

	dst, err := e.buckets.Location(d.Stage, mv.Family, mv.Version)
	if err != nil {
		return fail("locate", err)
	}
	out.Location = dst

	if mv.Stage == d.Stage && mv.Location == dst {
		metrics.IncTransition(string(d.Stage), metrics.ResultSkipped)
		e.logger.Debug("stage unchanged", "family", mv.Family, "version", mv.Version, "stage", string(d.Stage))
		return out, nil
	}

	copied := false
	if mv.Location != dst {
		if mv.Location.IsZero() {
			return fail("relocate", errors.New("version has no artifact location"))
		}
		existed, err := e.store.Exists(ctx, dst)
		if err != nil {
			return fail("relocate", err)
		}
		if err := artifact.Copy(ctx, e.store, mv.Location, dst); err != nil {
			return fail("relocate", err)
		}
		copied = !existed
	}

	_, err = e.reg.SetStage(ctx, registry.StageChange{
		Family:   mv.Family,
		Version:  mv.Version,
		From:     mv.Stage,
		To:       d.Stage,
		Location: dst,
		Reason:   d.Reason,
	})
	if err != nil {
		if copied {
			// delete even when ctx is already cancelled
			if derr := e.store.Delete(context.WithoutCancel(ctx), dst); derr != nil {
				e.logger.Error("remove relocated artifact", "location", dst.String(), "error", derr)
				err = errors.Join(err, derr)
			}
		}
		return fail("set_stage", err)
	}

	e.removePrevious(ctx, mv, dst)

	out.Applied = true
	metrics.IncTransition(string(d.Stage), metrics.ResultApplied)
	e.logger.Info("stage transition",
		"family", mv.Family,
		"version", mv.Version,
		"from", string(mv.Stage),
		"stage", string(d.Stage),
		"rule", string(d.Rule),
		"location", dst.String(),
	)
	return out, nil
}

// removePrevious deletes the copy a version held in its previous stage's
// bucket, so each stage bucket only holds versions currently in that stage.
// The registry already points at dst, so a failed delete is only logged.
// Source artifacts of versions still in None are never touched.
func (e *Engine) removePrevious(ctx context.Context, mv registry.ModelVersion, dst artifact.Location) {
	if mv.Stage == registry.StageNone || mv.Location == dst {
		return
	}
	prev, err := e.buckets.Location(mv.Stage, mv.Family, mv.Version)
	if err != nil || prev != mv.Location {
		return
	}
	if err := e.store.Delete(context.WithoutCancel(ctx), prev); err != nil {
		e.logger.Warn("remove previous stage artifact",
			"family", mv.Family,
			"version", mv.Version,
			"location", prev.String(),
			"error", err,
		)
	}
}
// #endregion transition
