package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/eval"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/promote"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/selector"
)

// sourceBucket holds the artifacts of freshly registered versions.
const sourceBucket = "models"

// Error kinds reported in ReplayResult.ErrorKind.
const (
	KindMissingCandidate = "missing_partition_candidate"
	KindTransition       = "transition_failure"
	KindNotFound         = "not_found"
	KindOther            = "error"
)

// #region types
// Registration is one version registered before replay, in order.
type Registration struct {
	Family          string
	MissingArtifact bool
}

// ReplayConfig bundles selection, promotion and verification settings.
type ReplayConfig struct {
	Experiment         string
	PartitioningFamily string
	Partitions         int
	Buckets            promote.StageBuckets
}

// DefaultReplayConfig returns the settings fixtures assume unless they say
// otherwise.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Experiment:         "replay",
		PartitioningFamily: eval.DefaultEvalConfig().PartitioningFamily,
		Buckets: promote.StageBuckets{
			registry.StageStaging:    "staging",
			registry.StageProduction: "production",
		},
	}
}

// Pass is one selection and promotion cycle.
type Pass struct {
	Winners selector.Winners
	Report  promote.Report
	Eval    eval.EvalResult
}

// ReplayResult captures both promotion passes and the final registry state.
type ReplayResult struct {
	Passes []Pass
	// Stages is the stage of every family's latest version after replay.
	Stages    map[string]registry.Stage
	Err       error
	ErrorKind string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Passes      int
	Transitions int
	// SecondPassTransitions must be zero for an idempotent promotion.
	SecondPassTransitions int
	Production            int
	Staging               int
}

// #endregion types

// #region replay
// Replay registers regs and logs runs against a fresh in-memory registry and
// artifact store, then runs selection and promotion twice. Domain failures
// end the replay and are reported in the result; the returned error covers
// only setup.
func Replay(ctx context.Context, regs []Registration, runs []map[string]float64, config ReplayConfig, logger *slog.Logger) (ReplayResult, error) {
	logger = logging.OrDiscard(logger)

	reg, err := registry.NewStore(":memory:")
	if err != nil {
		return ReplayResult{}, fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	store, err := artifact.OpenBadgerInMemory()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("open artifact store: %w", err)
	}
	defer store.Close()

	// 1. Seed
	if _, err := reg.CreateExperiment(ctx, config.Experiment); err != nil {
		return ReplayResult{}, err
	}
	for i, r := range regs {
		loc := artifact.Location{Bucket: sourceBucket, Key: artifact.ModelKey(r.Family, strconv.Itoa(i))}
		if !r.MissingArtifact {
			if err := store.Put(ctx, loc, []byte(r.Family)); err != nil {
				return ReplayResult{}, fmt.Errorf("seed artifact %s: %w", r.Family, err)
			}
		}
		if _, err := reg.RegisterVersion(ctx, r.Family, "", loc); err != nil {
			return ReplayResult{}, fmt.Errorf("seed version %s: %w", r.Family, err)
		}
	}
	for i, m := range runs {
		if _, err := reg.LogRun(ctx, config.Experiment, m); err != nil {
			return ReplayResult{}, fmt.Errorf("seed run %d: %w", i, err)
		}
	}

	sel := selector.New(reg, config.PartitioningFamily, logger)
	engine, err := promote.NewEngine(reg, store, config.Buckets, logger)
	if err != nil {
		return ReplayResult{}, err
	}
	harness := eval.NewEvalHarness(eval.EvalConfig{
		PartitioningFamily: config.PartitioningFamily,
		Partitions:         config.Partitions,
	})

	var result ReplayResult
	for range 2 {
		pass, err := runPass(ctx, reg, store, sel, engine, harness, config)
		if err != nil {
			result.Err = err
			result.ErrorKind = ErrorKind(err)
			break
		}
		result.Passes = append(result.Passes, pass)
	}

	// 2. Snapshot
	latest, err := reg.ListLatestVersions(ctx)
	if err != nil {
		return result, fmt.Errorf("snapshot registry: %w", err)
	}
	result.Stages = make(map[string]registry.Stage, len(latest))
	for _, mv := range latest {
		result.Stages[mv.Family] = mv.Stage
	}
	return result, nil
}

func runPass(ctx context.Context, reg *registry.Store, store artifact.Store, sel *selector.Selector, engine *promote.Engine, harness *eval.EvalHarness, config ReplayConfig) (Pass, error) {
	runs, err := reg.ListRuns(ctx, config.Experiment)
	if err != nil {
		return Pass{}, err
	}
	winners, err := sel.SelectBestModels(ctx, runs, config.Partitions)
	if err != nil {
		return Pass{}, err
	}
	report, err := engine.Promote(ctx, winners.Families(), config.PartitioningFamily)
	if err != nil {
		return Pass{}, err
	}
	ev, err := harness.Run(ctx, reg, store)
	if err != nil {
		return Pass{}, err
	}
	return Pass{Winners: winners, Report: report, Eval: ev}, nil
}

// ErrorKind classifies a replay failure for comparison with fixtures.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, selector.ErrMissingPartitionCandidate):
		return KindMissingCandidate
	case errors.Is(err, promote.ErrTransitionFailure):
		return KindTransition
	case errors.Is(err, registry.ErrNotFound):
		return KindNotFound
	default:
		return KindOther
	}
}

// Summarize computes aggregate stats from a replay result.
func Summarize(r ReplayResult) ReplaySummary {
	s := ReplaySummary{Passes: len(r.Passes)}
	for i, p := range r.Passes {
		s.Transitions += p.Report.Applied()
		if i == 1 {
			s.SecondPassTransitions = p.Report.Applied()
		}
	}
	for _, st := range r.Stages {
		switch st {
		case registry.StageProduction:
			s.Production++
		case registry.StageStaging:
			s.Staging++
		}
	}
	return s
}

// #endregion replay

// #region compare
// Compare lists every way r differs from the fixture's expectations. A
// second pass that changes anything is always a mismatch.
func Compare(want FixtureExpected, r ReplayResult) []string {
	var diffs []string

	if r.ErrorKind != want.Error {
		diffs = append(diffs, fmt.Sprintf("error: expected %q, got %q (%v)", want.Error, r.ErrorKind, r.Err))
	}

	if len(r.Passes) > 0 {
		first := r.Passes[0]
		if want.Bases != nil && !slices.Equal(want.Bases, first.Winners.Bases()) {
			diffs = append(diffs, fmt.Sprintf("bases: expected %v, got %v", want.Bases, first.Winners.Bases()))
		}
		if want.Families != nil && !slices.Equal(want.Families, first.Winners.Families()) {
			diffs = append(diffs, fmt.Sprintf("families: expected %v, got %v", want.Families, first.Winners.Families()))
		}
		for i, p := range r.Passes {
			if !p.Eval.Passed {
				diffs = append(diffs, fmt.Sprintf("pass %d: verification failed: %s", i+1, p.Eval.Reason))
			}
		}
	}
	if len(r.Passes) == 2 && r.Passes[1].Report.Applied() != 0 {
		diffs = append(diffs, fmt.Sprintf("second pass applied %d transitions, expected none", r.Passes[1].Report.Applied()))
	}

	for _, fam := range sortedKeys(want.Stages) {
		got, ok := r.Stages[fam]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("stage %s: family not registered", fam))
			continue
		}
		if got != want.Stages[fam] {
			diffs = append(diffs, fmt.Sprintf("stage %s: expected %s, got %s", fam, want.Stages[fam], got))
		}
	}
	return diffs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// #endregion compare

// #region run-fixture
// RunFixture replays f and compares the outcome with its expectations.
func RunFixture(ctx context.Context, f *Fixture, logger *slog.Logger) (ReplayResult, []string, error) {
	regs, runs := f.Inputs()
	r, err := Replay(ctx, regs, runs, f.Config.ToReplayConfig(), logger)
	if err != nil {
		return r, nil, err
	}
	return r, Compare(f.Expected, r), nil
}

// #endregion run-fixture
