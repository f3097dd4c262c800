package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/dataset"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/kmeans"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/knee"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/partition"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/promote"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/selector"
)

func threeBlobs(t *testing.T) *dataset.Observations {
	t.Helper()
	centers := [][2]float64{{0, 0}, {10, 10}, {-10, 10}}
	offsets := [][2]float64{
		{0.1, 0}, {-0.1, 0}, {0, 0.1}, {0, -0.1}, {0.05, 0.05},
		{-0.05, 0.05}, {0.05, -0.05}, {-0.05, -0.05}, {0.2, 0.1}, {-0.1, -0.2},
	}
	var data []float64
	for _, c := range centers {
		for _, o := range offsets {
			data = append(data, c[0]+o[0], c[1]+o[1])
		}
	}
	obs, err := dataset.New(mat.NewDense(30, 2, data), []string{"x", "y"})
	require.NoError(t, err)
	return obs
}

type env struct {
	reg   *registry.Store
	store *artifact.BadgerStore
	cfg   Config
}

func newEnv(t *testing.T) env {
	t.Helper()
	reg, err := registry.NewStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	store, err := artifact.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := kmeans.Options{Init: kmeans.InitKMeansPlusPlus, Seed: 42}
	cfg := Config{
		Experiment:         "phising",
		PartitioningFamily: "KMeans",
		Counter: partition.CounterConfig{
			MaxK:         8,
			KMeans:       opts,
			Curve:        knee.Convex,
			Direction:    knee.Decreasing,
			PlotLocation: artifact.Location{Bucket: "input-files", Key: "plots/elbow.png"},
		},
		Assigner: partition.AssignerConfig{KMeans: opts, Family: "KMeans", Bucket: "models"},
		Buckets: promote.StageBuckets{
			registry.StageStaging:    "models-staging",
			registry.StageProduction: "models-production",
		},
		LabeledPath: filepath.Join(t.TempDir(), "labeled.csv"),
	}
	return env{reg: reg, store: store, cfg: cfg}
}

func (e env) pipeline(t *testing.T, store artifact.Store) *Pipeline {
	t.Helper()
	p, err := New(e.cfg, Deps{Registry: e.reg, Store: store})
	require.NoError(t, err)
	return p
}

// fakeTrainer registers bases A and B for every partition, with A winning
// even partitions and B winning odd ones.
type fakeTrainer struct {
	reg   registry.Registry
	store artifact.Store
	got   TrainRequest
	err   error
}

func (f *fakeTrainer) Train(ctx context.Context, req TrainRequest) error {
	f.got = req
	if f.err != nil {
		return f.err
	}
	for i := range req.Partitions {
		scores := map[string]float64{"A": 0.6, "B": 0.8}
		if i%2 == 0 {
			scores = map[string]float64{"A": 0.9, "B": 0.7}
		}
		for base, score := range scores {
			family := fmt.Sprintf("%s%d", base, i)
			run, err := f.reg.LogRun(ctx, req.Experiment, map[string]float64{family + selector.MetricSuffix: score})
			if err != nil {
				return err
			}
			loc := artifact.Location{Bucket: "models", Key: artifact.ModelKey(family, run.RunID)}
			if err := f.store.Put(ctx, loc, []byte(family)); err != nil {
				return err
			}
			if _, err := f.reg.RegisterVersion(ctx, family, run.RunID, loc); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestClusterRegistersPartitioningModel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.pipeline(t, e.store).Cluster(ctx, threeBlobs(t))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Partitions)
	assert.Equal(t, "KMeans", res.Version.Family)
	assert.Equal(t, 1, res.Version.Version)
	assert.Equal(t, registry.StageNone, res.Version.Stage)
	assert.Equal(t, res.Assignment.Location, res.Version.Location)

	ok, err := e.store.Exists(ctx, e.cfg.Counter.PlotLocation)
	require.NoError(t, err)
	assert.True(t, ok, "elbow plot stored")

	runs, err := e.reg.ListRuns(ctx, "phising")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3.0, runs[0].Metrics["KMeans-partitions"])
}

func TestClusterKeepsEarlierVersions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.pipeline(t, e.store)

	first, err := p.Cluster(ctx, threeBlobs(t))
	require.NoError(t, err)

	shifted := threeBlobs(t)
	shifted.Data.Apply(func(_, _ int, v float64) float64 { return v + 100 }, shifted.Data)
	second, err := p.Cluster(ctx, shifted)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version.Version)
	assert.NotEqual(t, first.Version.Location, second.Version.Location)

	v1, err := e.reg.GetVersion(ctx, "KMeans", 1)
	require.NoError(t, err)
	loaded, err := partition.LoadModel(ctx, e.store, v1.Location)
	require.NoError(t, err)
	assert.Equal(t, first.Assignment.Model.Centroids, loaded.Centroids, "version 1 still holds its own model")
}

func TestRunPromotesWinners(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	trainer := &fakeTrainer{reg: e.reg, store: e.store}

	res, err := e.pipeline(t, e.store).Run(ctx, threeBlobs(t), trainer)
	require.NoError(t, err)

	assert.Equal(t, 3, trainer.got.Partitions)
	assert.Equal(t, "phising", trainer.got.Experiment)
	labeled, err := dataset.ReadCSVFile(trainer.got.LabeledPath)
	require.NoError(t, err)
	assert.Len(t, labeled.Labels, 30)

	assert.Equal(t, []string{"A0", "B1", "A2"}, res.Promote.Winners.Families())
	assert.Equal(t, []string{"A", "B", "A"}, res.Promote.Winners.Bases())
	assert.True(t, res.Promote.Eval.Passed, res.Promote.Eval.Reason)

	want := map[string]registry.Stage{
		"KMeans": registry.StageProduction,
		"A0":     registry.StageProduction,
		"B1":     registry.StageProduction,
		"A2":     registry.StageProduction,
		"B0":     registry.StageStaging,
		"A1":     registry.StageStaging,
		"B2":     registry.StageStaging,
	}
	for fam, stage := range want {
		mv, err := e.reg.GetVersion(ctx, fam, 1)
		require.NoError(t, err)
		assert.Equal(t, stage, mv.Stage, fam)
	}
}

func TestPromoteTwiceIsNoOp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.pipeline(t, e.store)

	_, err := p.Run(ctx, threeBlobs(t), &fakeTrainer{reg: e.reg, store: e.store})
	require.NoError(t, err)

	again, err := p.Promote(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, again.Report.Applied())
}

func TestPromoteMissingCandidate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.pipeline(t, e.store)

	_, err := p.Run(ctx, threeBlobs(t), &fakeTrainer{reg: e.reg, store: e.store})
	require.NoError(t, err)

	_, err = p.Promote(ctx, 4)
	var missing *selector.MissingCandidateError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 3, missing.Partition)
}

func TestRunTrainerFailure(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("boom")

	res, err := e.pipeline(t, e.store).Run(context.Background(), threeBlobs(t), &fakeTrainer{err: boom})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, res.Cluster.Partitions)
	assert.Empty(t, res.Promote.Winners)
}

// hiddenStore reports every artifact as missing.
type hiddenStore struct{ artifact.Store }

func (hiddenStore) Exists(context.Context, artifact.Location) (bool, error) { return false, nil }

func TestPromoteVerificationFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.pipeline(t, e.store).Run(ctx, threeBlobs(t), &fakeTrainer{reg: e.reg, store: e.store})
	require.NoError(t, err)

	res, err := e.pipeline(t, hiddenStore{e.store}).Promote(ctx, 3)
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.False(t, res.Eval.Passed)
	assert.Len(t, res.Winners, 3)
}

func TestNewValidates(t *testing.T) {
	e := newEnv(t)

	_, err := New(e.cfg, Deps{Store: e.store})
	assert.Error(t, err)

	cfg := e.cfg
	cfg.Experiment = ""
	_, err = New(cfg, Deps{Registry: e.reg, Store: e.store})
	assert.Error(t, err)

	cfg = e.cfg
	cfg.Counter.MaxK = 1
	_, err = New(cfg, Deps{Registry: e.reg, Store: e.store})
	assert.Error(t, err)

	cfg = e.cfg
	cfg.Buckets = nil
	_, err = New(cfg, Deps{Registry: e.reg, Store: e.store})
	assert.Error(t, err)
}

func TestRunRequiresTrainerAndPath(t *testing.T) {
	e := newEnv(t)
	p := e.pipeline(t, e.store)
	_, err := p.Run(context.Background(), threeBlobs(t), nil)
	assert.Error(t, err)

	e.cfg.LabeledPath = ""
	p = e.pipeline(t, e.store)
	_, err = p.Run(context.Background(), threeBlobs(t), &fakeTrainer{})
	assert.Error(t, err)
}
