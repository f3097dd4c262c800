package promote

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/gate"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

var buckets = StageBuckets{
	registry.StageStaging:    "staging-models",
	registry.StageProduction: "production-models",
}

type fixture struct {
	reg   *registry.Store
	store *artifact.BadgerStore
}

// newFixture registers one version per family with its artifact in "models".
func newFixture(t *testing.T, families ...string) fixture {
	t.Helper()
	reg, err := registry.NewStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	store, err := artifact.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, f := range families {
		loc := artifact.Location{Bucket: "models", Key: artifact.ModelKey(f, "1")}
		require.NoError(t, store.Put(ctx, loc, []byte("model:"+f)))
		_, err := reg.RegisterVersion(ctx, f, "", loc)
		require.NoError(t, err)
	}
	return fixture{reg: reg, store: store}
}

func (f fixture) version(t *testing.T, family string) registry.ModelVersion {
	t.Helper()
	mv, err := f.reg.GetVersion(context.Background(), family, 1)
	require.NoError(t, err)
	return mv
}

func (f fixture) snapshot(t *testing.T) map[string]registry.ModelVersion {
	t.Helper()
	latest, err := f.reg.ListLatestVersions(context.Background())
	require.NoError(t, err)
	out := map[string]registry.ModelVersion{}
	for _, mv := range latest {
		out[mv.Family] = mv
	}
	return out
}

func TestPromoteAppliesRules(t *testing.T) {
	f := newFixture(t, "KMeans", "A0", "A1", "B0")
	e, err := NewEngine(f.reg, f.store, buckets, nil)
	require.NoError(t, err)

	report, err := e.Promote(context.Background(), []string{"A0", "A1"}, "KMeans")
	require.NoError(t, err)
	assert.Len(t, report.Outcomes, 4)
	assert.Equal(t, 4, report.Applied())

	want := map[string]registry.Stage{
		"KMeans": registry.StageProduction,
		"A0":     registry.StageProduction,
		"A1":     registry.StageProduction,
		"B0":     registry.StageStaging,
	}
	for fam, stage := range want {
		mv := f.version(t, fam)
		assert.Equal(t, stage, mv.Stage, fam)
		assert.Equal(t, buckets[stage], mv.Location.Bucket, fam)

		data, err := f.store.Get(context.Background(), mv.Location)
		require.NoError(t, err, fam)
		assert.Equal(t, "model:"+fam, string(data))
	}

	for _, o := range report.Outcomes {
		if o.Family == "KMeans" {
			assert.Equal(t, gate.RulePartitioning, o.Rule)
		}
	}

	decisions, err := f.reg.ListDecisions(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, decisions, 4)
}

func TestPromoteIdempotent(t *testing.T) {
	f := newFixture(t, "KMeans", "A0", "B0")
	e, err := NewEngine(f.reg, f.store, buckets, nil)
	require.NoError(t, err)

	_, err = e.Promote(context.Background(), []string{"A0"}, "KMeans")
	require.NoError(t, err)
	first := f.snapshot(t)

	report, err := e.Promote(context.Background(), []string{"A0"}, "KMeans")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied())
	assert.Equal(t, first, f.snapshot(t))

	decisions, err := f.reg.ListDecisions(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, decisions, 3, "second run logs nothing")
}

func TestPromoteDemotesPreviousWinner(t *testing.T) {
	f := newFixture(t, "KMeans", "A0", "B0")
	e, err := NewEngine(f.reg, f.store, buckets, nil)
	require.NoError(t, err)

	_, err = e.Promote(context.Background(), []string{"A0"}, "KMeans")
	require.NoError(t, err)
	_, err = e.Promote(context.Background(), []string{"B0"}, "KMeans")
	require.NoError(t, err)

	assert.Equal(t, registry.StageStaging, f.version(t, "A0").Stage)
	assert.Equal(t, registry.StageProduction, f.version(t, "B0").Stage)
	assert.Equal(t, registry.StageProduction, f.version(t, "KMeans").Stage)

	ok, err := f.store.Exists(context.Background(), f.version(t, "A0").Location)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPromotePartitioningFamilyWithoutWinners(t *testing.T) {
	f := newFixture(t, "KMeans", "A0")
	e, err := NewEngine(f.reg, f.store, buckets, nil)
	require.NoError(t, err)

	_, err = e.Promote(context.Background(), nil, "KMeans")
	require.NoError(t, err)
	assert.Equal(t, registry.StageProduction, f.version(t, "KMeans").Stage)
	assert.Equal(t, registry.StageStaging, f.version(t, "A0").Stage)
}

// copyFailStore refuses writes to one bucket.
type copyFailStore struct {
	*artifact.BadgerStore
	bucket string
}

var errBucketDown = errors.New("bucket unavailable")

func (s copyFailStore) Put(ctx context.Context, loc artifact.Location, data []byte) error {
	if loc.Bucket == s.bucket {
		return errBucketDown
	}
	return s.BadgerStore.Put(ctx, loc, data)
}

func (s copyFailStore) Copy(ctx context.Context, src, dst artifact.Location) error {
	if dst.Bucket == s.bucket {
		return errBucketDown
	}
	return s.BadgerStore.Copy(ctx, src, dst)
}

func TestPromoteRelocationFailureKeepsStage(t *testing.T) {
	f := newFixture(t, "A0")
	store := copyFailStore{BadgerStore: f.store, bucket: "production-models"}
	e, err := NewEngine(f.reg, store, buckets, nil)
	require.NoError(t, err)

	_, err = e.Promote(context.Background(), []string{"A0"}, "KMeans")
	require.ErrorIs(t, err, ErrTransitionFailure)
	assert.ErrorIs(t, err, errBucketDown)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "A0", te.Family)
	assert.Equal(t, "relocate", te.Op)
	assert.Equal(t, registry.StageProduction, te.To)

	mv := f.version(t, "A0")
	assert.Equal(t, registry.StageNone, mv.Stage)
	assert.Equal(t, "models", mv.Location.Bucket)
}

func TestPromoteFailFast(t *testing.T) {
	f := newFixture(t, "KMeans", "A0", "B0")
	store := copyFailStore{BadgerStore: f.store, bucket: "production-models"}
	e, err := NewEngine(f.reg, store, buckets, nil)
	require.NoError(t, err)

	report, err := e.Promote(context.Background(), []string{"A0"}, "KMeans")
	require.ErrorIs(t, err, ErrTransitionFailure)
	assert.Less(t, len(report.Outcomes), 3)

	// every Production target failed before its stage changed
	assert.Equal(t, registry.StageNone, f.version(t, "KMeans").Stage)
	assert.Equal(t, registry.StageNone, f.version(t, "A0").Stage)
}

// stageFailRegistry rejects every stage change.
type stageFailRegistry struct{ *registry.Store }

func (stageFailRegistry) SetStage(context.Context, registry.StageChange) (registry.ModelVersion, error) {
	return registry.ModelVersion{}, errors.New("registry unavailable")
}

func TestPromoteStageFailureRemovesCopy(t *testing.T) {
	f := newFixture(t, "A0")
	e, err := NewEngine(stageFailRegistry{f.reg}, f.store, buckets, nil)
	require.NoError(t, err)

	_, err = e.Promote(context.Background(), []string{"A0"}, "KMeans")
	require.ErrorIs(t, err, ErrTransitionFailure)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "set_stage", te.Op)

	dst, err := buckets.Location(registry.StageProduction, "A0", 1)
	require.NoError(t, err)
	ok, err := f.store.Exists(context.Background(), dst)
	require.NoError(t, err)
	assert.False(t, ok, "relocated artifact must be removed")

	src, err := f.store.Exists(context.Background(), artifact.Location{Bucket: "models", Key: artifact.ModelKey("A0", "1")})
	require.NoError(t, err)
	assert.True(t, src, "source artifact untouched")
}

func TestPromoteStageFailureKeepsPreexistingCopy(t *testing.T) {
	f := newFixture(t, "A0")
	dst, err := buckets.Location(registry.StageProduction, "A0", 1)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), dst, []byte("earlier")))

	e, err := NewEngine(stageFailRegistry{f.reg}, f.store, buckets, nil)
	require.NoError(t, err)
	_, err = e.Promote(context.Background(), []string{"A0"}, "KMeans")
	require.Error(t, err)

	ok, err := f.store.Exists(context.Background(), dst)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPromoteMissingSourceArtifact(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.RegisterVersion(context.Background(), "A0", "", artifact.Location{Bucket: "models", Key: "A0/model"})
	require.NoError(t, err)

	e, err := NewEngine(f.reg, f.store, buckets, nil)
	require.NoError(t, err)
	_, err = e.Promote(context.Background(), []string{"A0"}, "KMeans")
	require.ErrorIs(t, err, ErrTransitionFailure)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
	assert.Equal(t, registry.StageNone, f.version(t, "A0").Stage)
}

func TestNewEngineValidation(t *testing.T) {
	f := newFixture(t)
	_, err := NewEngine(f.reg, f.store, StageBuckets{registry.StageStaging: "s"}, nil)
	assert.Error(t, err)
	_, err = NewEngine(nil, f.store, buckets, nil)
	assert.Error(t, err)
}

func TestPromoteDemotionClearsProductionBucket(t *testing.T) {
	f := newFixture(t, "KMeans", "A0", "B0")
	e, err := NewEngine(f.reg, f.store, buckets, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.Promote(ctx, []string{"A0"}, "KMeans")
	require.NoError(t, err)
	_, err = e.Promote(ctx, []string{"B0"}, "KMeans")
	require.NoError(t, err)

	a0 := f.version(t, "A0")
	assert.Equal(t, registry.StageStaging, a0.Stage)
	staged, err := f.store.Exists(ctx, a0.Location)
	require.NoError(t, err)
	assert.True(t, staged)

	prod, err := buckets.Location(registry.StageProduction, "A0", 1)
	require.NoError(t, err)
	left, err := f.store.Exists(ctx, prod)
	require.NoError(t, err)
	assert.False(t, left, "demoted version leaves the production bucket")

	b0Staging, err := buckets.Location(registry.StageStaging, "B0", 1)
	require.NoError(t, err)
	left, err = f.store.Exists(ctx, b0Staging)
	require.NoError(t, err)
	assert.False(t, left, "promoted version leaves the staging bucket")

	src, err := f.store.Exists(ctx, artifact.Location{Bucket: "models", Key: artifact.ModelKey("A0", "1")})
	require.NoError(t, err)
	assert.True(t, src, "source artifact untouched")
}

// cancelAfterFirst cancels the cycle's context once the first stage update
// has gone through.
type cancelAfterFirst struct {
	*registry.Store
	cancel context.CancelFunc
}

func (c cancelAfterFirst) SetStage(ctx context.Context, change registry.StageChange) (registry.ModelVersion, error) {
	mv, err := c.Store.SetStage(ctx, change)
	c.cancel()
	return mv, err
}

func TestPromoteCancelledMidCycle(t *testing.T) {
	f := newFixture(t, "KMeans", "A0", "B0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	e, err := NewEngine(cancelAfterFirst{Store: f.reg, cancel: cancel}, f.store, buckets, logger)
	require.NoError(t, err)

	report, err := e.Promote(ctx, []string{"A0"}, "KMeans")
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Outcomes, 1)

	assert.Contains(t, logs.String(), "promotion cancelled")
	assert.Contains(t, logs.String(), "processed=1")

	done := report.Outcomes[0].Family
	for fam, mv := range f.snapshot(t) {
		if fam == done {
			assert.NotEqual(t, registry.StageNone, mv.Stage, fam)
			continue
		}
		assert.Equal(t, registry.StageNone, mv.Stage, fam)
	}
	assert.Regexp(t, `promote (KMeans|A0|B0) v1: context canceled`, err.Error())
	assert.NotContains(t, err.Error(), "promote "+done+" ")
}
