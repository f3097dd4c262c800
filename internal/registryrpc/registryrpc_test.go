package registryrpc

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/promote"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// serve starts a registry server on an in-memory listener and returns a
// connected client plus the backing store.
func serve(t *testing.T) (*Client, *registry.Store) {
	t.Helper()
	store, err := registry.NewStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	Register(gs, NewServer(store, nil))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewClientWithConn(conn), store
}

func TestRunsRoundTrip(t *testing.T) {
	c, _ := serve(t)
	ctx := context.Background()

	rec, err := c.LogRun(ctx, "phising", map[string]float64{"XGBoost0-best_score": 0.93})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.RunID)

	runs, err := c.ListRuns(ctx, "phising")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.RunID, runs[0].RunID)
	assert.Equal(t, 0.93, runs[0].Metrics["XGBoost0-best_score"])
	assert.True(t, rec.CreatedAt.Equal(runs[0].CreatedAt))
}

func TestVersionsRoundTrip(t *testing.T) {
	c, _ := serve(t)
	ctx := context.Background()
	loc := artifact.Location{Bucket: "models", Key: "A0/model"}

	mv, err := c.RegisterVersion(ctx, "A0", "run-1", loc)
	require.NoError(t, err)
	assert.Equal(t, 1, mv.Version)
	assert.Equal(t, registry.StageNone, mv.Stage)

	fams, err := c.ListFamilies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A0"}, fams)

	dst := artifact.Location{Bucket: "prod", Key: "production/A0/1/model"}
	got, err := c.SetStage(ctx, registry.StageChange{
		Family: "A0", Version: 1, From: registry.StageNone, To: registry.StageProduction, Location: dst,
	})
	require.NoError(t, err)
	assert.Equal(t, registry.StageProduction, got.Stage)

	latest, err := c.ListLatestVersions(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, dst, latest[0].Location)
	assert.Equal(t, "run-1", latest[0].RunID)
}

func TestErrorsMapToSentinels(t *testing.T) {
	c, _ := serve(t)
	ctx := context.Background()

	_, err := c.ListRuns(ctx, "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = c.SetStage(ctx, registry.StageChange{Family: "ghost", Version: 1, To: registry.StageStaging})
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = c.RegisterVersion(ctx, "A0", "", artifact.Location{Bucket: "models", Key: "A0/model"})
	require.NoError(t, err)

	_, err = c.SetStage(ctx, registry.StageChange{Family: "A0", Version: 1, From: registry.StageStaging, To: registry.StageProduction})
	assert.ErrorIs(t, err, registry.ErrStageConflict)

	_, err = c.SetStage(ctx, registry.StageChange{Family: "A0", Version: 1, To: registry.StageNone})
	assert.ErrorIs(t, err, registry.ErrInvalidTransition)
}

func TestPromoteOverRPC(t *testing.T) {
	c, store := serve(t)
	ctx := context.Background()

	blobs, err := artifact.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	for _, f := range []string{"KMeans", "A0", "B0"} {
		loc := artifact.Location{Bucket: "models", Key: artifact.ModelKey(f, "1")}
		require.NoError(t, blobs.Put(ctx, loc, []byte(f)))
		_, err := c.RegisterVersion(ctx, f, "", loc)
		require.NoError(t, err)
	}

	e, err := promote.NewEngine(c, blobs, promote.StageBuckets{
		registry.StageStaging:    "staging",
		registry.StageProduction: "production",
	}, nil)
	require.NoError(t, err)
	_, err = e.Promote(ctx, []string{"A0"}, "KMeans")
	require.NoError(t, err)

	for fam, stage := range map[string]registry.Stage{
		"KMeans": registry.StageProduction,
		"A0":     registry.StageProduction,
		"B0":     registry.StageStaging,
	} {
		mv, err := store.GetVersion(ctx, fam, 1)
		require.NoError(t, err)
		assert.Equal(t, stage, mv.Stage, fam)
	}
}

func TestInterceptorSeesFullMethod(t *testing.T) {
	store, err := registry.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	var seen string
	intercept := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return h(ctx, req)
	}

	in, err := structpb.NewStruct(map[string]any{})
	require.NoError(t, err)
	dec := func(v any) error {
		proto.Merge(v.(*structpb.Struct), in)
		return nil
	}

	var desc grpc.MethodDesc
	for _, m := range serviceDesc.Methods {
		if m.MethodName == "ListFamilies" {
			desc = m
		}
	}
	_, err = desc.Handler(NewServer(store, nil), context.Background(), dec, intercept)
	require.NoError(t, err)
	assert.Equal(t, "/"+ServiceName+"/ListFamilies", seen)
}

func TestToStatusUnknownIsInternal(t *testing.T) {
	err := toStatus(assert.AnError)
	assert.Equal(t, codes.Internal, status.Code(err))
}
