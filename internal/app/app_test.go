package app

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/config"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registryrpc"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Registry.DBPath = filepath.Join(dir, "db", "registry.db")
	cfg.Artifacts.BadgerPath = filepath.Join(dir, "artifacts")
	cfg.Logging.Level = "error"
	return cfg
}

func TestOpenLocal(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, localConfig(t), "clusterctl")
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Local)
	_, err = a.Registry.RegisterVersion(ctx, "A0", "", artifact.Location{Bucket: "models", Key: "A0/model"})
	require.NoError(t, err)

	loc := artifact.Location{Bucket: "models", Key: "A0/model"}
	require.NoError(t, a.Store.Put(ctx, loc, []byte("m")))
	ok, err := a.Store.Exists(ctx, loc)
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := a.Pipeline("")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestOpenRemoteRegistry(t *testing.T) {
	store, err := registry.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer()
	registryrpc.Register(gs, registryrpc.NewServer(store, nil))
	go gs.Serve(lis)
	defer gs.Stop()

	cfg := localConfig(t)
	cfg.Registry = config.RegistryConfig{Addr: lis.Addr().String()}

	ctx := context.Background()
	a, err := Open(ctx, cfg, "clusterctl")
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Local)
	fams, err := a.Registry.ListFamilies(ctx)
	require.NoError(t, err)
	assert.Empty(t, fams)
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := localConfig(t)
	cfg.Artifacts.Backend = "s3"
	_, err := Open(context.Background(), cfg, "clusterctl")
	assert.Error(t, err)
}

func TestTrainerRequiresCommand(t *testing.T) {
	a := &App{Config: config.Default()}
	_, err := a.Trainer()
	assert.Error(t, err)

	a.Config.Trainer.Command = []string{"python", "train.py"}
	tr, err := a.Trainer()
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "train.py"}, tr.Command)
}
