package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/app"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/config"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registryrpc"
)

func TestServeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Registry.DBPath = filepath.Join(dir, "registry.db")
	cfg.Artifacts.BadgerPath = filepath.Join(dir, "artifacts")
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := app.Open(ctx, cfg, service)
	require.NoError(t, err)
	defer a.Close()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, grpcLis, httpLis) }()

	client, err := registryrpc.Dial(grpcLis.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	run, err := client.LogRun(ctx, cfg.Base.ExperimentName, map[string]float64{"A0-f1_score": 0.7})
	require.NoError(t, err)
	_, err = client.RegisterVersion(ctx, "A0", run.RunID, artifact.Location{Bucket: "models", Key: "A0/model.joblib"})
	require.NoError(t, err)

	families, err := a.Local.ListFamilies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A0"}, families)

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/v1/families")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"families":["A0"]}`, string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestRejectsRemoteRegistry(t *testing.T) {
	params := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(params, []byte("registry:\n  addr: 127.0.0.1:1\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", params})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	assert.ErrorContains(t, cmd.ExecuteContext(context.Background()), "registry.addr")
}
