package registryrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// #region client-struct
// Client talks to a remote registry and satisfies registry.Registry.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

var _ registry.Registry = (*Client)(nil)
// #endregion client-struct

// #region constructor
// Dial connects to a registry server.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn builds a client on an existing connection. Close is
// then the caller's responsibility.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}
// #endregion constructor

// #region close
// Close shuts down a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion close

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return fromStatus(method, err)
	}
	return fromStruct(out, resp)
}

// #region reader
// ListRuns returns every run of the experiment.
func (c *Client) ListRuns(ctx context.Context, experiment string) ([]registry.RunRecord, error) {
	var resp listRunsResponse
	if err := c.invoke(ctx, "ListRuns", listRunsRequest{Experiment: experiment}, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ListFamilies returns every registered family name.
func (c *Client) ListFamilies(ctx context.Context) ([]string, error) {
	var resp listFamiliesResponse
	if err := c.invoke(ctx, "ListFamilies", empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Families, nil
}

// ListLatestVersions returns the newest version of every family.
func (c *Client) ListLatestVersions(ctx context.Context) ([]registry.ModelVersion, error) {
	var resp listVersionsResponse
	if err := c.invoke(ctx, "ListLatestVersions", empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}
// #endregion reader

// #region writer
// SetStage transitions one version on the server.
func (c *Client) SetStage(ctx context.Context, change registry.StageChange) (registry.ModelVersion, error) {
	var mv registry.ModelVersion
	err := c.invoke(ctx, "SetStage", change, &mv)
	return mv, err
}

// LogRun records a run on the server.
func (c *Client) LogRun(ctx context.Context, experiment string, metrics map[string]float64) (registry.RunRecord, error) {
	var rec registry.RunRecord
	err := c.invoke(ctx, "LogRun", logRunRequest{Experiment: experiment, Metrics: metrics}, &rec)
	return rec, err
}

// RegisterVersion registers a new version on the server.
func (c *Client) RegisterVersion(ctx context.Context, family, runID string, loc artifact.Location) (registry.ModelVersion, error) {
	var mv registry.ModelVersion
	err := c.invoke(ctx, "RegisterVersion", registerVersionRequest{Family: family, RunID: runID, Location: loc}, &mv)
	return mv, err
}
// #endregion writer
