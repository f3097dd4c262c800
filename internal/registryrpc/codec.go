// Package registryrpc serves the tracking registry over gRPC and provides a
// client that satisfies registry.Registry. Messages are google.protobuf.Struct
// values carrying the JSON form of the registry types.
package registryrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clusterpromote.registry.v1.Registry"

// #region messages
type listRunsRequest struct {
	Experiment string `json:"experiment"`
}

type listRunsResponse struct {
	Runs []registry.RunRecord `json:"runs"`
}

type listFamiliesResponse struct {
	Families []string `json:"families"`
}

type listVersionsResponse struct {
	Versions []registry.ModelVersion `json:"versions"`
}

type logRunRequest struct {
	Experiment string             `json:"experiment"`
	Metrics    map[string]float64 `json:"metrics"`
}

type registerVersionRequest struct {
	Family   string            `json:"family"`
	RunID    string            `json:"run_id"`
	Location artifact.Location `json:"location"`
}

type empty struct{}
// #endregion messages

// #region struct-codec
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, out any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
// #endregion struct-codec

// #region status
var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{registry.ErrNotFound, codes.NotFound},
	{registry.ErrStageConflict, codes.Aborted},
	{registry.ErrInvalidTransition, codes.FailedPrecondition},
}

// toStatus maps registry sentinels onto gRPC codes.
func toStatus(err error) error {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return status.Error(sc.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus maps gRPC codes back onto registry sentinels.
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s rpc: %w", method, err)
	}
	for _, sc := range statusCodes {
		if st.Code() == sc.code {
			return fmt.Errorf("%s rpc: %s: %w", method, st.Message(), sc.err)
		}
	}
	return fmt.Errorf("%s rpc: %w", method, err)
}
// #endregion status
