package registryrpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// RegistryServer is implemented by Server. It exists so the service
// descriptor can name a handler type.
type RegistryServer interface {
	Registry() registry.Registry
}

// Server exposes a registry.Registry over gRPC.
type Server struct {
	reg    registry.Registry
	logger *slog.Logger
}

// NewServer wraps reg.
func NewServer(reg registry.Registry, logger *slog.Logger) *Server {
	return &Server{reg: reg, logger: logging.OrDiscard(logger)}
}

// Registry returns the wrapped registry.
func (s *Server) Registry() registry.Registry { return s.reg }

// Register attaches the registry service to a gRPC server.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&serviceDesc, s)
}

// #region service-desc
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListRuns", func(ctx context.Context, reg registry.Registry, req listRunsRequest) (any, error) {
			runs, err := reg.ListRuns(ctx, req.Experiment)
			return listRunsResponse{Runs: runs}, err
		}),
		unary("ListFamilies", func(ctx context.Context, reg registry.Registry, _ empty) (any, error) {
			fams, err := reg.ListFamilies(ctx)
			return listFamiliesResponse{Families: fams}, err
		}),
		unary("ListLatestVersions", func(ctx context.Context, reg registry.Registry, _ empty) (any, error) {
			versions, err := reg.ListLatestVersions(ctx)
			return listVersionsResponse{Versions: versions}, err
		}),
		unary("SetStage", func(ctx context.Context, reg registry.Registry, req registry.StageChange) (any, error) {
			return reg.SetStage(ctx, req)
		}),
		unary("LogRun", func(ctx context.Context, reg registry.Registry, req logRunRequest) (any, error) {
			return reg.LogRun(ctx, req.Experiment, req.Metrics)
		}),
		unary("RegisterVersion", func(ctx context.Context, reg registry.Registry, req registerVersionRequest) (any, error) {
			return reg.RegisterVersion(ctx, req.Family, req.RunID, req.Location)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clusterpromote/registry/v1",
}

// unary adapts a typed registry call to a Struct-in, Struct-out gRPC method.
func unary[Req any](method string, call func(context.Context, registry.Registry, Req) (any, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			handler := func(ctx context.Context, req any) (any, error) {
				var r Req
				if err := fromStruct(req.(*structpb.Struct), &r); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				out, err := call(ctx, s.reg, r)
				if err != nil {
					s.logger.Warn("registry rpc failed", "method", method, "error", err)
					return nil, toStatus(err)
				}
				resp, err := toStruct(out)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, handler)
		},
	}
}
// #endregion service-desc
