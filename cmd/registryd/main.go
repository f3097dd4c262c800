package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/api"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/app"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/config"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registryrpc"
)

const (
	service         = "registryd"
	shutdownTimeout = 10 * time.Second
)

// #region main
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
// #endregion main

// #region root
func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          service,
		Short:        "Serve the model registry over gRPC and the promotion API over HTTP",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Registry.Addr != "" {
				return errors.New("registryd serves the local registry; unset registry.addr")
			}
			a, err := app.Open(cmd.Context(), cfg, service)
			if err != nil {
				return err
			}
			defer a.Close()

			grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				return fmt.Errorf("listen grpc %s: %w", cfg.Server.GRPCAddr, err)
			}
			httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
			if err != nil {
				grpcLis.Close()
				return fmt.Errorf("listen http %s: %w", cfg.Server.HTTPAddr, err)
			}
			return serve(cmd.Context(), a, grpcLis, httpLis)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to params.yaml (default: ./params.yaml if present)")
	return cmd
}
// #endregion root

// #region serve
// serve runs both servers until ctx is cancelled or one of them fails, then
// stops the other.
func serve(ctx context.Context, a *app.App, grpcLis, httpLis net.Listener) error {
	p, err := a.Pipeline("")
	if err != nil {
		return err
	}

	gs := grpc.NewServer()
	registryrpc.Register(gs, registryrpc.NewServer(a.Registry, a.Logger))

	gin.SetMode(gin.ReleaseMode)
	hs := &http.Server{
		Handler:           api.NewRouter(a.Registry, p, a.Logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("grpc listening", "addr", grpcLis.Addr().String())
		if err := gs.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.Logger.Info("http listening", "addr", httpLis.Addr().String())
		if err := hs.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := hs.Shutdown(sctx)

		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-sctx.Done():
			gs.Stop()
		}
		return err
	})
	return g.Wait()
}
// #endregion serve
