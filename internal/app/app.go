// Package app opens the registry, artifact store, logger and tracer named by
// a Config and releases them in reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/config"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registryrpc"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/tracing"
)

// App holds the opened dependencies of one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry registry.Registry
	// Local is the SQLite store when the registry is opened directly, nil
	// when it is reached over gRPC.
	Local *registry.Store
	Store artifact.Store

	closers []func() error
}

// Open builds every dependency. service names the log file and the trace
// resource. On error, anything already opened is closed.
func Open(ctx context.Context, cfg *config.Config, service string) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger, closeLog, err := logging.New(cfg.LoggerConfig(service))
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	a.Logger = logger
	a.closers = append(a.closers, closeLog)

	shutdown, err := tracing.Init(cfg.TracerConfig(service))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdown(context.WithoutCancel(ctx)) })

	if err := a.openRegistry(); err != nil {
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openRegistry() error {
	rc := a.Config.Registry
	if rc.Addr != "" {
		client, err := registryrpc.Dial(rc.Addr)
		if err != nil {
			return err
		}
		a.Registry = client
		a.closers = append(a.closers, client.Close)
		a.Logger.Debug("registry client", "addr", rc.Addr)
		return nil
	}

	if dir := filepath.Dir(rc.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}
	store, err := registry.NewStore(rc.DBPath)
	if err != nil {
		return fmt.Errorf("open registry %s: %w", rc.DBPath, err)
	}
	a.Registry = store
	a.Local = store
	a.closers = append(a.closers, store.Close)
	a.Logger.Debug("registry store", "path", rc.DBPath)
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	ac := a.Config.Artifacts
	switch ac.Backend {
	case "gcs":
		s, err := artifact.NewGCSStore(ctx, ac.GCS.CredentialsFile)
		if err != nil {
			return err
		}
		a.Store = s
		a.closers = append(a.closers, s.Close)
	case "badger", "":
		s, err := artifact.OpenBadger(artifact.BadgerConfig{Path: ac.BadgerPath, Logger: a.Logger})
		if err != nil {
			return err
		}
		a.Store = s
		a.closers = append(a.closers, s.Close)
	default:
		return fmt.Errorf("unknown artifact backend %q", ac.Backend)
	}
	a.Logger.Debug("artifact store", "backend", ac.Backend)
	return nil
}

// Close releases everything in reverse open order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Pipeline builds a pipeline over the app's registry and store. labeledPath
// may be empty when Run is not used.
func (a *App) Pipeline(labeledPath string) (*pipeline.Pipeline, error) {
	cfg := a.Config
	return pipeline.New(pipeline.Config{
		Experiment:         cfg.Base.ExperimentName,
		PartitioningFamily: cfg.Base.PartitioningFamily,
		Counter:            cfg.CounterConfig(),
		Assigner:           cfg.AssignerConfig(),
		Buckets:            cfg.StageBuckets(),
		LabeledPath:        labeledPath,
	}, pipeline.Deps{Registry: a.Registry, Store: a.Store, Logger: a.Logger})
}

// Trainer builds the external trainer from the trainer section.
func (a *App) Trainer() (*pipeline.ExecTrainer, error) {
	tc := a.Config.Trainer
	if len(tc.Command) == 0 {
		return nil, errors.New("trainer.command is not configured")
	}
	return &pipeline.ExecTrainer{Command: tc.Command, Dir: tc.Dir, Timeout: tc.Timeout, Logger: a.Logger}, nil
}
