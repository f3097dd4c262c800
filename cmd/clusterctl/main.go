package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/app"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/config"
)

const service = "clusterctl"

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
type rootOptions struct {
	configPath string
	json       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           service,
		Short:         "Partition observations, select the best model per partition and promote it",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to params.yaml (default: ./params.yaml if present)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output as JSON instead of a table")

	root.AddCommand(
		newCountCmd(opts),
		newClusterCmd(opts),
		newSelectCmd(opts),
		newPromoteCmd(opts),
		newRunCmd(opts),
		newVerifyCmd(opts),
		newInspectCmd(opts),
		newReplayCmd(opts),
		newConfigCmd(),
	)
	return root
}

// open loads the configuration and opens the registry and artifact store.
func (o *rootOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	return app.Open(cmd.Context(), cfg, service)
}
// #endregion root

// #region output
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func locString(l artifact.Location) string {
	if l.IsZero() {
		return "-"
	}
	return l.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
// #endregion output
