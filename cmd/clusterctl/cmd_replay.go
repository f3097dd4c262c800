package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/replay"
)

// #region replay
func newReplayCmd(opts *rootOptions) *cobra.Command {
	var (
		export string
		k      int
	)
	cmd := &cobra.Command{
		Use:   "replay [fixture.json ...]",
		Short: "Replay promotion fixtures, or export the live registry as a fixture and dry-run it",
		Long: `With fixture arguments, each fixture is replayed against a fresh in-memory
registry and compared with its expectations.

With --export, the configured registry's latest versions and the experiment's
runs are written to a fixture file and replayed, showing what promote would do
without touching the registry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (export == "") == (len(args) == 0) {
				return errors.New("pass fixture files or --export, not both")
			}
			if export != "" {
				return runExportMode(cmd, opts, export, k)
			}
			return runFixtureMode(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "write the live registry to this fixture file and dry-run it")
	cmd.Flags().IntVar(&k, "partitions", 0, "number of partitions for --export")
	return cmd
}
// #endregion replay

// #region fixture-mode
func runFixtureMode(cmd *cobra.Command, opts *rootOptions, paths []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range paths {
		f, err := replay.LoadFixture(path)
		if err != nil {
			return err
		}
		r, diffs, err := replay.RunFixture(cmd.Context(), f, logging.Discard())
		if err != nil {
			return err
		}
		if len(diffs) > 0 {
			failed++
		}
		if opts.json {
			if err := printJSON(out, fixtureReport{Fixture: path, Summary: replay.Summarize(r), Mismatches: diffs}); err != nil {
				return err
			}
			continue
		}
		printFixtureResult(out, path, f.Description, r, diffs)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fixtures mismatched", failed, len(paths))
	}
	return nil
}

type fixtureReport struct {
	Fixture    string               `json:"fixture"`
	Summary    replay.ReplaySummary `json:"summary"`
	Mismatches []string             `json:"mismatches,omitempty"`
}

func printFixtureResult(w io.Writer, path, description string, r replay.ReplayResult, diffs []string) {
	status := "PASS"
	if len(diffs) > 0 {
		status = "FAIL"
	}
	s := replay.Summarize(r)
	fmt.Fprintf(w, "[%s] %s\n", status, path)
	if description != "" {
		fmt.Fprintf(w, "       %s\n", description)
	}
	fmt.Fprintf(w, "       passes=%d transitions=%d second_pass=%d production=%d staging=%d",
		s.Passes, s.Transitions, s.SecondPassTransitions, s.Production, s.Staging)
	if r.ErrorKind != "" {
		fmt.Fprintf(w, " error=%s", r.ErrorKind)
	}
	fmt.Fprintln(w)
	for _, d := range diffs {
		fmt.Fprintf(w, "       - %s\n", d)
	}
}
// #endregion fixture-mode

// #region export-mode
func runExportMode(cmd *cobra.Command, opts *rootOptions, path string, k int) error {
	if k < 1 {
		return errors.New("--partitions is required with --export")
	}
	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := replay.DefaultReplayConfig()
	cfg.Experiment = a.Config.Base.ExperimentName
	cfg.PartitioningFamily = a.Config.Base.PartitioningFamily
	cfg.Partitions = k

	f, err := replay.ExportFixture(cmd.Context(), a.Registry, cfg)
	if err != nil {
		return err
	}
	if err := replay.WriteFixture(path, f); err != nil {
		return err
	}
	a.Logger.Info("exported fixture", "path", path, "registrations", len(f.Registrations), "runs", len(f.Runs))

	r, _, err := replay.RunFixture(cmd.Context(), f, logging.Discard())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.json {
		return printJSON(out, fixtureReport{Fixture: path, Summary: replay.Summarize(r)})
	}
	if r.Err != nil {
		fmt.Fprintf(out, "dry run stops with %s: %v\n", r.ErrorKind, r.Err)
		return nil
	}
	fmt.Fprintf(out, "dry run of %s:\n\n", path)
	printWinners(out, r.Passes[0].Winners)
	fmt.Fprintln(out)
	printReport(out, r.Passes[0].Report)
	return nil
}
// #endregion export-mode
