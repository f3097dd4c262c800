package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/dataset"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/eval"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/promote"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/selector"
)

func partitionsFlag(cmd *cobra.Command, k *int) {
	cmd.Flags().IntVar(k, "partitions", 0, "number of partitions k")
	_ = cmd.MarkFlagRequired("partitions")
}

// #region select
func newSelectCmd(opts *rootOptions) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Show the best registered model per partition without promoting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			runs, err := a.Registry.ListRuns(ctx, a.Config.Base.ExperimentName)
			if err != nil {
				return err
			}
			winners, err := selector.New(a.Registry, a.Config.Base.PartitioningFamily, a.Logger).SelectBestModels(ctx, runs, k)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, winners)
			}
			printWinners(out, winners)
			return nil
		},
	}
	partitionsFlag(cmd, &k)
	return cmd
}

func printWinners(w io.Writer, winners selector.Winners) {
	fmt.Fprintf(w, "%-9s  %-20s  %-16s  %8s\n", "Partition", "Family", "Base", "Score")
	fmt.Fprintf(w, "%-9s+-%-20s+-%-16s+-%8s\n", "---------", "--------------------", "----------------", "--------")
	for _, x := range winners {
		fmt.Fprintf(w, "%-9d  %-20s  %-16s  %8.4f\n", x.Partition, x.Family, x.Base, x.Score)
	}
}
// #endregion select

// #region promote
func newPromoteCmd(opts *rootOptions) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Select the best model per partition and apply stage transitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Pipeline("")
			if err != nil {
				return err
			}
			res, err := p.Promote(cmd.Context(), k)
			if perr := printPromote(cmd.OutOrStdout(), opts.json, res, err); perr != nil {
				return perr
			}
			return err
		},
	}
	partitionsFlag(cmd, &k)
	return cmd
}

// printPromote prints whatever part of res was produced before err.
func printPromote(w io.Writer, asJSON bool, res pipeline.PromoteResult, err error) error {
	if err != nil && res.Winners == nil {
		return nil
	}
	if asJSON {
		return printJSON(w, res)
	}
	printWinners(w, res.Winners)
	fmt.Fprintln(w)
	printReport(w, res.Report)
	if len(res.Eval.Checks) > 0 || errors.Is(err, pipeline.ErrVerificationFailed) {
		fmt.Fprintln(w)
		printEval(w, res.Eval)
	}
	return nil
}

func printReport(w io.Writer, r promote.Report) {
	fmt.Fprintf(w, "%-20s  %7s  %-10s  %-10s  %-18s  %-7s  %s\n", "Family", "Version", "From", "To", "Rule", "Applied", "Location")
	fmt.Fprintf(w, "%-20s+-%7s+-%-10s+-%-10s+-%-18s+-%-7s+-%s\n",
		"--------------------", "-------", "----------", "----------", "------------------", "-------", "--------------------")
	for _, o := range r.Outcomes {
		fmt.Fprintf(w, "%-20s  %7d  %-10s  %-10s  %-18s  %-7v  %s\n",
			o.Family, o.Version, o.From, o.To, o.Rule, o.Applied, locString(o.Location))
	}
	fmt.Fprintf(w, "\n%d of %d versions changed\n", r.Applied(), len(r.Outcomes))
}
// #endregion promote

// #region run
func newRunCmd(opts *rootOptions) *cobra.Command {
	var input, labeled string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Cluster, run the configured trainer and promote",
		RunE: func(cmd *cobra.Command, _ []string) error {
			obs, err := dataset.ReadCSVFile(input)
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			trainer, err := a.Trainer()
			if err != nil {
				return err
			}
			p, err := a.Pipeline(labeled)
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context(), obs, trainer)
			out := cmd.OutOrStdout()
			if opts.json && res.Cluster.Partitions > 0 {
				if perr := printJSON(out, res); perr != nil {
					return perr
				}
				return err
			}
			if res.Cluster.Partitions > 0 {
				fmt.Fprintf(out, "partitions: %d (model %s v%d)\n\n", res.Cluster.Partitions, res.Cluster.Version.Family, res.Cluster.Version.Version)
			}
			if perr := printPromote(out, false, res.Promote, err); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "CSV of preprocessed observations")
	cmd.Flags().StringVar(&labeled, "labeled", "labeled.csv", "where to write the labeled observations for the trainer")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
// #endregion run

// #region verify
func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that served models and their artifacts are where the registry says",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			h := eval.NewEvalHarness(eval.EvalConfig{
				PartitioningFamily: a.Config.Base.PartitioningFamily,
				Partitions:         k,
			})
			res, err := h.Run(cmd.Context(), a.Registry, a.Store)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				printEval(out, res)
			}
			if !res.Passed {
				return fmt.Errorf("%w: %s", pipeline.ErrVerificationFailed, res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&k, "partitions", 0, "also require a Production model for each of k partitions")
	return cmd
}

func printEval(w io.Writer, r eval.EvalResult) {
	for _, c := range r.Checks {
		mark := "PASS"
		switch {
		case c.Informational:
			mark = "INFO"
		case !c.Pass:
			mark = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %-32s %s\n", mark, c.Name, c.Detail)
	}
	fmt.Fprintf(w, "\n%s\n", r.Reason)
}
// #endregion verify
