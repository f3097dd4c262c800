package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/dataset"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/partition"
)

// #region count
func newCountCmd(opts *rootOptions) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Choose the number of partitions from the elbow of the inertia curve",
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

			counter, err := partition.NewCounter(a.Config.CounterConfig(), a.Store, a.Logger)
			if err != nil {
				return err
			}
			k, err := counter.SelectPartitionCount(cmd.Context(), obs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, map[string]int{"partitions": k})
			}
			fmt.Fprintf(out, "partitions: %d\n", k)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "CSV of preprocessed observations")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
// #endregion count

// #region cluster
func newClusterCmd(opts *rootOptions) *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Count partitions, label every observation and register the partitioning model",
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

			p, err := a.Pipeline("")
			if err != nil {
				return err
			}
			res, err := p.Cluster(cmd.Context(), obs)
			if err != nil {
				return err
			}
			if err := res.Assignment.Observations.WriteCSVFile(output); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "partitions: %d\n", res.Partitions)
			fmt.Fprintf(out, "sizes:      %v\n", res.Assignment.Observations.PartitionSizes(res.Partitions))
			fmt.Fprintf(out, "model:      %s v%d at %s\n", res.Version.Family, res.Version.Version, res.Version.Location)
			fmt.Fprintf(out, "labeled:    %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "CSV of preprocessed observations")
	cmd.Flags().StringVar(&output, "output", "labeled.csv", "where to write the labeled observations")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
// #endregion cluster
