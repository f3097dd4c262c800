package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// #region inspect
func newInspectCmd(opts *rootOptions) *cobra.Command {
	var (
		last    int
		family  string
		version int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List latest versions, their stages and the recent promotion log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if family != "" {
				if a.Local == nil {
					return errors.New("version detail needs a local registry (registry.db_path)")
				}
				return runDetailMode(cmd, out, a.Local, family, version, opts.json)
			}
			return runListMode(cmd, out, a.Registry, a.Local, last, opts.json)
		},
	}
	cmd.Flags().IntVar(&last, "last", 20, "show the N most recent promotion log entries")
	cmd.Flags().StringVar(&family, "family", "", "show one family's version detail")
	cmd.Flags().IntVar(&version, "version", 1, "version to show with --family")
	return cmd
}
// #endregion inspect

// #region list-mode

type listOutput struct {
	Versions  []registry.ModelVersion `json:"versions"`
	Decisions []logging.DecisionEntry `json:"decisions,omitempty"`
}

// runListMode prints latest versions from reg and, when a local store is
// available, the promotion log.
func runListMode(cmd *cobra.Command, w io.Writer, reg registry.Reader, local *registry.Store, last int, jsonOut bool) error {
	ctx := cmd.Context()
	versions, err := reg.ListLatestVersions(ctx)
	if err != nil {
		return err
	}
	var out listOutput
	out.Versions = versions
	if local != nil && last > 0 {
		out.Decisions, err = local.ListDecisions(ctx, last)
		if err != nil {
			return err
		}
	}

	if jsonOut {
		return printJSON(w, out)
	}
	if len(versions) == 0 {
		fmt.Fprintln(w, "no versions registered")
		return nil
	}
	printVersionTable(w, versions)
	if len(out.Decisions) > 0 {
		fmt.Fprintln(w)
		printDecisionTable(w, out.Decisions)
	}
	return nil
}

func printVersionTable(w io.Writer, versions []registry.ModelVersion) {
	fmt.Fprintf(w, "%-20s  %7s  %-10s  %-20s  %s\n", "Family", "Version", "Stage", "Registered", "Location")
	fmt.Fprintf(w, "%-20s+-%7s+-%-10s+-%-20s+-%s\n",
		"--------------------", "-------", "----------", "--------------------", "--------------------")
	for _, mv := range versions {
		fmt.Fprintf(w, "%-20s  %7d  %-10s  %-20s  %s\n",
			mv.Family, mv.Version, mv.Stage, mv.CreatedAt.Format(time.DateTime), locString(mv.Location))
	}

	counts := map[registry.Stage]int{}
	for _, mv := range versions {
		counts[mv.Stage]++
	}
	fmt.Fprintf(w, "\n%d families: %d Production, %d Staging, %d None\n",
		len(versions), counts[registry.StageProduction], counts[registry.StageStaging], counts[registry.StageNone])
}

func printDecisionTable(w io.Writer, entries []logging.DecisionEntry) {
	fmt.Fprintf(w, "%-20s  %-20s  %7s  %-10s  %-10s  %s\n", "Time", "Family", "Version", "From", "To", "Reason")
	fmt.Fprintf(w, "%-20s+-%-20s+-%7s+-%-10s+-%-10s+-%s\n",
		"--------------------", "--------------------", "-------", "----------", "----------", "--------------------")
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s  %-20s  %7d  %-10s  %-10s  %s\n",
			e.CreatedAt.Format(time.DateTime), e.Family, e.Version, e.FromStage, e.ToStage, orDash(e.Reason))
	}
}

// #endregion list-mode

// #region detail-mode

func runDetailMode(cmd *cobra.Command, w io.Writer, store *registry.Store, family string, version int, jsonOut bool) error {
	mv, err := store.GetVersion(cmd.Context(), family, version)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, mv)
	}
	fmt.Fprintf(w, "Family:   %s\n", mv.Family)
	fmt.Fprintf(w, "Version:  %d\n", mv.Version)
	fmt.Fprintf(w, "Stage:    %s\n", mv.Stage)
	fmt.Fprintf(w, "Run:      %s\n", orDash(mv.RunID))
	fmt.Fprintf(w, "Location: %s\n", locString(mv.Location))
	fmt.Fprintf(w, "Created:  %s\n", mv.CreatedAt.Format(time.RFC3339))
	return nil
}

// #endregion detail-mode
