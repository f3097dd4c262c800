package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description   string                `json:"description"`
	Config        FixtureConfig         `json:"config"`
	Registrations []FixtureRegistration `json:"registrations"`
	Runs          []FixtureRun          `json:"runs"`
	Expected      FixtureExpected       `json:"expected"`
}

// FixtureConfig mirrors ReplayConfig with JSON tags.
type FixtureConfig struct {
	Experiment         string `json:"experiment"`
	PartitioningFamily string `json:"partitioning_family"`
	Partitions         int    `json:"partitions"`
}

// FixtureRegistration is one registered version, in registration order.
type FixtureRegistration struct {
	Family string `json:"family"`
	// MissingArtifact registers the version without storing its artifact.
	MissingArtifact bool `json:"missing_artifact,omitempty"`
}

// FixtureRun is one run's final metrics, keyed without the "metrics." prefix.
type FixtureRun struct {
	Metrics map[string]float64 `json:"metrics"`
}

// FixtureExpected captures the expected outcome. Empty fields are not
// checked.
type FixtureExpected struct {
	Bases    []string                  `json:"bases,omitempty"`
	Families []string                  `json:"families,omitempty"`
	Stages   map[string]registry.Stage `json:"stages,omitempty"`
	// Error is an ErrorKind value, e.g. "missing_partition_candidate".
	Error string `json:"error,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig, keeping
// defaults for unset fields.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if fc.Experiment != "" {
		cfg.Experiment = fc.Experiment
	}
	if fc.PartitioningFamily != "" {
		cfg.PartitioningFamily = fc.PartitioningFamily
	}
	cfg.Partitions = fc.Partitions
	return cfg
}

// ToRegistration converts a FixtureRegistration to a domain Registration.
func (fr *FixtureRegistration) ToRegistration() Registration {
	return Registration{Family: fr.Family, MissingArtifact: fr.MissingArtifact}
}

// Inputs converts the fixture's registrations and runs.
func (f *Fixture) Inputs() ([]Registration, []map[string]float64) {
	regs := make([]Registration, len(f.Registrations))
	for i := range f.Registrations {
		regs[i] = f.Registrations[i].ToRegistration()
	}
	runs := make([]map[string]float64, len(f.Runs))
	for i, r := range f.Runs {
		runs[i] = r.Metrics
	}
	return regs, runs
}

// #endregion fixture-loader

// #region fixture-export

// ExportFixture captures the latest versions and the experiment's runs from
// a live registry so a promotion can be replayed offline. Expected is left
// empty.
func ExportFixture(ctx context.Context, reg registry.Reader, cfg ReplayConfig) (*Fixture, error) {
	latest, err := reg.ListLatestVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list latest versions: %w", err)
	}
	runs, err := reg.ListRuns(ctx, cfg.Experiment)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	f := &Fixture{
		Description: fmt.Sprintf("exported from experiment %s", cfg.Experiment),
		Config: FixtureConfig{
			Experiment:         cfg.Experiment,
			PartitioningFamily: cfg.PartitioningFamily,
			Partitions:         cfg.Partitions,
		},
	}
	// latest is newest first; fixtures list registrations oldest first
	for _, mv := range slices.Backward(latest) {
		f.Registrations = append(f.Registrations, FixtureRegistration{Family: mv.Family})
	}
	for _, r := range runs {
		f.Runs = append(f.Runs, FixtureRun{Metrics: r.Metrics})
	}
	return f, nil
}

// #endregion fixture-export
