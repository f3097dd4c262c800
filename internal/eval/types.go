package eval

import (
	"context"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// #region eval-config
// EvalConfig describes what a healthy registry looks like after promotion.
type EvalConfig struct {
	PartitioningFamily string // must be in Production
	Partitions         int    // each partition in [0, Partitions) needs a Production model
}

// DefaultEvalConfig checks only the partitioning model.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{PartitioningFamily: "KMeans"}
}

// #endregion eval-config

// #region eval-check
// EvalCheck captures a single verification result.
type EvalCheck struct {
	Name   string `json:"name"`
	Detail string `json:"detail"`
	Pass   bool   `json:"pass"`
	// Informational checks never fail the result.
	Informational bool `json:"informational,omitempty"`
}

// #endregion eval-check

// #region eval-result
// EvalResult is the output of post-promotion verification.
type EvalResult struct {
	Passed bool        `json:"passed"`
	Checks []EvalCheck `json:"checks"`
	Reason string      `json:"reason"`
}

// #endregion eval-result

// VersionLister is the registry read the harness needs.
type VersionLister interface {
	ListLatestVersions(ctx context.Context) ([]registry.ModelVersion, error)
}
