package eval

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/selector"
)

// #region eval-harness
// EvalHarness verifies the registry and artifact store after a promotion.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run reads the latest versions and checks them. An error means the
// registry or store could not be read; failed checks are reported in the
// result instead.
func (h *EvalHarness) Run(ctx context.Context, reg VersionLister, store artifact.Store) (EvalResult, error) {
	latest, err := reg.ListLatestVersions(ctx)
	if err != nil {
		return EvalResult{}, fmt.Errorf("list latest versions: %w", err)
	}

	var checks []EvalCheck
	var failReasons []string
	add := func(c EvalCheck) {
		checks = append(checks, c)
		if !c.Pass && !c.Informational {
			failReasons = append(failReasons, c.Name+": "+c.Detail)
		}
	}

	// 1. Partitioning model is served
	partCheck := EvalCheck{
		Name:   "partitioning_model_production",
		Detail: fmt.Sprintf("%s not registered", h.config.PartitioningFamily),
	}
	for _, mv := range latest {
		if mv.Family == h.config.PartitioningFamily {
			partCheck.Pass = mv.Stage == registry.StageProduction
			partCheck.Detail = fmt.Sprintf("%s/%d is %s", mv.Family, mv.Version, mv.Stage)
		}
	}
	add(partCheck)

	// 2. Every staged version has its artifact where the registry says
	served := make(map[int][]string)
	staging := 0
	for _, mv := range latest {
		if mv.Stage == registry.StageNone {
			continue
		}
		if mv.Stage == registry.StageStaging {
			staging++
		}
		ok, err := store.Exists(ctx, mv.Location)
		if err != nil {
			return EvalResult{}, fmt.Errorf("check artifact %s: %w", mv.Location, err)
		}
		add(EvalCheck{
			Name:   fmt.Sprintf("artifact_%s", mv.Family),
			Detail: fmt.Sprintf("%s/%d %s at %s", mv.Family, mv.Version, mv.Stage, mv.Location),
			Pass:   ok,
		})
		if mv.Stage == registry.StageProduction {
			if _, p, ok := selector.ParseFamily(mv.Family); ok && mv.Family != h.config.PartitioningFamily {
				served[p] = append(served[p], mv.Family)
			}
		}
	}

	// 3. Every partition has a Production model
	for p := 0; p < h.config.Partitions; p++ {
		fams := served[p]
		add(EvalCheck{
			Name:   fmt.Sprintf("partition_%d_served", p),
			Detail: fmt.Sprintf("production models: %v", fams),
			Pass:   len(fams) > 0,
		})
	}

	// 4. Staging count: informational only
	add(EvalCheck{
		Name:          "staging_versions",
		Detail:        fmt.Sprintf("%d", staging),
		Pass:          true,
		Informational: true,
	})

	reason := "all checks passed"
	if len(failReasons) > 0 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed: len(failReasons) == 0,
		Checks: checks,
		Reason: reason,
	}, nil
}

// #endregion eval-harness
