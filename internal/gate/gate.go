package gate

import (
	"fmt"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// #region gate
// Gate decides which stage each registered family's latest version belongs in.
type Gate struct {
	config  GateConfig
	winners map[string]int
}

// NewGate creates a gate for one promotion cycle. winners are the registered
// family names chosen per partition; duplicates are allowed.
func NewGate(config GateConfig, winners []string) *Gate {
	w := make(map[string]int, len(winners))
	for i, f := range winners {
		if _, ok := w[f]; !ok {
			w[f] = i
		}
	}
	return &Gate{config: config, winners: w}
}

// Evaluate applies exactly one rule, first match wins:
//  1. the partitioning family goes to Production;
//  2. a partition winner goes to Production;
//  3. everything else goes to Staging.
func (g *Gate) Evaluate(family string) GateDecision {
	if family == g.config.PartitioningFamily {
		return GateDecision{
			Stage:  registry.StageProduction,
			Rule:   RulePartitioning,
			Reason: "partitioning model is always served",
		}
	}
	if p, ok := g.winners[family]; ok {
		return GateDecision{
			Stage:  registry.StageProduction,
			Rule:   RuleWinner,
			Reason: fmt.Sprintf("best model for partition %d", p),
		}
	}
	return GateDecision{
		Stage:  registry.StageStaging,
		Rule:   RuleDefault,
		Reason: "not selected for any partition",
	}
}

// #endregion gate
