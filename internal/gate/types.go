package gate

import "github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"

// #region rule
// Rule names the stage rule that decided a version's target stage.
type Rule string

const (
	RulePartitioning Rule = "partitioning_model"
	RuleWinner       Rule = "partition_winner"
	RuleDefault      Rule = "not_selected"
)

// #endregion rule

// #region gate-config
// GateConfig holds the fixed inputs of the stage rules.
type GateConfig struct {
	PartitioningFamily string // always served, e.g. "KMeans"
}

// DefaultGateConfig returns the usual partitioning family.
func DefaultGateConfig() GateConfig {
	return GateConfig{PartitioningFamily: "KMeans"}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the target stage for one model version.
type GateDecision struct {
	Stage  registry.Stage
	Rule   Rule
	Reason string
}

// #endregion gate-decision
