package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
)

// #region stage
// Stage is the lifecycle state of a registered model version.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
)

// ParseStage accepts the canonical stage names.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageNone, StageStaging, StageProduction:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// CanTransitionTo reports whether a version in stage s may move to target.
// Nothing moves back to None; everything else, including a repeat of the
// current stage, is allowed.
func (s Stage) CanTransitionTo(target Stage) bool {
	switch target {
	case StageStaging, StageProduction:
		return s == StageNone || s == StageStaging || s == StageProduction
	}
	return false
}
// #endregion stage

// #region errors
var (
	ErrNotFound          = errors.New("registry: not found")
	ErrStageConflict     = errors.New("registry: stage changed concurrently")
	ErrInvalidTransition = errors.New("registry: invalid stage transition")
)
// #endregion errors

// #region run-record
// RunRecord is one logged training attempt.
type RunRecord struct {
	RunID      string             `json:"run_id"`
	Experiment string             `json:"experiment"`
	Metrics    map[string]float64 `json:"metrics"`
	CreatedAt  time.Time          `json:"created_at"`
}

// MetricColumnPrefix is the prefix metric names carry in the tabular run view.
const MetricColumnPrefix = "metrics."

// Columns returns the run's metrics keyed the way the tabular run listing
// names them, e.g. "metrics.XGBoost0-best_score".
func (r RunRecord) Columns() map[string]float64 {
	out := make(map[string]float64, len(r.Metrics))
	for k, v := range r.Metrics {
		out[MetricColumnPrefix+k] = v
	}
	return out
}
// #endregion run-record

// #region model-version
// ModelVersion is one version of a registered model family.
type ModelVersion struct {
	Family    string            `json:"family"`
	Version   int               `json:"version"`
	Stage     Stage             `json:"stage"`
	RunID     string            `json:"run_id,omitempty"`
	Location  artifact.Location `json:"location"`
	CreatedAt time.Time         `json:"created_at"`
}

// StageChange requests a stage transition for one version. From is the
// stage the caller observed; an empty From skips the check. A zero Location
// keeps the current artifact location.
type StageChange struct {
	Family   string            `json:"family"`
	Version  int               `json:"version"`
	From     Stage             `json:"from,omitempty"`
	To       Stage             `json:"to"`
	Location artifact.Location `json:"location"`
	Reason   string            `json:"reason,omitempty"`
}
// #endregion model-version

// #region interfaces
// Reader is the read side of the tracking registry.
type Reader interface {
	ListRuns(ctx context.Context, experiment string) ([]RunRecord, error)
	ListFamilies(ctx context.Context) ([]string, error)
	// ListLatestVersions returns the newest version of every family,
	// most recently registered family first.
	ListLatestVersions(ctx context.Context) ([]ModelVersion, error)
}

// StageSetter transitions a version's stage.
type StageSetter interface {
	SetStage(ctx context.Context, change StageChange) (ModelVersion, error)
}

// Writer records runs and model versions. Used by trainers and fixtures.
type Writer interface {
	LogRun(ctx context.Context, experiment string, metrics map[string]float64) (RunRecord, error)
	RegisterVersion(ctx context.Context, family, runID string, loc artifact.Location) (ModelVersion, error)
}

// Registry is the full tracking registry surface.
type Registry interface {
	Reader
	StageSetter
	Writer
}
// #endregion interfaces
