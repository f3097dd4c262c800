package promote

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/gate"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// #region errors
var ErrTransitionFailure = errors.New("promote: transition failure")

// TransitionError reports which version failed, at which step. It matches
// ErrTransitionFailure and the underlying cause with errors.Is.
type TransitionError struct {
	Family  string
	Version int
	From    registry.Stage
	To      registry.Stage
	Op      string // "locate", "relocate" or "set_stage"
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("promote: %s/%d %s -> %s: %s: %v", e.Family, e.Version, e.From, e.To, e.Op, e.Err)
}

func (e *TransitionError) Unwrap() []error { return []error{ErrTransitionFailure, e.Err} }
// #endregion errors

// #region registry
// VersionStore is the slice of the tracking registry promotion needs.
type VersionStore interface {
	ListLatestVersions(ctx context.Context) ([]registry.ModelVersion, error)
	registry.StageSetter
}
// #endregion registry

// #region buckets
// StageBuckets maps a stage to the bucket its artifacts live in.
type StageBuckets map[registry.Stage]string

// Location is where a version's artifact lives while in stage.
func (b StageBuckets) Location(stage registry.Stage, family string, version int) (artifact.Location, error) {
	bucket, ok := b[stage]
	if !ok || bucket == "" {
		return artifact.Location{}, fmt.Errorf("no bucket configured for stage %s", stage)
	}
	return artifact.Location{Bucket: bucket, Key: artifact.StageKey(string(stage), family, version)}, nil
}
// #endregion buckets

// #region report
// Outcome records what happened to one family's latest version.
type Outcome struct {
	Family   string            `json:"family"`
	Version  int               `json:"version"`
	From     registry.Stage    `json:"from"`
	To       registry.Stage    `json:"to"`
	Rule     gate.Rule         `json:"rule"`
	Location artifact.Location `json:"location"`
	Applied  bool              `json:"applied"`
}

// Report lists outcomes in the order versions were processed.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Applied counts versions whose stage or location changed.
func (r Report) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Applied {
			n++
		}
	}
	return n
}
// #endregion report
