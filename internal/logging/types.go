package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the promotion_log table.
type DecisionEntry struct {
	Family         string
	Version        int
	FromStage      string
	ToStage        string
	ArtifactBucket string
	ArtifactKey    string
	Reason         string
	CreatedAt      time.Time
}
// #endregion decision-entry

// #region config
// Config controls where structured logs go.
type Config struct {
	Level   string // debug | info | warn | error
	Format  string // text | json
	Dir     string // optional directory for JSON log files
	Service string // file name prefix, e.g. "clusterctl"
}
// #endregion config
