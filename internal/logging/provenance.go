package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PromotionLogSchema creates the table LogDecision writes to.
const PromotionLogSchema = `
CREATE TABLE IF NOT EXISTS promotion_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	family          TEXT NOT NULL,
	version         INTEGER NOT NULL,
	from_stage      TEXT NOT NULL,
	to_stage        TEXT NOT NULL,
	artifact_bucket TEXT,
	artifact_key    TEXT,
	reason          TEXT,
	created_at      TEXT NOT NULL
);
`

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// #region log-decision
// LogDecision writes a stage transition to the promotion_log table.
func LogDecision(ctx context.Context, db Execer, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO promotion_log (family, version, from_stage, to_stage, artifact_bucket, artifact_key, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Family,
		entry.Version,
		entry.FromStage,
		entry.ToStage,
		nullIfEmpty(entry.ArtifactBucket),
		nullIfEmpty(entry.ArtifactKey),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}
// #endregion log-decision

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
