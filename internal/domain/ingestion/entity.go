package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses. A run transitions from running to exactly one terminal
// status and is never left running past the call that created it.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run is an audit record bracketing one external-data-touching operation
type Run struct {
	ID           uuid.UUID  `db:"id"`
	Source       string     `db:"source"`
	TargetTable  string     `db:"target_table"`
	Status       string     `db:"status"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	RowsInserted *int       `db:"rows_inserted"`
	ErrorMessage *string    `db:"error_message"`
}

// Issue is a structured data-quality note attached to a run
// (missing surface buckets, unmatched strikes, invalid mids)
type Issue struct {
	ID             uuid.UUID `db:"id"`
	SecurityID     int64     `db:"security_id"`
	IssueType      string    `db:"issue_type"`
	Severity       string    `db:"severity"`
	Details        []byte    `db:"details"`
	IssueTimestamp time.Time `db:"issue_timestamp"`
	IngestionRunID uuid.UUID `db:"ingestion_run_id"`
}
