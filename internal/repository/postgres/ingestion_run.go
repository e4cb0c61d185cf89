package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"astra/internal/domain/ingestion"
)

// Compile-time check
var _ ingestion.Repository = (*IngestionRepository)(nil)

// IngestionRepository implements ingestion.Repository using sqlx
type IngestionRepository struct {
	db DBTX
}

// NewIngestionRepository creates a new ingestion run repository
func NewIngestionRepository(db DBTX) *IngestionRepository {
	return &IngestionRepository{db: db}
}

// CreateRun opens a run in running status and returns its id
func (r *IngestionRepository) CreateRun(ctx context.Context, source, targetTable string) (uuid.UUID, error) {
	runID := uuid.New()

	query := `
		INSERT INTO ingestion_runs (id, source, target_table, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		runID, source, targetTable, ingestion.StatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, err
	}

	return runID, nil
}

// CompleteRun marks a run successful with its inserted row count
func (r *IngestionRepository) CompleteRun(ctx context.Context, runID uuid.UUID, rowsInserted int) error {
	query := `
		UPDATE ingestion_runs
		SET status = $2, finished_at = $3, rows_inserted = $4
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		runID, ingestion.StatusSuccess, time.Now().UTC(), rowsInserted,
	)

	return err
}

// FailRun marks a run failed and persists a structured error-context
// record alongside it. The context record is best-effort; the terminal
// status update is what matters.
func (r *IngestionRepository) FailRun(ctx context.Context, runID uuid.UUID, message string, runContext map[string]interface{}) error {
	query := `
		UPDATE ingestion_runs
		SET status = $2, finished_at = $3, error_message = $4
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		runID, ingestion.StatusFailed, time.Now().UTC(), message,
	)
	if err != nil {
		return err
	}

	details, err := json.Marshal(runContext)
	if err != nil {
		details = []byte("{}")
	}

	errQuery := `
		INSERT INTO ingestion_errors (id, ingestion_run_id, error_message, context, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.ExecContext(ctx, errQuery,
		uuid.New(), runID, message, details, time.Now().UTC(),
	)

	return err
}

// LogIssue records a data-quality issue observed during a run
func (r *IngestionRepository) LogIssue(ctx context.Context, issue *ingestion.Issue) error {
	query := `
		INSERT INTO reconciliation_log (
			id, security_id, issue_type, severity, details,
			issue_timestamp, ingestion_run_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`

	_, err := r.db.ExecContext(ctx, query,
		issue.ID, issue.SecurityID, issue.IssueType, issue.Severity,
		issue.Details, issue.IssueTimestamp, issue.IngestionRunID,
	)

	return err
}
