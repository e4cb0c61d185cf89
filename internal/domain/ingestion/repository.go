package ingestion

import (
	"context"

	"github.com/google/uuid"
)

// Repository tracks ingestion runs and their data-quality issues
type Repository interface {
	// CreateRun opens a run in running status and returns its id
	CreateRun(ctx context.Context, source, targetTable string) (uuid.UUID, error)

	// CompleteRun marks a run successful with its inserted row count
	CompleteRun(ctx context.Context, runID uuid.UUID, rowsInserted int) error

	// FailRun marks a run failed with the error message and persists a
	// structured error-context record alongside it
	FailRun(ctx context.Context, runID uuid.UUID, message string, context map[string]interface{}) error

	// LogIssue records a data-quality issue observed during a run
	LogIssue(ctx context.Context, issue *Issue) error
}
