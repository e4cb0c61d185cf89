package postgres

import (
	"context"

	"astra/internal/domain/options"
)

// Compile-time check
var _ options.CheckRepository = (*CheckRepository)(nil)

// CheckRepository implements options.CheckRepository using sqlx
type CheckRepository struct {
	db DBTX
}

// NewCheckRepository creates a new expected-move check repository
func NewCheckRepository(db DBTX) *CheckRepository {
	return &CheckRepository{db: db}
}

// InsertCheck persists an expected-move reconciliation record
func (r *CheckRepository) InsertCheck(ctx context.Context, check *options.ExpectedMoveCheck) error {
	query := `
		INSERT INTO expected_move_checks (
			id, security_id, horizon_days, expected_move_abs,
			expected_move_pct, surface_expected_move, realized_expected_move,
			pct_diff_surface, pct_diff_realized, severity_surface,
			severity_realized, snapshot_timestamp, ingestion_run_id,
			raw_payload
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := r.db.ExecContext(ctx, query,
		check.ID, check.SecurityID, check.HorizonDays, check.ExpectedMoveAbs,
		check.ExpectedMovePct, check.SurfaceExpectedMove,
		check.RealizedExpectedMove, check.PctDiffSurface,
		check.PctDiffRealized, check.SeveritySurface, check.SeverityRealized,
		check.SnapshotTimestamp, check.IngestionRunID, check.RawPayload,
	)

	return err
}

// InsertFlag persists a calibration flag
func (r *CheckRepository) InsertFlag(ctx context.Context, flag *options.CalibrationFlag) error {
	query := `
		INSERT INTO calibration_flags (
			id, security_id, horizon_days, flag_type, severity, details,
			ingestion_run_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err := r.db.ExecContext(ctx, query,
		flag.ID, flag.SecurityID, flag.HorizonDays, flag.FlagType,
		flag.Severity, flag.Details, flag.IngestionRunID, flag.CreatedAt,
	)

	return err
}

// RecentChecks returns up to limit checks for the security, most recent first
func (r *CheckRepository) RecentChecks(ctx context.Context, securityID int64, limit int) ([]options.ExpectedMoveCheck, error) {
	var checks []options.ExpectedMoveCheck

	query := `
		SELECT id, security_id, horizon_days, expected_move_abs,
		       expected_move_pct, surface_expected_move,
		       realized_expected_move, pct_diff_surface, pct_diff_realized,
		       severity_surface, severity_realized, snapshot_timestamp,
		       ingestion_run_id, raw_payload
		FROM expected_move_checks
		WHERE security_id = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2`

	err := r.db.SelectContext(ctx, &checks, query, securityID, limit)
	if err != nil {
		return nil, err
	}

	return checks, nil
}
