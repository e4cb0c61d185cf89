package postgres

import (
	"context"
	"database/sql"
	"time"

	"astra/internal/domain/options"
)

// Compile-time check
var _ options.SurfaceRepository = (*SurfaceRepository)(nil)

// SurfaceRepository implements options.SurfaceRepository using sqlx
type SurfaceRepository struct {
	db DBTX
}

// NewSurfaceRepository creates a new vol surface repository
func NewSurfaceRepository(db DBTX) *SurfaceRepository {
	return &SurfaceRepository{db: db}
}

const surfaceColumns = `
	id, security_id, expiration, dte, moneyness, strike, implied_vol,
	snapshot_timestamp, ingestion_run_id, raw_payload`

// InsertPoint persists one filled surface cell
func (r *SurfaceRepository) InsertPoint(ctx context.Context, point *options.VolSurfacePoint) error {
	query := `
		INSERT INTO vol_surfaces (
			id, security_id, expiration, dte, moneyness, strike,
			implied_vol, snapshot_timestamp, ingestion_run_id, raw_payload
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := r.db.ExecContext(ctx, query,
		point.ID, point.SecurityID, point.Expiration, point.DTE,
		point.Moneyness, point.Strike, point.ImpliedVol,
		point.SnapshotTimestamp, point.IngestionRunID, point.RawPayload,
	)

	return err
}

// LatestSnapshot returns all points sharing the most recent snapshot
// timestamp for the security
func (r *SurfaceRepository) LatestSnapshot(ctx context.Context, securityID int64) ([]options.VolSurfacePoint, error) {
	var snapshot time.Time

	tsQuery := `
		SELECT snapshot_timestamp FROM vol_surfaces
		WHERE security_id = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &snapshot, tsQuery, securityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return r.PointsAt(ctx, securityID, snapshot)
}

// RecentSnapshots returns up to limit distinct snapshot timestamps,
// most recent first
func (r *SurfaceRepository) RecentSnapshots(ctx context.Context, securityID int64, limit int) ([]time.Time, error) {
	var snapshots []time.Time

	query := `
		SELECT DISTINCT snapshot_timestamp FROM vol_surfaces
		WHERE security_id = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2`

	err := r.db.SelectContext(ctx, &snapshots, query, securityID, limit)
	if err != nil {
		return nil, err
	}

	return snapshots, nil
}

// PointsAt returns all points of one snapshot, ordered by dte then moneyness
func (r *SurfaceRepository) PointsAt(ctx context.Context, securityID int64, snapshot time.Time) ([]options.VolSurfacePoint, error) {
	var points []options.VolSurfacePoint

	query := `
		SELECT ` + surfaceColumns + `
		FROM vol_surfaces
		WHERE security_id = $1 AND snapshot_timestamp = $2
		ORDER BY dte ASC, moneyness ASC`

	err := r.db.SelectContext(ctx, &points, query, securityID, snapshot)
	if err != nil {
		return nil, err
	}

	return points, nil
}
