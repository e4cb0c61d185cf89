package postgres

import (
	"context"
	"database/sql"

	"astra/internal/domain/options"
	"astra/pkg/errors"
)

// Compile-time check
var _ options.StraddleRepository = (*StraddleRepository)(nil)

// StraddleRepository implements options.StraddleRepository using sqlx
type StraddleRepository struct {
	db DBTX
}

// NewStraddleRepository creates a new ATM straddle repository
func NewStraddleRepository(db DBTX) *StraddleRepository {
	return &StraddleRepository{db: db}
}

const straddleColumns = `
	id, security_id, expiration, strike, call_mid, put_mid, straddle_mid,
	implied_vol, dte, snapshot_timestamp, ingestion_run_id, chain_source,
	degraded, raw_call, raw_put`

// Insert persists a new ATM straddle record
func (r *StraddleRepository) Insert(ctx context.Context, straddle *options.ATMStraddle) error {
	query := `
		INSERT INTO atm_straddles (
			id, security_id, expiration, strike, call_mid, put_mid,
			straddle_mid, implied_vol, dte, snapshot_timestamp,
			ingestion_run_id, chain_source, degraded, raw_call, raw_put
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err := r.db.ExecContext(ctx, query,
		straddle.ID, straddle.SecurityID, straddle.Expiration, straddle.Strike,
		straddle.CallMid, straddle.PutMid, straddle.StraddleMid,
		straddle.ImpliedVol, straddle.DTE, straddle.SnapshotTimestamp,
		straddle.IngestionRunID, straddle.ChainSource, straddle.Degraded,
		straddle.RawCall, straddle.RawPut,
	)

	return err
}

// Recent returns up to limit straddles for the security, most recent first
func (r *StraddleRepository) Recent(ctx context.Context, securityID int64, limit int) ([]options.ATMStraddle, error) {
	var straddles []options.ATMStraddle

	query := `
		SELECT ` + straddleColumns + `
		FROM atm_straddles
		WHERE security_id = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2`

	err := r.db.SelectContext(ctx, &straddles, query, securityID, limit)
	if err != nil {
		return nil, err
	}

	return straddles, nil
}

// Latest returns the most recently snapshotted straddle for the security
func (r *StraddleRepository) Latest(ctx context.Context, securityID int64) (*options.ATMStraddle, error) {
	var straddle options.ATMStraddle

	query := `
		SELECT ` + straddleColumns + `
		FROM atm_straddles
		WHERE security_id = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &straddle, query, securityID)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &straddle, nil
}

// ClosestByDTE returns the straddle whose dte is nearest the horizon,
// ties broken by recency
func (r *StraddleRepository) ClosestByDTE(ctx context.Context, securityID int64, horizon int) (*options.ATMStraddle, error) {
	var straddle options.ATMStraddle

	query := `
		SELECT ` + straddleColumns + `
		FROM atm_straddles
		WHERE security_id = $1
		ORDER BY ABS(dte - $2) ASC, snapshot_timestamp DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &straddle, query, securityID, horizon)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &straddle, nil
}
