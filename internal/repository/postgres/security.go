package postgres

import (
	"context"
	"database/sql"
	"time"

	"astra/internal/domain/security"
	"astra/pkg/errors"
)

// Compile-time checks
var (
	_ security.Repository    = (*SecurityRepository)(nil)
	_ security.BarRepository = (*BarRepository)(nil)
)

// SecurityRepository implements security.Repository using sqlx
type SecurityRepository struct {
	db DBTX
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db DBTX) *SecurityRepository {
	return &SecurityRepository{db: db}
}

// GetBySymbol resolves a security by ticker symbol
func (r *SecurityRepository) GetBySymbol(ctx context.Context, symbol string) (*security.Security, error) {
	var sec security.Security

	query := `SELECT id, symbol, type, created_at FROM securities WHERE symbol = UPPER($1) LIMIT 1`

	err := r.db.GetContext(ctx, &sec, query, symbol)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "security %s", symbol)
	}
	if err != nil {
		return nil, err
	}

	return &sec, nil
}

// BarRepository reads daily OHLCV bars written by the ingestion pipeline
type BarRepository struct {
	db DBTX
}

// NewBarRepository creates a new bar repository
func NewBarRepository(db DBTX) *BarRepository {
	return &BarRepository{db: db}
}

// LatestCloseOnOrBefore returns the most recent daily close at or before the date
func (r *BarRepository) LatestCloseOnOrBefore(ctx context.Context, securityID int64, date time.Time) (float64, error) {
	var close float64

	query := `
		SELECT close FROM ohlcv_bars
		WHERE security_id = $1 AND interval = '1d' AND time <= $2
		ORDER BY time DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &close, query, securityID, date)
	if err == sql.ErrNoRows {
		return 0, errors.Wrapf(errors.ErrNotFound, "no close for security %d on or before %s", securityID, date.Format("2006-01-02"))
	}
	if err != nil {
		return 0, err
	}

	return close, nil
}

// RecentCloses returns up to limit daily closes, most recent first
func (r *BarRepository) RecentCloses(ctx context.Context, securityID int64, limit int) ([]float64, error) {
	var closes []float64

	query := `
		SELECT close FROM ohlcv_bars
		WHERE security_id = $1 AND interval = '1d'
		ORDER BY time DESC
		LIMIT $2`

	err := r.db.SelectContext(ctx, &closes, query, securityID, limit)
	if err != nil {
		return nil, err
	}

	return closes, nil
}
