package security

import (
	"context"
	"time"
)

// Repository defines read access to securities and their daily bars
type Repository interface {
	// GetBySymbol resolves a security by its ticker symbol
	GetBySymbol(ctx context.Context, symbol string) (*Security, error)
}

// BarRepository reads daily close prices ingested by the OHLCV pipeline
type BarRepository interface {
	// LatestCloseOnOrBefore returns the most recent daily close at or
	// before the given date
	LatestCloseOnOrBefore(ctx context.Context, securityID int64, date time.Time) (float64, error)

	// RecentCloses returns up to limit daily closes, most recent first
	RecentCloses(ctx context.Context, securityID int64, limit int) ([]float64, error)
}
