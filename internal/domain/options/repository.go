package options

import (
	"context"
	"time"
)

// ChainRepository persists raw option chains and serves historical
// snapshots for degraded-mode fallback
type ChainRepository interface {
	// InsertQuotes appends a batch of raw quotes
	InsertQuotes(ctx context.Context, quotes []RawOptionQuote) error

	// LatestSnapshot returns all quotes sharing the most recent snapshot
	// timestamp for (security, expiration), or an empty slice when no
	// snapshot exists
	LatestSnapshot(ctx context.Context, securityID int64, expiration time.Time) ([]RawOptionQuote, error)
}

// StraddleRepository persists and reads ATM straddle records
type StraddleRepository interface {
	Insert(ctx context.Context, straddle *ATMStraddle) error

	// Recent returns up to limit records, most recent first
	Recent(ctx context.Context, securityID int64, limit int) ([]ATMStraddle, error)

	// Latest returns the most recently snapshotted record
	Latest(ctx context.Context, securityID int64) (*ATMStraddle, error)

	// ClosestByDTE returns the record whose dte is nearest the horizon,
	// ties broken by recency
	ClosestByDTE(ctx context.Context, securityID int64, horizon int) (*ATMStraddle, error)
}

// SurfaceRepository persists and reads vol surface points
type SurfaceRepository interface {
	InsertPoint(ctx context.Context, point *VolSurfacePoint) error

	// LatestSnapshot returns all points sharing the most recent snapshot
	// timestamp for the security, or an empty slice when none exists
	LatestSnapshot(ctx context.Context, securityID int64) ([]VolSurfacePoint, error)

	// RecentSnapshots returns up to limit distinct snapshot timestamps,
	// most recent first
	RecentSnapshots(ctx context.Context, securityID int64, limit int) ([]time.Time, error)

	// PointsAt returns all points of one snapshot, ordered by dte then
	// moneyness
	PointsAt(ctx context.Context, securityID int64, snapshot time.Time) ([]VolSurfacePoint, error)
}

// CheckRepository persists expected-move checks and calibration flags
type CheckRepository interface {
	InsertCheck(ctx context.Context, check *ExpectedMoveCheck) error
	InsertFlag(ctx context.Context, flag *CalibrationFlag) error

	// RecentChecks returns up to limit checks, most recent first
	RecentChecks(ctx context.Context, securityID int64, limit int) ([]ExpectedMoveCheck, error)
}
