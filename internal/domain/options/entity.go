package options

import (
	"time"

	"github.com/google/uuid"
)

// Option contract sides
const (
	TypeCall = "call"
	TypePut  = "put"
)

// ChainSource identifies where a chain used for an artifact came from
type ChainSource string

const (
	SourceLive       ChainSource = "live"
	SourceCache      ChainSource = "cache"
	SourceHistorical ChainSource = "historical"
)

// Severity classifications for expected-move calibration checks
const (
	SeverityOK     = "OK"
	SeverityWarn   = "WARN"
	SeveritySevere = "SEVERE"
)

// Calibration flag types
const (
	FlagSurfaceMismatch  = "SURFACE_MISMATCH"
	FlagRealizedMismatch = "REALIZED_MISMATCH"
)

// RawOptionQuote is one contract's snapshot from the market-data source.
// Rows are append-only; many share a (security, expiration, snapshot).
type RawOptionQuote struct {
	SecurityID        int64     `db:"security_id"`
	OptionSymbol      string    `db:"option_symbol"`
	Strike            float64   `db:"strike"`
	Expiration        time.Time `db:"expiration"`
	CallPut           string    `db:"call_put"`
	Bid               *float64  `db:"bid"`
	Ask               *float64  `db:"ask"`
	Mid               *float64  `db:"mid"`
	Volume            *int64    `db:"volume"`
	OpenInterest      *int64    `db:"open_interest"`
	UnderlyingPrice   *float64  `db:"underlying_price"`
	RawPayload        []byte    `db:"raw_payload"`
	SnapshotTimestamp time.Time `db:"snapshot_timestamp"`
}

// MidPrice returns the quote's mid, deriving (bid+ask)/2 when the source
// did not provide one. Nil when it cannot be determined.
func (q *RawOptionQuote) MidPrice() *float64 {
	if q.Mid != nil {
		return q.Mid
	}
	if q.Bid == nil || q.Ask == nil {
		return nil
	}
	mid := (*q.Bid + *q.Ask) / 2
	return &mid
}

// Liquidity returns the larger of volume and open interest, zero when
// neither is reported
func (q *RawOptionQuote) Liquidity() int64 {
	var liq int64
	if q.Volume != nil && *q.Volume > liq {
		liq = *q.Volume
	}
	if q.OpenInterest != nil && *q.OpenInterest > liq {
		liq = *q.OpenInterest
	}
	return liq
}

// ATMStraddle is the persisted at-the-money straddle artifact.
// Both legs are always present; construction fails otherwise.
type ATMStraddle struct {
	ID                uuid.UUID   `db:"id"`
	SecurityID        int64       `db:"security_id"`
	Expiration        time.Time   `db:"expiration"`
	Strike            float64     `db:"strike"`
	CallMid           float64     `db:"call_mid"`
	PutMid            float64     `db:"put_mid"`
	StraddleMid       float64     `db:"straddle_mid"`
	ImpliedVol        *float64    `db:"implied_vol"`
	DTE               int         `db:"dte"`
	SnapshotTimestamp time.Time   `db:"snapshot_timestamp"`
	IngestionRunID    uuid.UUID   `db:"ingestion_run_id"`
	ChainSource       ChainSource `db:"chain_source"`
	Degraded          bool        `db:"degraded"`
	RawCall           []byte      `db:"raw_call"`
	RawPut            []byte      `db:"raw_put"`
}

// VolSurfacePoint is one filled cell of a vol surface snapshot. Cells with
// no liquid strike match are not persisted; grids are reassembled with
// nulls for the missing (bucket, moneyness) pairs.
type VolSurfacePoint struct {
	ID                uuid.UUID `db:"id"`
	SecurityID        int64     `db:"security_id"`
	Expiration        time.Time `db:"expiration"`
	DTE               int       `db:"dte"` // nominal bucket, not actual days
	Moneyness         float64   `db:"moneyness"`
	Strike            float64   `db:"strike"`
	ImpliedVol        float64   `db:"implied_vol"`
	SnapshotTimestamp time.Time `db:"snapshot_timestamp"`
	IngestionRunID    uuid.UUID `db:"ingestion_run_id"`
	RawPayload        []byte    `db:"raw_payload"`
}

// ExpectedMoveCheck reconciles the straddle-implied expected move against
// surface-implied and realized-volatility-implied estimates
type ExpectedMoveCheck struct {
	ID                   uuid.UUID `db:"id"`
	SecurityID           int64     `db:"security_id"`
	HorizonDays          int       `db:"horizon_days"`
	ExpectedMoveAbs      float64   `db:"expected_move_abs"`
	ExpectedMovePct      *float64  `db:"expected_move_pct"`
	SurfaceExpectedMove  *float64  `db:"surface_expected_move"`
	RealizedExpectedMove *float64  `db:"realized_expected_move"`
	PctDiffSurface       *float64  `db:"pct_diff_surface"`
	PctDiffRealized      *float64  `db:"pct_diff_realized"`
	SeveritySurface      *string   `db:"severity_surface"`
	SeverityRealized     *string   `db:"severity_realized"`
	SnapshotTimestamp    time.Time `db:"snapshot_timestamp"`
	IngestionRunID       uuid.UUID `db:"ingestion_run_id"`
	RawPayload           []byte    `db:"raw_payload"`
}

// CalibrationFlag is a persisted alert emitted when two expected-move
// estimates diverge beyond the configured tolerance
type CalibrationFlag struct {
	ID             uuid.UUID `db:"id"`
	SecurityID     int64     `db:"security_id"`
	HorizonDays    int       `db:"horizon_days"`
	FlagType       string    `db:"flag_type"`
	Severity       string    `db:"severity"`
	Details        []byte    `db:"details"`
	IngestionRunID uuid.UUID `db:"ingestion_run_id"`
	CreatedAt      time.Time `db:"created_at"`
}
