package options

import (
	"time"

	"github.com/google/uuid"

	"astra/internal/domain/options"
)

// StraddleMetadata records the provenance of the chain that produced a
// straddle payload
type StraddleMetadata struct {
	ChainSource options.ChainSource `json:"chain_source"`
	Degraded    bool                `json:"degraded"`
}

// StraddlePayload is the caller-facing result of an ATM straddle ingestion
type StraddlePayload struct {
	ID                uuid.UUID        `json:"id"`
	Symbol            string           `json:"symbol"`
	Strike            float64          `json:"strike"`
	Expiration        time.Time        `json:"expiration"`
	CallMid           float64          `json:"call_mid"`
	PutMid            float64          `json:"put_mid"`
	StraddleMid       float64          `json:"straddle_mid"`
	ImpliedVol        *float64         `json:"implied_vol"`
	DTE               int              `json:"dte"`
	SnapshotTimestamp time.Time        `json:"snapshot_timestamp"`
	Cached            bool             `json:"cached"`
	Metadata          StraddleMetadata `json:"metadata"`
}

// SurfacePayload is the caller-facing result of a surface computation.
// IVGrid is row-major: one row per accepted DTE bucket, one column per
// moneyness grid point, nil cells preserved.
type SurfacePayload struct {
	Symbol      string       `json:"symbol"`
	GeneratedAt time.Time    `json:"generated_at"`
	DTE         []int        `json:"dte"`
	Moneyness   []float64    `json:"moneyness"`
	IVGrid      [][]*float64 `json:"iv_grid"`
	Cached      bool         `json:"cached"`
}

// CheckPayload is the caller-facing result of an expected-move computation
type CheckPayload struct {
	ID                   uuid.UUID `json:"id"`
	Symbol               string    `json:"symbol"`
	Horizon              int       `json:"horizon"`
	ExpectedMoveAbs      float64   `json:"expected_move_abs"`
	ExpectedMovePct      *float64  `json:"expected_move_pct"`
	SurfaceExpectedMove  *float64  `json:"surface_expected_move"`
	RealizedExpectedMove *float64  `json:"realized_expected_move"`
	PctDiffSurface       *float64  `json:"pct_diff_surface"`
	PctDiffRealized      *float64  `json:"pct_diff_realized"`
	SeveritySurface      *string   `json:"severity_surface"`
	SeverityRealized     *string   `json:"severity_realized"`
	ATMImpliedVol        *float64  `json:"atm_implied_vol"`
}
