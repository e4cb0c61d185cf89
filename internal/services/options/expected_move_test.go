package options

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"astra/internal/domain/options"
	"astra/internal/domain/security"
	"astra/pkg/errors"
)

func TestPctDiff(t *testing.T) {
	got := pctDiff(12, float64Ptr(10))
	require.NotNil(t, got)
	assert.InDelta(t, 0.2, *got, 1e-9)

	got = pctDiff(8, float64Ptr(10))
	require.NotNil(t, got)
	assert.InDelta(t, 0.2, *got, 1e-9)

	assert.Nil(t, pctDiff(12, nil))
	assert.Nil(t, pctDiff(12, float64Ptr(0)))
}

func TestClassifySeverity(t *testing.T) {
	svc, _ := newTestService()

	assert.Nil(t, svc.classifySeverity(nil))

	ok := svc.classifySeverity(float64Ptr(0.05))
	require.NotNil(t, ok)
	assert.Equal(t, options.SeverityOK, *ok)

	// warn threshold is inclusive on the warn side
	warn := svc.classifySeverity(float64Ptr(0.10))
	require.NotNil(t, warn)
	assert.Equal(t, options.SeverityWarn, *warn)

	severe := svc.classifySeverity(float64Ptr(0.25))
	require.NotNil(t, severe)
	assert.Equal(t, options.SeveritySevere, *severe)
}

func TestMaybeFlag_ToleranceBoundary(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()
	runID := uuid.New()
	severity := options.SeverityWarn

	// exactly at tolerance: no flag
	err := svc.maybeFlag(ctx, 1, runID, 14, options.FlagSurfaceMismatch, float64Ptr(0.10), 0.10, &severity)
	require.NoError(t, err)
	deps.checks.AssertNotCalled(t, "InsertFlag", mock.Anything, mock.Anything)

	// strictly above: flag
	deps.checks.On("InsertFlag", ctx, mock.AnythingOfType("*options.CalibrationFlag")).Return(nil)
	err = svc.maybeFlag(ctx, 1, runID, 14, options.FlagSurfaceMismatch, float64Ptr(0.101), 0.10, &severity)
	require.NoError(t, err)
	deps.checks.AssertCalled(t, "InsertFlag", ctx, mock.AnythingOfType("*options.CalibrationFlag"))

	// nil severity suppresses the flag even above tolerance
	err = svc.maybeFlag(ctx, 1, runID, 14, options.FlagSurfaceMismatch, float64Ptr(0.5), 0.10, nil)
	require.NoError(t, err)
	deps.checks.AssertNumberOfCalls(t, "InsertFlag", 1)
}

func TestSurfaceIVFromPayload(t *testing.T) {
	payload := SurfacePayload{
		DTE:       []int{7, 30},
		Moneyness: []float64{-0.05, 0.0, 0.05},
		IVGrid: [][]*float64{
			{float64Ptr(0.21), float64Ptr(0.20), float64Ptr(0.22)},
			{float64Ptr(0.26), float64Ptr(0.25), nil},
		},
	}

	// nearest dte row, at-the-money column
	iv := surfaceIVFromPayload(payload, 10)
	require.NotNil(t, iv)
	assert.Equal(t, 0.20, *iv)

	iv = surfaceIVFromPayload(payload, 40)
	require.NotNil(t, iv)
	assert.Equal(t, 0.25, *iv)

	assert.Nil(t, surfaceIVFromPayload(SurfacePayload{}, 10))
}

func TestComputeExpectedMove_FromCachedStraddle(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	straddleID := uuid.New()

	svc.cache.SetATM("SPY", StraddlePayload{
		ID:          straddleID,
		Symbol:      "SPY",
		StraddleMid: 12.0,
		DTE:         14,
	}, ATMCacheMeta{UnderlyingPrice: 500, Source: options.SourceLive})

	surfacePoints := []options.VolSurfacePoint{
		{DTE: 14, Moneyness: 0.0, ImpliedVol: 0.20, SnapshotTimestamp: fixed.Add(-time.Hour)},
	}

	// flat closes: realized vol is zero, so the realized estimate is a
	// zero move and its pct diff is undefined
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 500
	}

	deps.runs.On("CreateRun", ctx, checkRunSource, checkRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(500.0, nil)
	deps.surfaces.On("LatestSnapshot", ctx, int64(1)).Return(surfacePoints, nil)
	deps.bars.On("RecentCloses", ctx, int64(1), realizedVolLookbackBars).Return(closes, nil)
	deps.checks.On("InsertCheck", ctx, mock.AnythingOfType("*options.ExpectedMoveCheck")).Return(nil)
	deps.checks.On("InsertFlag", ctx, mock.AnythingOfType("*options.CalibrationFlag")).Return(nil)
	deps.runs.On("CompleteRun", ctx, runID, 1).Return(nil)

	payload, err := svc.ComputeExpectedMove(ctx, "SPY", 0, true, false)

	require.NoError(t, err)
	assert.Equal(t, "SPY", payload.Symbol)
	assert.Equal(t, 14, payload.Horizon)
	assert.Equal(t, 12.0, payload.ExpectedMoveAbs)
	require.NotNil(t, payload.ExpectedMovePct)
	assert.InDelta(t, 0.024, *payload.ExpectedMovePct, 1e-9)

	// surface estimate: 500 * 0.20 * sqrt(14/365)
	require.NotNil(t, payload.SurfaceExpectedMove)
	assert.InDelta(t, 19.5866, *payload.SurfaceExpectedMove, 1e-3)
	require.NotNil(t, payload.PctDiffSurface)
	require.NotNil(t, payload.SeveritySurface)
	assert.Equal(t, options.SeveritySevere, *payload.SeveritySurface)

	// zero realized vol gives a zero comparison, so no realized severity
	assert.Nil(t, payload.PctDiffRealized)
	assert.Nil(t, payload.SeverityRealized)

	// only the surface mismatch was flagged
	deps.checks.AssertNumberOfCalls(t, "InsertFlag", 1)
	flag := deps.checks.Calls[1].Arguments.Get(1).(*options.CalibrationFlag)
	assert.Equal(t, options.FlagSurfaceMismatch, flag.FlagType)
	assert.Equal(t, options.SeveritySevere, flag.Severity)

	deps.runs.AssertExpectations(t)
}

func TestComputeExpectedMove_HorizonSelectsClosestStraddle(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	record := &options.ATMStraddle{
		ID:          uuid.New(),
		SecurityID:  1,
		StraddleMid: 15.0,
		DTE:         20,
	}

	closes := make([]float64, 30)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 500
		} else {
			closes[i] = 505
		}
	}

	deps.runs.On("CreateRun", ctx, checkRunSource, checkRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.straddles.On("ClosestByDTE", ctx, int64(1), 21).Return(record, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(500.0, nil)
	deps.surfaces.On("LatestSnapshot", ctx, int64(1)).Return([]options.VolSurfacePoint{}, nil)
	deps.bars.On("RecentCloses", ctx, int64(1), realizedVolLookbackBars).Return(closes, nil)
	deps.checks.On("InsertCheck", ctx, mock.AnythingOfType("*options.ExpectedMoveCheck")).Return(nil)
	deps.checks.On("InsertFlag", ctx, mock.AnythingOfType("*options.CalibrationFlag")).Return(nil)
	deps.runs.On("CompleteRun", ctx, runID, 1).Return(nil)

	payload, err := svc.ComputeExpectedMove(ctx, "SPY", 21, false, false)

	require.NoError(t, err)
	deps.straddles.AssertCalled(t, "ClosestByDTE", ctx, int64(1), 21)

	// horizon resolves to the straddle's actual dte
	assert.Equal(t, 20, payload.Horizon)

	// no surface snapshot: surface estimate and severity stay nil
	assert.Nil(t, payload.SurfaceExpectedMove)
	assert.Nil(t, payload.SeveritySurface)

	// choppy closes produce a realized estimate
	require.NotNil(t, payload.RealizedExpectedMove)
	assert.Greater(t, *payload.RealizedExpectedMove, 0.0)
	require.NotNil(t, payload.PctDiffRealized)
}

func TestComputeExpectedMove_NoStraddleFailsRun(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()

	deps.runs.On("CreateRun", ctx, checkRunSource, checkRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.straddles.On("Latest", ctx, int64(1)).Return(nil, errors.ErrNotFound)
	deps.runs.On("FailRun", ctx, runID, mock.AnythingOfType("string"), mock.Anything).Return(nil)

	_, err := svc.ComputeExpectedMove(ctx, "SPY", 0, true, false)

	assert.ErrorIs(t, err, errors.ErrNotFound)
	deps.runs.AssertExpectations(t)
	deps.runs.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestComputeExpectedMove_NonPositiveUnderlying(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	svc.cache.SetATM("SPY", StraddlePayload{ID: uuid.New(), StraddleMid: 12, DTE: 14}, ATMCacheMeta{})

	deps.runs.On("CreateRun", ctx, checkRunSource, checkRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(0.0, nil)
	deps.runs.On("FailRun", ctx, runID, mock.AnythingOfType("string"), mock.Anything).Return(nil)

	_, err := svc.ComputeExpectedMove(ctx, "SPY", 0, true, false)

	assert.ErrorIs(t, err, errors.ErrDataInvalid)
	deps.runs.AssertExpectations(t)
}
