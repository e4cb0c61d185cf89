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

func quote(strike float64, callPut string, bid, ask float64) options.RawOptionQuote {
	return options.RawOptionQuote{
		OptionSymbol: "TEST",
		Strike:       strike,
		CallPut:      callPut,
		Bid:          &bid,
		Ask:          &ask,
	}
}

func TestSelectExpiration(t *testing.T) {
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	day := func(offset int) time.Time { return target.AddDate(0, 0, offset) }

	tests := []struct {
		name        string
		expirations []time.Time
		expected    time.Time
		expectedOK  bool
	}{
		{
			name:        "earliest past the buffer wins",
			expirations: []time.Time{day(3), day(10), day(30)},
			expected:    day(10),
			expectedOK:  true,
		},
		{
			name:        "buffer boundary is inclusive",
			expirations: []time.Time{day(7), day(14)},
			expected:    day(7),
			expectedOK:  true,
		},
		{
			name:        "all inside buffer falls back to earliest",
			expirations: []time.Time{day(5), day(2), day(6)},
			expected:    day(2),
			expectedOK:  true,
		},
		{
			name:        "no expirations",
			expirations: nil,
			expectedOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectExpiration(tt.expirations, target, 7)
			assert.Equal(t, tt.expectedOK, ok)
			if tt.expectedOK {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestBuildATMStraddle_NearestStrike(t *testing.T) {
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := target.AddDate(0, 0, 18)

	chain := []options.RawOptionQuote{
		quote(495, options.TypeCall, 9.0, 9.4),
		quote(495, options.TypePut, 4.0, 4.2),
		quote(500, options.TypeCall, 6.0, 6.4),
		quote(500, options.TypePut, 5.8, 6.0),
		quote(505, options.TypeCall, 3.9, 4.1),
		quote(505, options.TypePut, 8.6, 9.0),
	}

	sel, err := buildATMStraddle(chain, 501.0, expiration, target)
	require.NoError(t, err)
	assert.Equal(t, 500.0, sel.strike)
	assert.Equal(t, 6.2, sel.callMid)
	assert.Equal(t, 5.9, sel.putMid)
	assert.InDelta(t, 12.1, sel.straddleMid, 1e-9)
	assert.Equal(t, 18, sel.dte)
}

func TestBuildATMStraddle_TieGoesToLowerStrike(t *testing.T) {
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := target.AddDate(0, 0, 10)

	chain := []options.RawOptionQuote{
		quote(495, options.TypeCall, 1, 2),
		quote(495, options.TypePut, 1, 2),
		quote(505, options.TypeCall, 1, 2),
		quote(505, options.TypePut, 1, 2),
	}

	sel, err := buildATMStraddle(chain, 500.0, expiration, target)
	require.NoError(t, err)
	assert.Equal(t, 495.0, sel.strike)
}

func TestBuildATMStraddle_RequiresBothLegs(t *testing.T) {
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := target.AddDate(0, 0, 10)

	// 500 is nearest but has no put; 490 has both legs
	chain := []options.RawOptionQuote{
		quote(500, options.TypeCall, 6, 7),
		quote(490, options.TypeCall, 11, 12),
		quote(490, options.TypePut, 2, 3),
	}

	sel, err := buildATMStraddle(chain, 500.0, expiration, target)
	require.NoError(t, err)
	assert.Equal(t, 490.0, sel.strike)
}

func TestBuildATMStraddle_NoPairedStrike(t *testing.T) {
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := target.AddDate(0, 0, 10)

	chain := []options.RawOptionQuote{
		quote(500, options.TypeCall, 6, 7),
		quote(505, options.TypePut, 6, 7),
	}

	_, err := buildATMStraddle(chain, 500.0, expiration, target)
	assert.ErrorIs(t, err, errors.ErrDataInvalid)
}

func TestBuildATMStraddle_MissingMids(t *testing.T) {
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := target.AddDate(0, 0, 10)

	call := options.RawOptionQuote{Strike: 500, CallPut: options.TypeCall}
	put := quote(500, options.TypePut, 5, 6)

	_, err := buildATMStraddle([]options.RawOptionQuote{call, put}, 500.0, expiration, target)
	assert.ErrorIs(t, err, errors.ErrDataInvalid)
}

func TestBuildATMStraddle_DTEFloorsAtOne(t *testing.T) {
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	chain := []options.RawOptionQuote{
		quote(500, options.TypeCall, 1, 2),
		quote(500, options.TypePut, 1, 2),
	}

	sel, err := buildATMStraddle(chain, 500.0, target, target)
	require.NoError(t, err)
	assert.Equal(t, 1, sel.dte)
}

func TestIngestATMStraddle_LiveFlow(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := today.AddDate(0, 0, 18)

	chain := []options.RawOptionQuote{
		quote(500, options.TypeCall, 6.0, 6.4),
		quote(500, options.TypePut, 5.8, 6.0),
	}

	deps.runs.On("CreateRun", ctx, atmRunSource, atmRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(500.0, nil)
	deps.client.On("FetchExpirations", ctx, "SPY").Return([]time.Time{expiration}, nil)
	deps.client.On("FetchChain", ctx, "SPY", expiration).Return(chain, nil)
	deps.chains.On("InsertQuotes", ctx, mock.Anything).Return(nil)
	deps.straddles.On("Insert", ctx, mock.AnythingOfType("*options.ATMStraddle")).Return(nil)
	deps.runs.On("CompleteRun", ctx, runID, 1).Return(nil)

	payload, err := svc.IngestATMStraddle(ctx, "SPY", time.Time{}, false)

	require.NoError(t, err)
	deps.runs.AssertExpectations(t)
	deps.straddles.AssertExpectations(t)

	assert.Equal(t, "SPY", payload.Symbol)
	assert.Equal(t, 500.0, payload.Strike)
	assert.InDelta(t, 12.1, payload.StraddleMid, 1e-9)
	assert.Equal(t, 18, payload.DTE)
	assert.False(t, payload.Cached)
	assert.Equal(t, options.SourceLive, payload.Metadata.ChainSource)
	assert.False(t, payload.Metadata.Degraded)
	require.NotNil(t, payload.ImpliedVol)
	assert.Greater(t, *payload.ImpliedVol, 0.0)

	// inserted record carries the run id and provenance
	inserted := deps.straddles.Calls[0].Arguments.Get(1).(*options.ATMStraddle)
	assert.Equal(t, runID, inserted.IngestionRunID)
	assert.Equal(t, options.SourceLive, inserted.ChainSource)
	assert.False(t, inserted.Degraded)

	// the result is now cached and the refresh recorded
	cached, meta, ok := svc.cache.GetATM("SPY")
	require.True(t, ok)
	assert.Equal(t, payload.ID, cached.ID)
	assert.Equal(t, 500.0, meta.UnderlyingPrice)
	assert.False(t, svc.policy.ShouldRefreshATM("SPY", 500.0, false))
}

func TestIngestATMStraddle_CacheHitCompletesRun(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	price := 500.0
	svc.cache.SetATM("SPY", StraddlePayload{ID: uuid.New(), Symbol: "SPY", Strike: 500}, ATMCacheMeta{UnderlyingPrice: price, Source: options.SourceLive})
	svc.policy.RecordATMRefresh("SPY", &price)

	deps.runs.On("CreateRun", ctx, atmRunSource, atmRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(500.0, nil)
	deps.runs.On("CompleteRun", ctx, runID, 0).Return(nil)

	payload, err := svc.IngestATMStraddle(ctx, "SPY", time.Time{}, false)

	require.NoError(t, err)
	assert.True(t, payload.Cached)
	deps.runs.AssertExpectations(t)
	deps.client.AssertNotCalled(t, "FetchExpirations", mock.Anything, mock.Anything)
}

func TestIngestATMStraddle_ForceBypassesCache(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := today.AddDate(0, 0, 18)

	price := 500.0
	svc.cache.SetATM("SPY", StraddlePayload{ID: uuid.New(), Symbol: "SPY"}, ATMCacheMeta{UnderlyingPrice: price})
	svc.policy.RecordATMRefresh("SPY", &price)

	chain := []options.RawOptionQuote{
		quote(500, options.TypeCall, 6.0, 6.4),
		quote(500, options.TypePut, 5.8, 6.0),
	}

	deps.runs.On("CreateRun", ctx, atmRunSource, atmRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(500.0, nil)
	deps.client.On("FetchExpirations", ctx, "SPY").Return([]time.Time{expiration}, nil)
	deps.client.On("FetchChain", ctx, "SPY", expiration).Return(chain, nil)
	deps.chains.On("InsertQuotes", ctx, mock.Anything).Return(nil)
	deps.straddles.On("Insert", ctx, mock.Anything).Return(nil)
	deps.runs.On("CompleteRun", ctx, runID, 1).Return(nil)

	payload, err := svc.IngestATMStraddle(ctx, "SPY", time.Time{}, true)

	require.NoError(t, err)
	assert.False(t, payload.Cached)
	deps.client.AssertExpectations(t)
}

func TestIngestATMStraddle_DegradedFallback(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := today.AddDate(0, 0, 18)

	historical := []options.RawOptionQuote{
		quote(500, options.TypeCall, 6.0, 6.4),
		quote(500, options.TypePut, 5.8, 6.0),
	}
	for i := range historical {
		historical[i].SecurityID = 1
		historical[i].SnapshotTimestamp = fixed.Add(-time.Hour)
	}

	deps.runs.On("CreateRun", ctx, atmRunSource, atmRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(500.0, nil)
	deps.client.On("FetchExpirations", ctx, "SPY").Return([]time.Time{expiration}, nil)
	deps.client.On("FetchChain", ctx, "SPY", expiration).Return(nil, errors.ErrSourceUnavailable)
	deps.chains.On("LatestSnapshot", ctx, int64(1), expiration).Return(historical, nil)
	deps.chains.On("InsertQuotes", ctx, mock.Anything).Return(nil)
	deps.straddles.On("Insert", ctx, mock.AnythingOfType("*options.ATMStraddle")).Return(nil)
	deps.runs.On("CompleteRun", ctx, runID, 1).Return(nil)

	payload, err := svc.IngestATMStraddle(ctx, "SPY", time.Time{}, false)

	require.NoError(t, err)
	assert.Equal(t, options.SourceHistorical, payload.Metadata.ChainSource)
	assert.True(t, payload.Metadata.Degraded)

	// a fallback is not a refresh
	assert.True(t, svc.policy.ShouldRefreshChain("SPY", expiration.Format("2006-01-02"), false))
}

func TestIngestATMStraddle_FallbackExhausted(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	expiration := today.AddDate(0, 0, 18)

	deps.runs.On("CreateRun", ctx, atmRunSource, atmRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(500.0, nil)
	deps.client.On("FetchExpirations", ctx, "SPY").Return([]time.Time{expiration}, nil)
	deps.client.On("FetchChain", ctx, "SPY", expiration).Return(nil, errors.ErrSourceUnavailable)
	deps.chains.On("LatestSnapshot", ctx, int64(1), expiration).Return([]options.RawOptionQuote{}, nil)
	deps.runs.On("FailRun", ctx, runID, mock.AnythingOfType("string"), mock.Anything).Return(nil)

	_, err := svc.IngestATMStraddle(ctx, "SPY", time.Time{}, false)

	assert.ErrorIs(t, err, errors.ErrFallbackExhausted)
	deps.runs.AssertCalled(t, "FailRun", ctx, runID, mock.AnythingOfType("string"), mock.Anything)
	deps.runs.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestATMStraddle_ExpirationFetchFailureFailsRun(t *testing.T) {
	svc, deps := newTestService()
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	runID := uuid.New()
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	deps.runs.On("CreateRun", ctx, atmRunSource, atmRunTarget).Return(runID, nil)
	deps.securities.On("GetBySymbol", ctx, "SPY").Return(&security.Security{ID: 1, Symbol: "SPY"}, nil)
	deps.bars.On("LatestCloseOnOrBefore", ctx, int64(1), today).Return(500.0, nil)
	deps.client.On("FetchExpirations", ctx, "SPY").Return(nil, errors.ErrSourceUnavailable)
	deps.runs.On("FailRun", ctx, runID, mock.AnythingOfType("string"), mock.Anything).Return(nil)

	_, err := svc.IngestATMStraddle(ctx, "SPY", time.Time{}, false)

	assert.ErrorIs(t, err, errors.ErrSourceUnavailable)
	deps.runs.AssertExpectations(t)
}
