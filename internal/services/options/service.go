package options

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"astra/internal/adapters/config"
	"astra/internal/domain/ingestion"
	"astra/internal/domain/options"
	"astra/internal/domain/security"
	"astra/pkg/errors"
	"astra/pkg/logger"
)

// MarketDataClient is the external market-data collaborator. Retry and
// backoff live entirely inside the implementation; a returned error means
// the source is unusable for this call and wraps errors.ErrSourceUnavailable.
type MarketDataClient interface {
	// FetchExpirations returns the available expiration dates for a
	// symbol, ascending
	FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error)

	// FetchChain returns the full option chain snapshot for one
	// (symbol, expiration)
	FetchChain(ctx context.Context, symbol string, expiration time.Time) ([]options.RawOptionQuote, error)
}

// Service is the options analytics engine: ATM straddle ingestion, vol
// surface construction and expected-move calibration, layered over the
// freshness cache, refresh policy and degraded-mode fallback.
type Service struct {
	cfg config.OptionsConfig

	client     MarketDataClient
	securities security.Repository
	bars       security.BarRepository
	chains     options.ChainRepository
	straddles  options.StraddleRepository
	surfaces   options.SurfaceRepository
	checks     options.CheckRepository
	runs       ingestion.Repository

	cache    *FreshnessCache
	policy   *RefreshPolicy
	degraded *DegradedFallback

	log *logger.Logger
	now func() time.Time
}

// NewService creates the options analytics service
func NewService(
	cfg config.OptionsConfig,
	client MarketDataClient,
	securities security.Repository,
	bars security.BarRepository,
	chains options.ChainRepository,
	straddles options.StraddleRepository,
	surfaces options.SurfaceRepository,
	checks options.CheckRepository,
	runs ingestion.Repository,
	log *logger.Logger,
) *Service {
	return &Service{
		cfg:        cfg,
		client:     client,
		securities: securities,
		bars:       bars,
		chains:     chains,
		straddles:  straddles,
		surfaces:   surfaces,
		checks:     checks,
		runs:       runs,
		cache:      NewFreshnessCache(cfg),
		policy:     NewRefreshPolicy(cfg),
		degraded:   NewDegradedFallback(chains, surfaces, log),
		log:        log.With("component", "options_service"),
		now:        time.Now,
	}
}

// Cache exposes the freshness cache, mainly for invalidation by callers
func (s *Service) Cache() *FreshnessCache {
	return s.cache
}

// resolveSecurity looks up a security by symbol
func (s *Service) resolveSecurity(ctx context.Context, symbol string) (*security.Security, error) {
	sec, err := s.securities.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "security %s", normalizeSymbol(symbol))
	}
	return sec, nil
}

// underlyingPrice returns the latest daily close at or before the date
func (s *Service) underlyingPrice(ctx context.Context, securityID int64, date time.Time) (float64, error) {
	price, err := s.bars.LatestCloseOnOrBefore(ctx, securityID, date)
	if err != nil {
		return 0, errors.Wrap(err, "underlying price")
	}
	return price, nil
}

// failRun closes the run as failed with the error and context. The
// original error always propagates to the caller unchanged; bookkeeping
// failures are only logged.
func (s *Service) failRun(ctx context.Context, runID uuid.UUID, cause error, runCtx map[string]interface{}) {
	if err := s.runs.FailRun(ctx, runID, cause.Error(), runCtx); err != nil {
		s.log.Errorw("failed to mark ingestion run failed", "run_id", runID, "error", err)
	}
}

// ivProxy computes the implied-vol proxy mid / (S * sqrt(dte/365)).
// Undefined when the underlying price or dte is non-positive.
func ivProxy(mid, underlyingPrice float64, dte int) *float64 {
	if underlyingPrice <= 0 || dte <= 0 {
		return nil
	}
	iv := mid / (underlyingPrice * math.Sqrt(float64(dte)/365))
	return &iv
}

// dateOrToday normalizes a target date to UTC midnight, defaulting to today
func (s *Service) dateOrToday(target time.Time) time.Time {
	if target.IsZero() {
		target = s.now()
	}
	return dateOf(target)
}

// dateOf truncates a timestamp to its UTC date
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween returns whole days from a to b, both taken as UTC dates
func daysBetween(a, b time.Time) int {
	return int(dateOf(b).Sub(dateOf(a)).Hours() / 24)
}

func float64Ptr(v float64) *float64 { return &v }
