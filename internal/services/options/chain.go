package options

import (
	"context"
	"time"

	"astra/internal/domain/options"
	"astra/pkg/errors"
)

// chainResult is one resolved option chain together with its provenance
type chainResult struct {
	quotes []options.RawOptionQuote
	source options.ChainSource
}

// resolveChain acquires the chain for (symbol, expiration) following the
// fixed precedence live > cache > historical:
//
//  1. an unexpired cache entry that the refresh policy accepts is reused
//     as-is (skipped entirely under force);
//  2. otherwise a live fetch is attempted; on success the chain is cached
//     and the refresh recorded;
//  3. on live failure a cache entry, even one the policy wanted refreshed,
//     is reused; failing that the latest persisted snapshot is served;
//  4. with no cache and no snapshot the live error propagates as a
//     fallback-exhausted failure.
func (s *Service) resolveChain(ctx context.Context, securityID int64, symbol string, expiration time.Time, force bool) (chainResult, error) {
	expKey := expiration.Format("2006-01-02")

	var (
		cached   []options.RawOptionQuote
		cachedOK bool
	)
	if !force {
		cached, _, cachedOK = s.cache.GetChain(symbol, expKey)
		if cachedOK && !s.policy.ShouldRefreshChain(symbol, expKey, force) {
			return chainResult{quotes: cached, source: options.SourceCache}, nil
		}
	}

	quotes, err := s.client.FetchChain(ctx, symbol, expiration)
	if err == nil {
		s.cache.SetChain(symbol, expKey, quotes, options.SourceLive)
		s.policy.RecordChainRefresh(symbol, expKey)
		return chainResult{quotes: quotes, source: options.SourceLive}, nil
	}

	s.log.Warnw("live chain fetch failed",
		"symbol", normalizeSymbol(symbol),
		"expiration", expKey,
		"error", err,
	)

	if cachedOK {
		return chainResult{quotes: cached, source: options.SourceCache}, nil
	}

	historical, fbErr := s.degraded.FallbackChain(ctx, securityID, expiration)
	if fbErr != nil {
		return chainResult{}, fbErr
	}
	if len(historical) == 0 {
		return chainResult{}, errors.Wrapf(errors.ErrFallbackExhausted, "no cache or snapshot for %s %s: %v", normalizeSymbol(symbol), expKey, err)
	}
	return chainResult{quotes: historical, source: options.SourceHistorical}, nil
}
