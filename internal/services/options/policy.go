package options

import (
	"math"
	"sync"
	"time"

	"astra/internal/adapters/config"
)

type atmRefresh struct {
	at         time.Time
	underlying *float64
}

// RefreshPolicy decides whether a cached value, expired or not, still
// needs a live refresh. It is distinct from cache expiry: chain and
// surface refreshes follow pure wall-clock intervals, while ATM refreshes
// are additionally forced by sufficiently large underlying price moves.
//
// State is recorded only after successful live fetches; cache hits and
// degraded-mode fallbacks never count as refreshes.
type RefreshPolicy struct {
	mu      sync.Mutex
	chain   map[chainKey]time.Time
	atm     map[string]atmRefresh
	surface map[string]time.Time

	chainTTL          time.Duration
	atmInterval       time.Duration
	surfaceInterval   time.Duration
	minUnderlyingMove float64

	now func() time.Time
}

// NewRefreshPolicy creates a policy with no recorded refreshes
func NewRefreshPolicy(cfg config.OptionsConfig) *RefreshPolicy {
	return &RefreshPolicy{
		chain:             make(map[chainKey]time.Time),
		atm:               make(map[string]atmRefresh),
		surface:           make(map[string]time.Time),
		chainTTL:          cfg.ChainCacheTTL,
		atmInterval:       cfg.ATMRefreshInterval,
		surfaceInterval:   cfg.SurfaceRefreshInterval,
		minUnderlyingMove: cfg.MinUnderlyingMove,
		now:               time.Now,
	}
}

// ShouldRefreshChain reports whether the chain for (symbol, expiration)
// needs a live fetch
func (p *RefreshPolicy) ShouldRefreshChain(symbol, expiration string, force bool) bool {
	if force {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.chain[chainKey{symbol: normalizeSymbol(symbol), expiration: expiration}]
	if !ok {
		return true
	}
	return p.now().Sub(last) >= p.chainTTL
}

// RecordChainRefresh records a successful live chain fetch
func (p *RefreshPolicy) RecordChainRefresh(symbol, expiration string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chain[chainKey{symbol: normalizeSymbol(symbol), expiration: expiration}] = p.now()
}

// ShouldRefreshATM reports whether the ATM straddle for the symbol needs
// a live refresh: no prior refresh, the refresh interval has elapsed, or
// the underlying moved by at least the configured fraction since the
// last recorded refresh
func (p *RefreshPolicy) ShouldRefreshATM(symbol string, underlyingPrice float64, force bool) bool {
	if force {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.atm[normalizeSymbol(symbol)]
	if !ok {
		return true
	}
	if p.now().Sub(entry.at) >= p.atmInterval {
		return true
	}
	if underlyingPrice > 0 && entry.underlying != nil && *entry.underlying > 0 {
		move := math.Abs(underlyingPrice-*entry.underlying) / *entry.underlying
		if move >= p.minUnderlyingMove {
			return true
		}
	}
	return false
}

// RecordATMRefresh records a successful live ATM refresh together with
// the underlying price observed at that refresh
func (p *RefreshPolicy) RecordATMRefresh(symbol string, underlyingPrice *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.atm[normalizeSymbol(symbol)] = atmRefresh{at: p.now(), underlying: underlyingPrice}
}

// ShouldRefreshSurface reports whether the surface for the symbol needs
// recomputation, on a pure wall-clock interval
func (p *RefreshPolicy) ShouldRefreshSurface(symbol string, force bool) bool {
	if force {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.surface[normalizeSymbol(symbol)]
	if !ok {
		return true
	}
	return p.now().Sub(last) >= p.surfaceInterval
}

// RecordSurfaceRefresh records a successful surface computation
func (p *RefreshPolicy) RecordSurfaceRefresh(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.surface[normalizeSymbol(symbol)] = p.now()
}
