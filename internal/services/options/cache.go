package options

import (
	"strings"
	"sync"
	"time"

	"astra/internal/adapters/config"
	"astra/internal/domain/options"
)

// chainKey addresses the chain namespace by (symbol, expiration)
type chainKey struct {
	symbol     string
	expiration string
}

// ATMCacheMeta is the metadata stored alongside a cached straddle payload
type ATMCacheMeta struct {
	UnderlyingPrice float64
	Source          options.ChainSource
}

type chainEntry struct {
	quotes    []options.RawOptionQuote
	source    options.ChainSource
	expiresAt time.Time
}

type atmEntry struct {
	payload   StraddlePayload
	meta      ATMCacheMeta
	expiresAt time.Time
}

type surfaceEntry struct {
	payload   SurfacePayload
	expiresAt time.Time
}

// FreshnessCache is the process-wide store for derived options artifacts.
// Three namespaces are kept independent: chain (symbol+expiration), atm
// (symbol) and surface (symbol). Expiry is checked lazily on reads; an
// entry at or past its expiry instant is a miss and is evicted at that
// moment, never proactively. Memory stays bounded only because key
// cardinality is bounded.
//
// Concurrent writers race with last-write-wins semantics. Cached values
// are re-derivable analytics, so a stale overwrite after a forced refresh
// is an accepted anomaly rather than a correctness violation.
type FreshnessCache struct {
	mu      sync.Mutex
	chain   map[chainKey]chainEntry
	atm     map[string]atmEntry
	surface map[string]surfaceEntry

	chainTTL   time.Duration
	atmTTL     time.Duration
	surfaceTTL time.Duration

	now func() time.Time
}

// NewFreshnessCache creates an empty cache with the configured per-namespace TTLs
func NewFreshnessCache(cfg config.OptionsConfig) *FreshnessCache {
	return &FreshnessCache{
		chain:      make(map[chainKey]chainEntry),
		atm:        make(map[string]atmEntry),
		surface:    make(map[string]surfaceEntry),
		chainTTL:   cfg.ChainCacheTTL,
		atmTTL:     cfg.ATMCacheTTL,
		surfaceTTL: cfg.SurfaceCacheTTL,
		now:        time.Now,
	}
}

// GetChain returns the cached chain for (symbol, expiration), if present
// and unexpired
func (c *FreshnessCache) GetChain(symbol, expiration string) ([]options.RawOptionQuote, options.ChainSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := chainKey{symbol: normalizeSymbol(symbol), expiration: expiration}
	entry, ok := c.chain[key]
	if !ok {
		return nil, "", false
	}
	if c.expired(entry.expiresAt) {
		delete(c.chain, key)
		return nil, "", false
	}
	return entry.quotes, entry.source, true
}

// SetChain stores a chain with the chain-namespace TTL
func (c *FreshnessCache) SetChain(symbol, expiration string, quotes []options.RawOptionQuote, source options.ChainSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := chainKey{symbol: normalizeSymbol(symbol), expiration: expiration}
	c.chain[key] = chainEntry{
		quotes:    quotes,
		source:    source,
		expiresAt: c.now().Add(clampTTL(c.chainTTL)),
	}
}

// GetATM returns the cached straddle payload for the symbol, if present
// and unexpired
func (c *FreshnessCache) GetATM(symbol string) (StraddlePayload, ATMCacheMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalizeSymbol(symbol)
	entry, ok := c.atm[key]
	if !ok {
		return StraddlePayload{}, ATMCacheMeta{}, false
	}
	if c.expired(entry.expiresAt) {
		delete(c.atm, key)
		return StraddlePayload{}, ATMCacheMeta{}, false
	}
	return entry.payload, entry.meta, true
}

// SetATM stores a straddle payload with the atm-namespace TTL
func (c *FreshnessCache) SetATM(symbol string, payload StraddlePayload, meta ATMCacheMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.atm[normalizeSymbol(symbol)] = atmEntry{
		payload:   payload,
		meta:      meta,
		expiresAt: c.now().Add(clampTTL(c.atmTTL)),
	}
}

// GetSurface returns the cached surface payload for the symbol, if
// present and unexpired
func (c *FreshnessCache) GetSurface(symbol string) (SurfacePayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalizeSymbol(symbol)
	entry, ok := c.surface[key]
	if !ok {
		return SurfacePayload{}, false
	}
	if c.expired(entry.expiresAt) {
		delete(c.surface, key)
		return SurfacePayload{}, false
	}
	return entry.payload, true
}

// SetSurface stores a surface payload with the surface-namespace TTL
func (c *FreshnessCache) SetSurface(symbol string, payload SurfacePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.surface[normalizeSymbol(symbol)] = surfaceEntry{
		payload:   payload,
		expiresAt: c.now().Add(clampTTL(c.surfaceTTL)),
	}
}

// InvalidateSymbol clears all three namespaces for one symbol
func (c *FreshnessCache) InvalidateSymbol(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalizeSymbol(symbol)
	delete(c.atm, key)
	delete(c.surface, key)
	for k := range c.chain {
		if k.symbol == key {
			delete(c.chain, k)
		}
	}
}

// InvalidateAll clears every namespace
func (c *FreshnessCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chain = make(map[chainKey]chainEntry)
	c.atm = make(map[string]atmEntry)
	c.surface = make(map[string]surfaceEntry)
}

// expired reports whether the expiry instant has been reached.
// An entry read exactly at its expiry instant is already a miss.
func (c *FreshnessCache) expired(expiresAt time.Time) bool {
	return !c.now().Before(expiresAt)
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(symbol)
}
