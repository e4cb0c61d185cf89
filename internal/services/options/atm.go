package options

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"astra/internal/domain/options"
	"astra/pkg/errors"
)

const (
	atmRunSource = "options_atm_straddle"
	atmRunTarget = "atm_straddles"
)

// IngestATMStraddle acquires the option chain nearest the target date,
// selects the at-the-money call/put pair and persists the straddle
// artifact. A zero targetDate means today. force bypasses cache reads and
// the refresh policy.
func (s *Service) IngestATMStraddle(ctx context.Context, symbol string, targetDate time.Time, force bool) (*StraddlePayload, error) {
	targetDate = s.dateOrToday(targetDate)

	runID, err := s.runs.CreateRun(ctx, atmRunSource, atmRunTarget)
	if err != nil {
		return nil, errors.Wrap(err, "create ingestion run")
	}

	payload, err := s.ingestATMStraddle(ctx, runID, symbol, targetDate, force)
	if err != nil {
		s.log.Errorw("ATM straddle ingestion failed",
			"symbol", normalizeSymbol(symbol),
			"error", err,
		)
		s.failRun(ctx, runID, err, map[string]interface{}{
			"symbol":      normalizeSymbol(symbol),
			"target_date": targetDate.Format("2006-01-02"),
		})
		return nil, err
	}
	return payload, nil
}

func (s *Service) ingestATMStraddle(ctx context.Context, runID uuid.UUID, symbol string, targetDate time.Time, force bool) (*StraddlePayload, error) {
	sec, err := s.resolveSecurity(ctx, symbol)
	if err != nil {
		return nil, err
	}

	underlyingPrice, err := s.underlyingPrice(ctx, sec.ID, targetDate)
	if err != nil {
		return nil, err
	}

	if !force {
		if cached, _, ok := s.cache.GetATM(symbol); ok {
			if !s.policy.ShouldRefreshATM(symbol, underlyingPrice, force) {
				cached.Cached = true
				// The run observed only reads; close it so it is
				// never left running.
				if err := s.runs.CompleteRun(ctx, runID, 0); err != nil {
					return nil, errors.Wrap(err, "complete ingestion run")
				}
				return &cached, nil
			}
		}
	}

	expirations, err := s.client.FetchExpirations(ctx, symbol)
	if err != nil {
		return nil, errors.Wrap(err, "fetch expirations")
	}

	expiration, ok := selectExpiration(expirations, targetDate, s.cfg.MinDTEBuffer)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "no valid expirations for %s", normalizeSymbol(symbol))
	}

	resolved, err := s.resolveChain(ctx, sec.ID, symbol, expiration, force)
	if err != nil {
		return nil, err
	}
	if len(resolved.quotes) == 0 {
		return nil, errors.Wrapf(errors.ErrDataInvalid, "empty option chain for %s %s", normalizeSymbol(symbol), expiration.Format("2006-01-02"))
	}

	snapshotTS := s.now().UTC()
	if err := s.insertChain(ctx, sec.ID, resolved.quotes, snapshotTS); err != nil {
		return nil, err
	}

	straddle, err := buildATMStraddle(resolved.quotes, underlyingPrice, expiration, targetDate)
	if err != nil {
		return nil, err
	}

	record := &options.ATMStraddle{
		ID:                uuid.New(),
		SecurityID:        sec.ID,
		Expiration:        expiration,
		Strike:            straddle.strike,
		CallMid:           straddle.callMid,
		PutMid:            straddle.putMid,
		StraddleMid:       straddle.straddleMid,
		ImpliedVol:        ivProxy(straddle.straddleMid, underlyingPrice, straddle.dte),
		DTE:               straddle.dte,
		SnapshotTimestamp: snapshotTS,
		IngestionRunID:    runID,
		ChainSource:       resolved.source,
		Degraded:          resolved.source != options.SourceLive,
		RawCall:           straddle.rawCall,
		RawPut:            straddle.rawPut,
	}
	if err := s.straddles.Insert(ctx, record); err != nil {
		return nil, errors.Wrap(err, "insert straddle")
	}

	if err := s.runs.CompleteRun(ctx, runID, 1); err != nil {
		return nil, errors.Wrap(err, "complete ingestion run")
	}

	payload := StraddlePayload{
		ID:                record.ID,
		Symbol:            normalizeSymbol(symbol),
		Strike:            record.Strike,
		Expiration:        record.Expiration,
		CallMid:           record.CallMid,
		PutMid:            record.PutMid,
		StraddleMid:       record.StraddleMid,
		ImpliedVol:        record.ImpliedVol,
		DTE:               record.DTE,
		SnapshotTimestamp: record.SnapshotTimestamp,
		Metadata: StraddleMetadata{
			ChainSource: record.ChainSource,
			Degraded:    record.Degraded,
		},
	}

	s.cache.SetATM(symbol, payload, ATMCacheMeta{
		UnderlyingPrice: underlyingPrice,
		Source:          record.ChainSource,
	})
	s.policy.RecordATMRefresh(symbol, &underlyingPrice)

	s.log.Infow("ATM straddle ingested",
		"symbol", payload.Symbol,
		"strike", payload.Strike,
		"dte", payload.DTE,
		"chain_source", record.ChainSource,
	)
	return &payload, nil
}

// RecentStraddles returns up to limit persisted straddles, most recent first
func (s *Service) RecentStraddles(ctx context.Context, symbol string, limit int) ([]StraddlePayload, error) {
	sec, err := s.resolveSecurity(ctx, symbol)
	if err != nil {
		return nil, err
	}

	records, err := s.straddles.Recent(ctx, sec.ID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent straddles")
	}

	payloads := make([]StraddlePayload, 0, len(records))
	for _, r := range records {
		payloads = append(payloads, StraddlePayload{
			ID:                r.ID,
			Symbol:            normalizeSymbol(symbol),
			Strike:            r.Strike,
			Expiration:        r.Expiration,
			CallMid:           r.CallMid,
			PutMid:            r.PutMid,
			StraddleMid:       r.StraddleMid,
			ImpliedVol:        r.ImpliedVol,
			DTE:               r.DTE,
			SnapshotTimestamp: r.SnapshotTimestamp,
			Metadata: StraddleMetadata{
				ChainSource: r.ChainSource,
				Degraded:    r.Degraded,
			},
		})
	}
	return payloads, nil
}

// insertChain stamps and persists a batch of raw quotes
func (s *Service) insertChain(ctx context.Context, securityID int64, quotes []options.RawOptionQuote, snapshotTS time.Time) error {
	stamped := make([]options.RawOptionQuote, len(quotes))
	for i, q := range quotes {
		q.SecurityID = securityID
		if q.SnapshotTimestamp.IsZero() {
			q.SnapshotTimestamp = snapshotTS
		}
		stamped[i] = q
	}
	if err := s.chains.InsertQuotes(ctx, stamped); err != nil {
		return errors.Wrap(err, "insert option chain")
	}
	return nil
}

// selectExpiration picks the earliest expiration at least minBufferDays
// past the target date, falling back to the earliest available expiration
func selectExpiration(expirations []time.Time, targetDate time.Time, minBufferDays int) (time.Time, bool) {
	if len(expirations) == 0 {
		return time.Time{}, false
	}

	minExpiration := targetDate.AddDate(0, 0, minBufferDays)
	earliest := expirations[0]
	var best time.Time
	haveBest := false
	for _, exp := range expirations {
		exp = dateOf(exp)
		if exp.Before(dateOf(earliest)) {
			earliest = exp
		}
		if !exp.Before(minExpiration) && (!haveBest || exp.Before(best)) {
			best = exp
			haveBest = true
		}
	}
	if haveBest {
		return best, true
	}
	return dateOf(earliest), true
}

type straddleSelection struct {
	strike      float64
	callMid     float64
	putMid      float64
	straddleMid float64
	dte         int
	rawCall     []byte
	rawPut      []byte
}

// buildATMStraddle selects the strike with both legs present nearest the
// underlying price and computes leg mids. Strikes are scanned in
// ascending order so equal distances resolve to the lower strike.
func buildATMStraddle(chain []options.RawOptionQuote, underlyingPrice float64, expiration, targetDate time.Time) (*straddleSelection, error) {
	type legs struct {
		call *options.RawOptionQuote
		put  *options.RawOptionQuote
	}
	grouped := make(map[float64]*legs)
	for i := range chain {
		q := &chain[i]
		l, ok := grouped[q.Strike]
		if !ok {
			l = &legs{}
			grouped[q.Strike] = l
		}
		switch q.CallPut {
		case options.TypeCall:
			if l.call == nil {
				l.call = q
			}
		case options.TypePut:
			if l.put == nil {
				l.put = q
			}
		}
	}

	strikes := make([]float64, 0, len(grouped))
	for strike, l := range grouped {
		if l.call != nil && l.put != nil {
			strikes = append(strikes, strike)
		}
	}
	if len(strikes) == 0 {
		return nil, errors.Wrap(errors.ErrDataInvalid, "no strike with matching call/put pair")
	}
	sort.Float64s(strikes)

	best := strikes[0]
	bestDiff := absFloat(best - underlyingPrice)
	for _, strike := range strikes[1:] {
		if diff := absFloat(strike - underlyingPrice); diff < bestDiff {
			best = strike
			bestDiff = diff
		}
	}

	pair := grouped[best]
	callMid := pair.call.MidPrice()
	putMid := pair.put.MidPrice()
	if callMid == nil || putMid == nil {
		return nil, errors.Wrap(errors.ErrDataInvalid, "unable to compute mid prices for ATM legs")
	}

	dte := daysBetween(targetDate, expiration)
	if dte < 1 {
		dte = 1
	}

	return &straddleSelection{
		strike:      best,
		callMid:     *callMid,
		putMid:      *putMid,
		straddleMid: *callMid + *putMid,
		dte:         dte,
		rawCall:     pair.call.RawPayload,
		rawPut:      pair.put.RawPayload,
	}, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
