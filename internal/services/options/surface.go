package options

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"astra/internal/domain/ingestion"
	"astra/internal/domain/options"
	"astra/pkg/errors"
)

const (
	surfaceRunSource = "options_vol_surface"
	surfaceRunTarget = "vol_surfaces"
)

// Surface issue types recorded against the ingestion run
const (
	issueMissingBucket = "vol_surface_missing_bucket"
	issueMissingStrike = "vol_surface_missing_strike"
	issueInvalidMid    = "vol_surface_invalid_mid"
)

// ComputeSurface builds a DTE-bucket by moneyness grid of implied-vol
// proxies and persists the filled cells. A zero targetDate means today.
// Chain acquisition per bucket follows the live > cache > historical
// precedence; there is no whole-surface fallback, so a bucket whose
// chain cannot be resolved at all fails the entire computation.
func (s *Service) ComputeSurface(ctx context.Context, symbol string, targetDate time.Time, force bool) (*SurfacePayload, error) {
	targetDate = s.dateOrToday(targetDate)

	runID, err := s.runs.CreateRun(ctx, surfaceRunSource, surfaceRunTarget)
	if err != nil {
		return nil, errors.Wrap(err, "create ingestion run")
	}

	payload, err := s.computeSurface(ctx, runID, symbol, targetDate, force)
	if err != nil {
		s.log.Errorw("vol surface computation failed",
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

func (s *Service) computeSurface(ctx context.Context, runID uuid.UUID, symbol string, targetDate time.Time, force bool) (*SurfacePayload, error) {
	sec, err := s.resolveSecurity(ctx, symbol)
	if err != nil {
		return nil, err
	}

	underlyingPrice, err := s.underlyingPrice(ctx, sec.ID, targetDate)
	if err != nil {
		return nil, err
	}

	if !force {
		if cached, ok := s.cache.GetSurface(symbol); ok {
			if !s.policy.ShouldRefreshSurface(symbol, force) {
				cached.Cached = true
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

	var window []time.Time
	for _, exp := range expirations {
		dte := daysBetween(targetDate, exp)
		if dte >= s.cfg.SurfaceMinDTE && dte <= s.cfg.SurfaceMaxDTE {
			window = append(window, dateOf(exp))
		}
	}

	bucketExpirations := make(map[int]time.Time)
	for _, bucket := range s.cfg.DTEBuckets {
		matched, ok := matchExpirationForBucket(window, targetDate, bucket, s.cfg.MaxBucketDrift)
		if !ok {
			s.logIssue(ctx, sec.ID, runID, issueMissingBucket, map[string]interface{}{"bucket": bucket})
			continue
		}
		bucketExpirations[bucket] = matched
	}

	snapshotTS := s.now().UTC()
	ivGrid := make([][]*float64, 0, len(bucketExpirations))
	usedBuckets := make([]int, 0, len(bucketExpirations))

	for _, bucket := range s.cfg.DTEBuckets {
		expiration, ok := bucketExpirations[bucket]
		if !ok {
			continue
		}

		resolved, err := s.resolveChain(ctx, sec.ID, symbol, expiration, force)
		if err != nil {
			return nil, err
		}
		if err := s.insertChain(ctx, sec.ID, resolved.quotes, snapshotTS); err != nil {
			return nil, err
		}

		row, err := s.processBucket(ctx, sec.ID, runID, resolved.quotes, underlyingPrice, expiration, bucket, snapshotTS)
		if err != nil {
			return nil, err
		}
		ivGrid = append(ivGrid, row)
		usedBuckets = append(usedBuckets, bucket)
	}

	payload := SurfacePayload{
		Symbol:      normalizeSymbol(symbol),
		GeneratedAt: snapshotTS,
		DTE:         usedBuckets,
		Moneyness:   s.cfg.MoneynessGrid,
		IVGrid:      ivGrid,
	}

	if err := s.runs.CompleteRun(ctx, runID, len(usedBuckets)*len(s.cfg.MoneynessGrid)); err != nil {
		return nil, errors.Wrap(err, "complete ingestion run")
	}

	s.cache.SetSurface(symbol, payload)
	s.policy.RecordSurfaceRefresh(symbol)

	s.log.Infow("vol surface computed",
		"symbol", payload.Symbol,
		"buckets", len(usedBuckets),
		"grid_width", len(s.cfg.MoneynessGrid),
	)
	return &payload, nil
}

// processBucket fills one grid row: for every moneyness point it selects
// the nearest liquid strike of the matching type and persists the
// implied-vol proxy, recording an issue and a nil cell otherwise
func (s *Service) processBucket(
	ctx context.Context,
	securityID int64,
	runID uuid.UUID,
	chain []options.RawOptionQuote,
	underlyingPrice float64,
	expiration time.Time,
	bucketDTE int,
	snapshotTS time.Time,
) ([]*float64, error) {
	row := make([]*float64, 0, len(s.cfg.MoneynessGrid))
	for _, m := range s.cfg.MoneynessGrid {
		optionType := options.TypeCall
		if m <= 0 {
			optionType = options.TypePut
		}
		targetStrike := underlyingPrice * (1 + m)

		quote := nearestLiquidQuote(chain, targetStrike, optionType, int64(s.cfg.MinLiquidity))
		if quote == nil {
			s.logIssue(ctx, securityID, runID, issueMissingStrike, map[string]interface{}{"moneyness": m, "dte": bucketDTE})
			row = append(row, nil)
			continue
		}

		mid := quote.MidPrice()
		if mid == nil || *mid <= 0 {
			s.logIssue(ctx, securityID, runID, issueInvalidMid, map[string]interface{}{"moneyness": m, "dte": bucketDTE})
			row = append(row, nil)
			continue
		}

		iv := ivProxy(*mid, underlyingPrice, bucketDTE)
		if iv == nil {
			row = append(row, nil)
			continue
		}

		point := &options.VolSurfacePoint{
			ID:                uuid.New(),
			SecurityID:        securityID,
			Expiration:        expiration,
			DTE:               bucketDTE,
			Moneyness:         m,
			Strike:            quote.Strike,
			ImpliedVol:        *iv,
			SnapshotTimestamp: snapshotTS,
			IngestionRunID:    runID,
			RawPayload:        quote.RawPayload,
		}
		if err := s.surfaces.InsertPoint(ctx, point); err != nil {
			return nil, errors.Wrap(err, "insert surface point")
		}
		row = append(row, iv)
	}
	return row, nil
}

// SurfaceIV looks up an implied-vol proxy from the most recent persisted
// surface snapshot, nearest-neighbor on dte first, then moneyness. No
// interpolation is performed. Returns nil when no snapshot exists.
func (s *Service) SurfaceIV(ctx context.Context, symbol string, targetDTE int, targetMoneyness float64) (*float64, error) {
	sec, err := s.resolveSecurity(ctx, symbol)
	if err != nil {
		return nil, err
	}
	points, err := s.degraded.FallbackSurface(ctx, sec.ID)
	if err != nil {
		return nil, err
	}
	return surfaceIVFromPoints(points, targetDTE, targetMoneyness), nil
}

// RecentSurfaces reassembles up to limit persisted surface snapshots as
// grids, most recent first, nulls filled for cells that were never
// persisted
func (s *Service) RecentSurfaces(ctx context.Context, symbol string, limit int) ([]SurfacePayload, error) {
	sec, err := s.resolveSecurity(ctx, symbol)
	if err != nil {
		return nil, err
	}

	snapshots, err := s.surfaces.RecentSnapshots(ctx, sec.ID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent surface snapshots")
	}

	payloads := make([]SurfacePayload, 0, len(snapshots))
	for _, ts := range snapshots {
		points, err := s.surfaces.PointsAt(ctx, sec.ID, ts)
		if err != nil {
			return nil, errors.Wrap(err, "surface points")
		}
		payloads = append(payloads, assembleSurface(normalizeSymbol(symbol), ts, points))
	}
	return payloads, nil
}

// assembleSurface rebuilds a grid payload from persisted points
func assembleSurface(symbol string, snapshot time.Time, points []options.VolSurfacePoint) SurfacePayload {
	dteSet := make(map[int]bool)
	moneynessSet := make(map[float64]bool)
	cells := make(map[int]map[float64]float64)
	for _, p := range points {
		dteSet[p.DTE] = true
		moneynessSet[p.Moneyness] = true
		if cells[p.DTE] == nil {
			cells[p.DTE] = make(map[float64]float64)
		}
		cells[p.DTE][p.Moneyness] = p.ImpliedVol
	}

	dtes := sortedInts(dteSet)
	moneyness := sortedFloats(moneynessSet)

	ivGrid := make([][]*float64, 0, len(dtes))
	for _, dte := range dtes {
		row := make([]*float64, 0, len(moneyness))
		for _, m := range moneyness {
			if iv, ok := cells[dte][m]; ok {
				row = append(row, float64Ptr(iv))
			} else {
				row = append(row, nil)
			}
		}
		ivGrid = append(ivGrid, row)
	}

	return SurfacePayload{
		Symbol:      symbol,
		GeneratedAt: snapshot,
		DTE:         dtes,
		Moneyness:   moneyness,
		IVGrid:      ivGrid,
	}
}

// matchExpirationForBucket selects the windowed expiration whose dte is
// nearest the nominal bucket, rejecting drifts beyond maxDrift.
// Expirations are scanned in ascending order so equal drifts resolve to
// the earlier expiration.
func matchExpirationForBucket(expirations []time.Time, targetDate time.Time, bucket, maxDrift int) (time.Time, bool) {
	var best time.Time
	bestDrift := -1
	for _, exp := range expirations {
		dte := daysBetween(targetDate, exp)
		if dte < 0 {
			continue
		}
		drift := dte - bucket
		if drift < 0 {
			drift = -drift
		}
		if bestDrift < 0 || drift < bestDrift {
			best = exp
			bestDrift = drift
		}
	}
	if bestDrift < 0 || bestDrift > maxDrift {
		return time.Time{}, false
	}
	return best, true
}

// nearestLiquidQuote selects the quote of the requested type meeting the
// liquidity floor whose strike is nearest the target, ties resolving to
// the lower strike
func nearestLiquidQuote(chain []options.RawOptionQuote, targetStrike float64, optionType string, minLiquidity int64) *options.RawOptionQuote {
	var best *options.RawOptionQuote
	bestDiff := 0.0
	for i := range chain {
		q := &chain[i]
		if q.CallPut != optionType {
			continue
		}
		if q.Liquidity() < minLiquidity {
			continue
		}
		diff := absFloat(q.Strike - targetStrike)
		if best == nil || diff < bestDiff || (diff == bestDiff && q.Strike < best.Strike) {
			best = q
			bestDiff = diff
		}
	}
	return best
}

// surfaceIVFromPoints picks the nearest dte, then the nearest moneyness
// among points at that dte
func surfaceIVFromPoints(points []options.VolSurfacePoint, targetDTE int, targetMoneyness float64) *float64 {
	if len(points) == 0 {
		return nil
	}

	bestDTE := points[0].DTE
	for _, p := range points[1:] {
		if absInt(p.DTE-targetDTE) < absInt(bestDTE-targetDTE) {
			bestDTE = p.DTE
		}
	}

	var best *options.VolSurfacePoint
	for i := range points {
		p := &points[i]
		if p.DTE != bestDTE {
			continue
		}
		if best == nil || absFloat(p.Moneyness-targetMoneyness) < absFloat(best.Moneyness-targetMoneyness) {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	return float64Ptr(best.ImpliedVol)
}

func (s *Service) logIssue(ctx context.Context, securityID int64, runID uuid.UUID, issueType string, details map[string]interface{}) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	issue := &ingestion.Issue{
		ID:             uuid.New(),
		SecurityID:     securityID,
		IssueType:      issueType,
		Severity:       "WARN",
		Details:        payload,
		IssueTimestamp: s.now().UTC(),
		IngestionRunID: runID,
	}
	if err := s.runs.LogIssue(ctx, issue); err != nil {
		s.log.Warnw("failed to log surface issue", "issue_type", issueType, "error", err)
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func sortedFloats(set map[float64]bool) []float64 {
	out := make([]float64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
