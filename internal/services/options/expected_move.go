package options

import (
	"context"
	"encoding/json"
	"math"

	"github.com/google/uuid"

	"astra/internal/domain/options"
	"astra/pkg/errors"
)

const (
	checkRunSource = "options_expected_move"
	checkRunTarget = "expected_move_checks"
)

// ComputeExpectedMove reconciles the straddle-implied expected move
// against surface-implied and realized-volatility-implied estimates,
// persisting one check row and emitting calibration flags when either
// difference exceeds its tolerance. horizon 0 means unset; useLatest
// prefers the most recent straddle regardless of horizon; force bypasses
// cache reads.
func (s *Service) ComputeExpectedMove(ctx context.Context, symbol string, horizon int, useLatest, force bool) (*CheckPayload, error) {
	runID, err := s.runs.CreateRun(ctx, checkRunSource, checkRunTarget)
	if err != nil {
		return nil, errors.Wrap(err, "create ingestion run")
	}

	payload, err := s.computeExpectedMove(ctx, runID, symbol, horizon, useLatest, force)
	if err != nil {
		s.log.Errorw("expected move computation failed",
			"symbol", normalizeSymbol(symbol),
			"error", err,
		)
		s.failRun(ctx, runID, err, map[string]interface{}{
			"symbol":  normalizeSymbol(symbol),
			"horizon": horizon,
		})
		return nil, err
	}
	return payload, nil
}

// straddleSource is the straddle record feeding the expected move, from
// cache or persistence
type straddleSource struct {
	id          uuid.UUID
	straddleMid float64
	dte         int
	cacheMeta   *ATMCacheMeta
}

func (s *Service) computeExpectedMove(ctx context.Context, runID uuid.UUID, symbol string, horizon int, useLatest, force bool) (*CheckPayload, error) {
	sec, err := s.resolveSecurity(ctx, symbol)
	if err != nil {
		return nil, err
	}

	source, err := s.resolveStraddleSource(ctx, sec.ID, symbol, horizon, useLatest, force)
	if err != nil {
		return nil, err
	}
	resolvedHorizon := source.dte
	if resolvedHorizon <= 0 {
		return nil, errors.Wrap(errors.ErrDataInvalid, "unable to determine horizon for expected move")
	}

	today := dateOf(s.now())
	underlyingPrice, err := s.underlyingPrice(ctx, sec.ID, today)
	if err != nil {
		return nil, err
	}
	if underlyingPrice <= 0 {
		return nil, errors.Wrap(errors.ErrDataInvalid, "non-positive underlying price for expected move")
	}

	expectedMoveAbs := source.straddleMid
	expectedMovePct := expectedMoveAbs / underlyingPrice
	atmIV := ivProxy(source.straddleMid, underlyingPrice, resolvedHorizon)

	surfaceIV := s.lookupSurfaceIV(ctx, sec.ID, symbol, resolvedHorizon, force)
	var surfaceExpectedMove *float64
	if surfaceIV != nil {
		surfaceExpectedMove = float64Ptr(underlyingPrice * *surfaceIV * math.Sqrt(float64(resolvedHorizon)/365))
	}

	closes, err := s.bars.RecentCloses(ctx, sec.ID, realizedVolLookbackBars)
	if err != nil {
		return nil, errors.Wrap(err, "recent closes")
	}
	realizedVol := selectRealizedVol(resolvedHorizon, realizedVolMap(closes))
	var realizedExpectedMove *float64
	if realizedVol != nil {
		realizedExpectedMove = float64Ptr(underlyingPrice * *realizedVol * math.Sqrt(float64(resolvedHorizon)/252))
	}

	pctDiffSurface := pctDiff(expectedMoveAbs, surfaceExpectedMove)
	pctDiffRealized := pctDiff(expectedMoveAbs, realizedExpectedMove)

	severitySurface := s.classifySeverity(pctDiffSurface)
	severityRealized := s.classifySeverity(pctDiffRealized)

	raw, err := json.Marshal(map[string]interface{}{
		"straddle": map[string]interface{}{
			"id":           source.id,
			"straddle_mid": source.straddleMid,
			"dte":          source.dte,
		},
		"atm_iv":   atmIV,
		"metadata": source.cacheMeta,
	})
	if err != nil {
		raw = []byte("{}")
	}

	check := &options.ExpectedMoveCheck{
		ID:                   uuid.New(),
		SecurityID:           sec.ID,
		HorizonDays:          resolvedHorizon,
		ExpectedMoveAbs:      expectedMoveAbs,
		ExpectedMovePct:      &expectedMovePct,
		SurfaceExpectedMove:  surfaceExpectedMove,
		RealizedExpectedMove: realizedExpectedMove,
		PctDiffSurface:       pctDiffSurface,
		PctDiffRealized:      pctDiffRealized,
		SeveritySurface:      severitySurface,
		SeverityRealized:     severityRealized,
		SnapshotTimestamp:    s.now().UTC(),
		IngestionRunID:       runID,
		RawPayload:           raw,
	}
	if err := s.checks.InsertCheck(ctx, check); err != nil {
		return nil, errors.Wrap(err, "insert expected move check")
	}

	if err := s.maybeFlag(ctx, sec.ID, runID, resolvedHorizon, options.FlagSurfaceMismatch, pctDiffSurface, s.cfg.SurfaceTolerance, severitySurface); err != nil {
		return nil, err
	}
	if err := s.maybeFlag(ctx, sec.ID, runID, resolvedHorizon, options.FlagRealizedMismatch, pctDiffRealized, s.cfg.RealizedTolerance, severityRealized); err != nil {
		return nil, err
	}

	if err := s.runs.CompleteRun(ctx, runID, 1); err != nil {
		return nil, errors.Wrap(err, "complete ingestion run")
	}

	return &CheckPayload{
		ID:                   check.ID,
		Symbol:               normalizeSymbol(symbol),
		Horizon:              resolvedHorizon,
		ExpectedMoveAbs:      expectedMoveAbs,
		ExpectedMovePct:      &expectedMovePct,
		SurfaceExpectedMove:  surfaceExpectedMove,
		RealizedExpectedMove: realizedExpectedMove,
		PctDiffSurface:       pctDiffSurface,
		PctDiffRealized:      pctDiffRealized,
		SeveritySurface:      severitySurface,
		SeverityRealized:     severityRealized,
		ATMImpliedVol:        atmIV,
	}, nil
}

// resolveStraddleSource picks the straddle feeding the computation: the
// cached ATM payload when usable, else the persisted record matching the
// horizon selection rules
func (s *Service) resolveStraddleSource(ctx context.Context, securityID int64, symbol string, horizon int, useLatest, force bool) (*straddleSource, error) {
	if !force {
		if cached, meta, ok := s.cache.GetATM(symbol); ok {
			if useLatest || horizon == 0 || cached.DTE == horizon {
				m := meta
				return &straddleSource{
					id:          cached.ID,
					straddleMid: cached.StraddleMid,
					dte:         cached.DTE,
					cacheMeta:   &m,
				}, nil
			}
		}
	}

	var (
		record *options.ATMStraddle
		err    error
	)
	if useLatest || horizon == 0 {
		record, err = s.straddles.Latest(ctx, securityID)
	} else {
		record, err = s.straddles.ClosestByDTE(ctx, securityID, horizon)
	}
	if err != nil {
		return nil, errors.Wrap(err, "no ATM straddle available")
	}
	return &straddleSource{
		id:          record.ID,
		straddleMid: record.StraddleMid,
		dte:         record.DTE,
	}, nil
}

// lookupSurfaceIV prefers a usable cached surface, then the latest
// persisted snapshot; nil when neither yields an at-the-money vol
func (s *Service) lookupSurfaceIV(ctx context.Context, securityID int64, symbol string, targetDTE int, force bool) *float64 {
	if !force {
		if cached, ok := s.cache.GetSurface(symbol); ok {
			if iv := surfaceIVFromPayload(cached, targetDTE); iv != nil {
				return iv
			}
		}
	}

	points, err := s.degraded.FallbackSurface(ctx, securityID)
	if err != nil {
		s.log.Warnw("surface lookup failed", "symbol", normalizeSymbol(symbol), "error", err)
		return nil
	}
	return surfaceIVFromPoints(points, targetDTE, 0.0)
}

// surfaceIVFromPayload reads the at-the-money column of the cached grid
// at the nearest dte row
func surfaceIVFromPayload(payload SurfacePayload, targetDTE int) *float64 {
	if len(payload.DTE) == 0 || len(payload.Moneyness) == 0 || len(payload.IVGrid) == 0 {
		return nil
	}

	mIndex := 0
	for i, m := range payload.Moneyness {
		if absFloat(m) < absFloat(payload.Moneyness[mIndex]) {
			mIndex = i
		}
	}
	dteIndex := 0
	for i, dte := range payload.DTE {
		if absInt(dte-targetDTE) < absInt(payload.DTE[dteIndex]-targetDTE) {
			dteIndex = i
		}
	}
	if dteIndex >= len(payload.IVGrid) {
		return nil
	}
	row := payload.IVGrid[dteIndex]
	if mIndex >= len(row) {
		return nil
	}
	return row[mIndex]
}

// maybeFlag persists a calibration flag when the difference strictly
// exceeds the tolerance and a severity was decidable
func (s *Service) maybeFlag(ctx context.Context, securityID int64, runID uuid.UUID, horizon int, flagType string, diff *float64, tolerance float64, severity *string) error {
	if diff == nil || *diff <= tolerance || severity == nil {
		return nil
	}

	details, err := json.Marshal(map[string]float64{"pct_diff": *diff})
	if err != nil {
		details = []byte("{}")
	}
	flag := &options.CalibrationFlag{
		ID:             uuid.New(),
		SecurityID:     securityID,
		HorizonDays:    horizon,
		FlagType:       flagType,
		Severity:       *severity,
		Details:        details,
		IngestionRunID: runID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.checks.InsertFlag(ctx, flag); err != nil {
		return errors.Wrap(err, "insert calibration flag")
	}

	s.log.Warnw("calibration flag emitted",
		"flag_type", flagType,
		"severity", *severity,
		"pct_diff", *diff,
	)
	return nil
}

// pctDiff computes abs(base-comparison)/abs(comparison), nil when the
// comparison is missing or zero
func pctDiff(base float64, comparison *float64) *float64 {
	if comparison == nil || *comparison == 0 {
		return nil
	}
	return float64Ptr(absFloat(base-*comparison) / absFloat(*comparison))
}

// classifySeverity grades a percentage difference against the configured
// warn and severe thresholds
func (s *Service) classifySeverity(diff *float64) *string {
	if diff == nil {
		return nil
	}
	severity := options.SeveritySevere
	switch {
	case *diff < s.cfg.WarnThreshold:
		severity = options.SeverityOK
	case *diff < s.cfg.SevereThreshold:
		severity = options.SeverityWarn
	}
	return &severity
}

// RecentExpectedMoves returns up to limit persisted checks, most recent first
func (s *Service) RecentExpectedMoves(ctx context.Context, symbol string, limit int) ([]CheckPayload, error) {
	sec, err := s.resolveSecurity(ctx, symbol)
	if err != nil {
		return nil, err
	}

	checks, err := s.checks.RecentChecks(ctx, sec.ID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent expected moves")
	}

	payloads := make([]CheckPayload, 0, len(checks))
	for _, c := range checks {
		payloads = append(payloads, CheckPayload{
			ID:                   c.ID,
			Symbol:               normalizeSymbol(symbol),
			Horizon:              c.HorizonDays,
			ExpectedMoveAbs:      c.ExpectedMoveAbs,
			ExpectedMovePct:      c.ExpectedMovePct,
			SurfaceExpectedMove:  c.SurfaceExpectedMove,
			RealizedExpectedMove: c.RealizedExpectedMove,
			PctDiffSurface:       c.PctDiffSurface,
			PctDiffRealized:      c.PctDiffRealized,
			SeveritySurface:      c.SeveritySurface,
			SeverityRealized:     c.SeverityRealized,
		})
	}
	return payloads, nil
}
