package options

import (
	"context"
	"time"

	"astra/internal/domain/options"
	"astra/pkg/errors"
	"astra/pkg/logger"
)

// DegradedFallback substitutes the most recent persisted snapshot when a
// live fetch fails and no usable cache entry exists. A fallback is not a
// refresh: it never touches RefreshPolicy state.
type DegradedFallback struct {
	chains   options.ChainRepository
	surfaces options.SurfaceRepository
	log      *logger.Logger
}

// NewDegradedFallback creates a fallback over the persistence layer
func NewDegradedFallback(chains options.ChainRepository, surfaces options.SurfaceRepository, log *logger.Logger) *DegradedFallback {
	return &DegradedFallback{
		chains:   chains,
		surfaces: surfaces,
		log:      log.With("component", "options_degraded"),
	}
}

// FallbackChain returns all quotes of the most recent persisted snapshot
// for (security, expiration). It returns an empty slice when no snapshot
// exists; deciding whether that exhausts the call is the engine's job.
func (d *DegradedFallback) FallbackChain(ctx context.Context, securityID int64, expiration time.Time) ([]options.RawOptionQuote, error) {
	quotes, err := d.chains.LatestSnapshot(ctx, securityID, expiration)
	if err != nil {
		return nil, errors.Wrap(err, "chain fallback snapshot")
	}
	if len(quotes) > 0 {
		d.log.Warnw("serving historical chain snapshot",
			"security_id", securityID,
			"expiration", expiration.Format("2006-01-02"),
			"quotes", len(quotes),
			"snapshot", quotes[0].SnapshotTimestamp,
		)
	}
	return quotes, nil
}

// FallbackSurface returns all points of the most recent persisted surface
// snapshot for the security, or an empty slice when none exists. Used by
// the expected-move engine's surface lookup; surface construction itself
// has no whole-surface fallback.
func (d *DegradedFallback) FallbackSurface(ctx context.Context, securityID int64) ([]options.VolSurfacePoint, error) {
	points, err := d.surfaces.LatestSnapshot(ctx, securityID)
	if err != nil {
		return nil, errors.Wrap(err, "surface fallback snapshot")
	}
	if len(points) > 0 {
		d.log.Warnw("serving historical surface snapshot",
			"security_id", securityID,
			"points", len(points),
			"snapshot", points[0].SnapshotTimestamp,
		)
	}
	return points, nil
}
