package postgres

import (
	"context"
	"database/sql"
	"time"

	"astra/internal/domain/options"
)

// Compile-time check
var _ options.ChainRepository = (*ChainRepository)(nil)

// ChainRepository implements options.ChainRepository using sqlx
type ChainRepository struct {
	db DBTX
}

// NewChainRepository creates a new option chain repository
func NewChainRepository(db DBTX) *ChainRepository {
	return &ChainRepository{db: db}
}

// InsertQuotes appends a batch of raw option quotes
func (r *ChainRepository) InsertQuotes(ctx context.Context, quotes []options.RawOptionQuote) error {
	query := `
		INSERT INTO option_chain_raw (
			security_id, option_symbol, strike, expiration, call_put,
			bid, ask, mid, volume, open_interest, underlying_price,
			raw_payload, snapshot_timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)`

	for _, q := range quotes {
		_, err := r.db.ExecContext(ctx, query,
			q.SecurityID, q.OptionSymbol, q.Strike, q.Expiration, q.CallPut,
			q.Bid, q.Ask, q.Mid, q.Volume, q.OpenInterest, q.UnderlyingPrice,
			q.RawPayload, q.SnapshotTimestamp,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// LatestSnapshot returns all quotes sharing the most recent snapshot
// timestamp for (security, expiration)
func (r *ChainRepository) LatestSnapshot(ctx context.Context, securityID int64, expiration time.Time) ([]options.RawOptionQuote, error) {
	var snapshot time.Time

	tsQuery := `
		SELECT snapshot_timestamp FROM option_chain_raw
		WHERE security_id = $1 AND expiration = $2
		ORDER BY snapshot_timestamp DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &snapshot, tsQuery, securityID, expiration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var quotes []options.RawOptionQuote

	query := `
		SELECT security_id, option_symbol, strike, expiration, call_put,
		       bid, ask, mid, volume, open_interest, underlying_price,
		       raw_payload, snapshot_timestamp
		FROM option_chain_raw
		WHERE security_id = $1 AND expiration = $2 AND snapshot_timestamp = $3
		ORDER BY strike ASC, call_put ASC`

	err = r.db.SelectContext(ctx, &quotes, query, securityID, expiration, snapshot)
	if err != nil {
		return nil, err
	}

	return quotes, nil
}
