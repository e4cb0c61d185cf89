package security

import "time"

// Security is a tradable instrument known to the system.
// Rows are created by the ingestion pipelines; analytics only reads them.
type Security struct {
	ID        int64     `db:"id"`
	Symbol    string    `db:"symbol"`
	Type      string    `db:"type"` // equity, etf, index
	CreatedAt time.Time `db:"created_at"`
}
