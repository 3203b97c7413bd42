package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// OracleNode is an independent rate reporter scored by reputation.
type OracleNode struct {
	Address               string    `json:"address"`
	Active                bool      `json:"active"`
	Reputation            int64     `json:"reputation"` // bounded 0..cap
	TotalSubmissions      int64     `json:"total_submissions"`
	SuccessfulSubmissions int64     `json:"successful_submissions"`
	LastSubmitAt          time.Time `json:"last_submit_at"`
}

// PriceSubmission is ephemeral: consumed by consensus aggregation within a
// rolling window, then discarded.
type PriceSubmission struct {
	Node string
	Pair string
	Rate decimal.Decimal
	At   time.Time
}

// TrustedRate is the consensus output for one asset pair.
type TrustedRate struct {
	Pair       string          `json:"pair"`
	Rate       decimal.Decimal `json:"rate"`
	Confidence float64         `json:"confidence"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PairKey builds the map key for a directed asset pair.
func PairKey(base, quote string) string {
	return base + "/" + quote
}
