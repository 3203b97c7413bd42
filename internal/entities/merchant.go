package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Merchant tracks identity, fee override and withdrawable balances.
// Balances are kept per settlement asset since orders may settle in
// different assets.
type Merchant struct {
	Address      string                     `json:"address"`
	Name         string                     `json:"name"`
	OrderCount   int64                      `json:"order_count"`
	Volume       decimal.Decimal            `json:"volume"`
	Balances     map[string]decimal.Decimal `json:"balances"`
	FeeRateBps   int64                      `json:"fee_rate_bps"`
	Active       bool                       `json:"active"`
	RegisteredAt time.Time                  `json:"registered_at"`
}

// MerchantView is the read-only projection returned by queries.
type MerchantView struct {
	Address      string                     `json:"address"`
	Name         string                     `json:"name"`
	OrderCount   int64                      `json:"order_count"`
	Volume       decimal.Decimal            `json:"volume"`
	Balances     map[string]decimal.Decimal `json:"balances"`
	FeeRateBps   int64                      `json:"fee_rate_bps"`
	Active       bool                       `json:"active"`
	RegisteredAt time.Time                  `json:"registered_at"`
}
