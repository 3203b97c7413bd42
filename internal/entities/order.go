package entities

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusExpired    OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transition is permitted.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusExpired
}

// Payable reports whether the order can still accept a payment.
func (s OrderStatus) Payable() bool {
	return s == OrderStatusPending || s == OrderStatusPaid
}

// Order is a merchant's request for payment of a fixed amount.
// Amounts are denominated in asset units, not base units.
type Order struct {
	ID              string          `json:"id"`
	Hash            common.Hash     `json:"hash"`
	Merchant        string          `json:"merchant"`
	DesignatedPayer string          `json:"designated_payer,omitempty"` // empty = anyone may pay
	Amount          decimal.Decimal `json:"amount"`
	PaymentAsset    string          `json:"payment_asset"`
	SettlementAsset string          `json:"settlement_asset"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`     // payment asset
	ReceivedAmount  decimal.Decimal `json:"received_amount"` // merchant net, settlement asset
	RateUsed        decimal.Decimal `json:"rate_used"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	MerchantFee     decimal.Decimal `json:"merchant_fee"`
	AllowPartial    bool            `json:"allow_partial"`
	MetadataRef     string          `json:"metadata_ref,omitempty"` // opaque, never interpreted
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at,omitempty"` // zero = no expiry
	Status          OrderStatus     `json:"status"`
}

// OrderHash derives the canonical fixed-length order key from the string id.
func OrderHash(id string) common.Hash {
	return crypto.Keccak256Hash([]byte(id))
}

// Remaining returns the unpaid part of the requested amount.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.PaidAmount)
}

// PastExpiry reports whether the order has an expiry and now is past it.
func (o *Order) PastExpiry(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}
