package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentReceipt is returned to the payer after a successful payment call.
type PaymentReceipt struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Payer            string          `json:"payer"`
	PaymentAmount    decimal.Decimal `json:"payment_amount"`    // payment asset
	SettlementAmount decimal.Decimal `json:"settlement_amount"` // gross, settlement asset
	NetAmount        decimal.Decimal `json:"net_amount"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	MerchantFee      decimal.Decimal `json:"merchant_fee"`
	RateUsed         decimal.Decimal `json:"rate_used"`
	DonatedAmount    decimal.Decimal `json:"donated_amount"`
	DonationOK       bool            `json:"donation_ok"` // false when the best-effort donation failed
	Status           OrderStatus     `json:"status"`
	PaidAt           time.Time       `json:"paid_at"`
}
