package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeOrderCreated      Type = "order.created"
	TypePaymentReceived   Type = "payment.received"
	TypeOrderCompleted    Type = "order.completed"
	TypeOrderCancelled    Type = "order.cancelled"
	TypeOrderExpired      Type = "order.expired"
	TypeDonationProcessed Type = "donation.processed"
	TypeDonationReceived  Type = "donation.received"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID      string    `json:"id"`
	Type    Type      `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type OrderCreated struct {
	OrderID         string          `json:"order_id"`
	Hash            string          `json:"hash"`
	Merchant        string          `json:"merchant"`
	DesignatedPayer string          `json:"designated_payer,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentAsset    string          `json:"payment_asset"`
	SettlementAsset string          `json:"settlement_asset"`
	MetadataRef     string          `json:"metadata_ref,omitempty"`
}

type PaymentReceived struct {
	OrderID string          `json:"order_id"`
	Payer   string          `json:"payer"`
	Amount  decimal.Decimal `json:"amount"`
	Asset   string          `json:"asset"`
}

type OrderCompleted struct {
	OrderID        string          `json:"order_id"`
	Merchant       string          `json:"merchant"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
}

type OrderCancelled struct {
	OrderID  string `json:"order_id"`
	Merchant string `json:"merchant"`
}

type OrderExpired struct {
	OrderID  string `json:"order_id"`
	Merchant string `json:"merchant"`
}

type DonationProcessed struct {
	Recipient string          `json:"recipient"` // public-goods pool
	Amount    decimal.Decimal `json:"amount"`
}

type DonationReceived struct {
	Contributor string          `json:"contributor"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	At          time.Time       `json:"at"`
}
