package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/core/ports"
	"github.com/aetherpay/aetherpay-backend/internal/entities"
	"github.com/aetherpay/aetherpay-backend/internal/events"
)

// CreateOrderParams are the merchant-supplied inputs of order creation.
type CreateOrderParams struct {
	ID              string
	Amount          decimal.Decimal
	PaymentAsset    string
	SettlementAsset string
	MetadataRef     string
	AllowPartial    bool
	DesignatedPayer string    // empty = anyone may pay
	ExpiresAt       time.Time // zero = no expiry
}

// OrderRegistry orchestrates the order lifecycle: creation, payment,
// cancellation and expiry. It exclusively owns order status transitions.
//
// A payment executes as one unit: validation, the inbound token pull, the
// conversion and fee split, and the state update either all take effect or
// none do. The transient PROCESSING status doubles as the optimistic lock:
// a second payment against the same order fails the status check immediately.
type OrderRegistry struct {
	logger    *slog.Logger
	bus       *events.Bus
	now       func() time.Time
	assets    *AssetRegistry
	merchants *MerchantRegistry
	fx        *FXSettlement
	fees      *FeeEngine
	donations *DonationRouter
	token     ports.TokenCapability
	treasury  string

	mu     sync.Mutex
	byID   map[string]*entities.Order
	byHash map[common.Hash]*entities.Order
}

func NewOrderRegistry(
	logger *slog.Logger,
	bus *events.Bus,
	assets *AssetRegistry,
	merchants *MerchantRegistry,
	fx *FXSettlement,
	fees *FeeEngine,
	donations *DonationRouter,
	token ports.TokenCapability,
	treasury string,
) *OrderRegistry {
	return &OrderRegistry{
		logger:    logger,
		bus:       bus,
		now:       time.Now,
		assets:    assets,
		merchants: merchants,
		fx:        fx,
		fees:      fees,
		donations: donations,
		token:     token,
		treasury:  treasury,
		byID:      make(map[string]*entities.Order),
		byHash:    make(map[common.Hash]*entities.Order),
	}
}

// CreateOrder persists a new order in PENDING state for the calling merchant.
func (or *OrderRegistry) CreateOrder(ctx context.Context, merchant string, params CreateOrderParams) (*entities.Order, error) {
	if params.ID == "" {
		return nil, fmt.Errorf("%w: empty order id", entities.ErrInvalidAmount)
	}
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", entities.ErrInvalidAmount, params.Amount)
	}
	if err := or.fees.CheckMagnitude(params.Amount); err != nil {
		return nil, err
	}
	if _, err := or.assets.Get(params.PaymentAsset); err != nil {
		return nil, err
	}
	if _, err := or.assets.Get(params.SettlementAsset); err != nil {
		return nil, err
	}
	if !or.merchants.IsActive(merchant) {
		return nil, fmt.Errorf("%w: %s", entities.ErrMerchantNotFound, merchant)
	}

	now := or.now().UTC()
	if !params.ExpiresAt.IsZero() && !params.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry %s is in the past", entities.ErrInvalidAmount, params.ExpiresAt)
	}

	order := &entities.Order{
		ID:              params.ID,
		Hash:            entities.OrderHash(params.ID),
		Merchant:        merchant,
		DesignatedPayer: params.DesignatedPayer,
		Amount:          params.Amount,
		PaymentAsset:    params.PaymentAsset,
		SettlementAsset: params.SettlementAsset,
		PaidAmount:      decimal.Zero,
		ReceivedAmount:  decimal.Zero,
		RateUsed:        decimal.Zero,
		PlatformFee:     decimal.Zero,
		MerchantFee:     decimal.Zero,
		AllowPartial:    params.AllowPartial,
		MetadataRef:     params.MetadataRef,
		CreatedAt:       now,
		ExpiresAt:       params.ExpiresAt,
		Status:          entities.OrderStatusPending,
	}

	or.mu.Lock()
	if _, exists := or.byID[params.ID]; exists {
		or.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", entities.ErrDuplicateOrder, params.ID)
	}
	or.byID[order.ID] = order
	or.byHash[order.Hash] = order
	cp := *order
	or.mu.Unlock()

	or.bus.Publish(events.TypeOrderCreated, events.OrderCreated{
		OrderID:         order.ID,
		Hash:            order.Hash.Hex(),
		Merchant:        order.Merchant,
		DesignatedPayer: order.DesignatedPayer,
		Amount:          order.Amount,
		PaymentAsset:    order.PaymentAsset,
		SettlementAsset: order.SettlementAsset,
		MetadataRef:     order.MetadataRef,
	})

	or.logger.Info("order created",
		"order_id", order.ID,
		"merchant", merchant,
		"amount", order.Amount.String(),
		"payment_asset", order.PaymentAsset,
		"settlement_asset", order.SettlementAsset)
	return &cp, nil
}

// ProcessPayment pulls payment from the payer, converts it into the
// settlement asset, splits fees, routes the donation and credits the
// merchant. minSettlementOut is the payer's slippage floor from an earlier
// quote; zero disables the guard.
//
// Every failure before the state update leaves the order exactly as it was.
// The one deliberate exception is the donation: it is a best-effort side
// effect, and its failure is reported on the receipt rather than rolled back.
func (or *OrderRegistry) ProcessPayment(ctx context.Context, payer, orderID string, amount, minSettlementOut decimal.Decimal) (*entities.PaymentReceipt, error) {
	or.mu.Lock()
	order, ok := or.byID[orderID]
	if !ok {
		or.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", entities.ErrOrderNotFound, orderID)
	}
	if !order.Status.Payable() {
		or.mu.Unlock()
		return nil, fmt.Errorf("%w: status %s", entities.ErrNotPending, order.Status)
	}
	if order.DesignatedPayer != "" && payer != order.DesignatedPayer {
		or.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", entities.ErrUnauthorizedPayer, payer)
	}
	if order.PastExpiry(or.now()) {
		or.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", entities.ErrExpired, orderID)
	}

	remaining := order.Remaining()
	if !amount.IsPositive() {
		or.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", entities.ErrInvalidAmount, amount)
	}
	if !order.AllowPartial && !amount.Equal(remaining) {
		or.mu.Unlock()
		return nil, fmt.Errorf("%w: %s, expected exactly %s", entities.ErrAmountMismatch, amount, remaining)
	}
	if amount.GreaterThan(remaining) {
		or.mu.Unlock()
		return nil, fmt.Errorf("%w: %s exceeds remaining %s", entities.ErrAmountMismatch, amount, remaining)
	}

	prevStatus := order.Status
	order.Status = entities.OrderStatusProcessing

	merchant := order.Merchant
	paymentAssetSym := order.PaymentAsset
	settlementAssetSym := order.SettlementAsset
	or.mu.Unlock()

	restore := func() {
		or.mu.Lock()
		order.Status = prevStatus
		or.mu.Unlock()
	}

	paymentAsset, err := or.assets.Get(paymentAssetSym)
	if err != nil {
		restore()
		return nil, err
	}
	settlementAsset, err := or.assets.Get(settlementAssetSym)
	if err != nil {
		restore()
		return nil, err
	}

	merchantBps, err := or.merchants.FeeRate(merchant)
	if err != nil {
		restore()
		return nil, err
	}

	// Convert the gross received amount first, then apply fees in the
	// settlement asset, so all fee accounting happens in one unit. Both
	// steps are pure: a consensus or slippage failure aborts before any
	// funds move.
	gross := amount
	rate := decimal.NewFromInt(1)
	if paymentAssetSym != settlementAssetSym {
		gross, rate, err = or.fx.Convert(amount, paymentAsset, settlementAsset, minSettlementOut)
		if err != nil {
			restore()
			return nil, err
		}
	}

	stablePair := or.assets.StablePair(paymentAssetSym, settlementAssetSym)
	split, err := or.fees.Compute(gross, merchantBps, stablePair, settlementAsset.Decimals)
	if err != nil {
		restore()
		return nil, err
	}

	// The inbound pull is the first external effect. Insufficient balance or
	// allowance aborts the whole call with no state change.
	if err := or.token.TransferFrom(ctx, paymentAsset, payer, or.treasury, amount); err != nil {
		restore()
		return nil, fmt.Errorf("%w: %w", entities.ErrTokenTransferFailed, err)
	}

	donated := decimal.Zero
	donationOK := true
	if d, err := or.donations.Route(ctx, ports.OrderRegistryCallerID, payer, settlementAsset, split.PlatformFee); err != nil {
		donationOK = false
		or.logger.Error("donation routing failed, payment continues",
			"order_id", orderID, "error", err)
	} else {
		donated = d
	}

	now := or.now().UTC()

	or.mu.Lock()
	order.PaidAmount = order.PaidAmount.Add(amount)
	order.ReceivedAmount = order.ReceivedAmount.Add(split.Net)
	order.PlatformFee = order.PlatformFee.Add(split.PlatformFee)
	order.MerchantFee = order.MerchantFee.Add(split.MerchantFee)
	order.RateUsed = rate
	if order.PaidAmount.GreaterThanOrEqual(order.Amount) {
		order.Status = entities.OrderStatusCompleted
	} else {
		order.Status = entities.OrderStatusPaid
	}
	finalStatus := order.Status
	receivedTotal := order.ReceivedAmount
	platformTotal := order.PlatformFee
	or.mu.Unlock()

	if err := or.merchants.Credit(merchant, settlementAssetSym, split.Net); err != nil {
		// Funds are already in the treasury; this indicates a registry
		// inconsistency, not a payer error.
		or.logger.Error("merchant credit failed after settlement",
			"order_id", orderID, "merchant", merchant, "error", err)
	}

	or.bus.Publish(events.TypePaymentReceived, events.PaymentReceived{
		OrderID: orderID,
		Payer:   payer,
		Amount:  amount,
		Asset:   paymentAssetSym,
	})
	if finalStatus == entities.OrderStatusCompleted {
		or.bus.Publish(events.TypeOrderCompleted, events.OrderCompleted{
			OrderID:        orderID,
			Merchant:       merchant,
			ReceivedAmount: receivedTotal,
			PlatformFee:    platformTotal,
		})
	}

	or.logger.Info("payment processed",
		"order_id", orderID,
		"payer", payer,
		"amount", amount.String(),
		"gross", gross.String(),
		"net", split.Net.String(),
		"status", finalStatus)

	return &entities.PaymentReceipt{
		ID:               uuid.NewString(),
		OrderID:          orderID,
		Payer:            payer,
		PaymentAmount:    amount,
		SettlementAmount: gross,
		NetAmount:        split.Net,
		PlatformFee:      split.PlatformFee,
		MerchantFee:      split.MerchantFee,
		RateUsed:         rate,
		DonatedAmount:    donated,
		DonationOK:       donationOK,
		Status:           finalStatus,
		PaidAt:           now,
	}, nil
}

// Cancel transitions a PENDING order to CANCELLED. Only the order's merchant
// may cancel; partially paid and terminal orders cannot be cancelled.
func (or *OrderRegistry) Cancel(ctx context.Context, caller, orderID string) error {
	or.mu.Lock()
	order, ok := or.byID[orderID]
	if !ok {
		or.mu.Unlock()
		return fmt.Errorf("%w: %s", entities.ErrOrderNotFound, orderID)
	}
	if caller != order.Merchant {
		or.mu.Unlock()
		return entities.ErrUnauthorized
	}
	if order.Status != entities.OrderStatusPending {
		or.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", entities.ErrInvalidTransition, order.Status, entities.OrderStatusCancelled)
	}
	order.Status = entities.OrderStatusCancelled
	merchant := order.Merchant
	or.mu.Unlock()

	or.bus.Publish(events.TypeOrderCancelled, events.OrderCancelled{OrderID: orderID, Merchant: merchant})
	or.logger.Info("order cancelled", "order_id", orderID)
	return nil
}

// ExpireSweep stamps a PENDING order past its expiry as EXPIRED. Idempotent:
// terminal orders and orders without a reached expiry are a no-op.
func (or *OrderRegistry) ExpireSweep(ctx context.Context, orderID string) error {
	or.mu.Lock()
	order, ok := or.byID[orderID]
	if !ok {
		or.mu.Unlock()
		return fmt.Errorf("%w: %s", entities.ErrOrderNotFound, orderID)
	}
	if order.Status != entities.OrderStatusPending || !order.PastExpiry(or.now()) {
		or.mu.Unlock()
		return nil
	}
	order.Status = entities.OrderStatusExpired
	merchant := order.Merchant
	or.mu.Unlock()

	or.bus.Publish(events.TypeOrderExpired, events.OrderExpired{OrderID: orderID, Merchant: merchant})
	or.logger.Info("order expired", "order_id", orderID)
	return nil
}

// SweepExpired runs ExpireSweep across all pending orders past expiry and
// returns how many were stamped.
func (or *OrderRegistry) SweepExpired(ctx context.Context) (int, error) {
	now := or.now()

	or.mu.Lock()
	var due []string
	for id, order := range or.byID {
		if order.Status == entities.OrderStatusPending && order.PastExpiry(now) {
			due = append(due, id)
		}
	}
	or.mu.Unlock()

	for _, id := range due {
		if err := or.ExpireSweep(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}

// GetOrder returns the order with the given string id.
func (or *OrderRegistry) GetOrder(orderID string) (*entities.Order, error) {
	or.mu.Lock()
	defer or.mu.Unlock()

	order, ok := or.byID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrOrderNotFound, orderID)
	}
	cp := *order
	return &cp, nil
}

// GetOrderByHash returns the order with the given canonical key.
func (or *OrderRegistry) GetOrderByHash(hash common.Hash) (*entities.Order, error) {
	or.mu.Lock()
	defer or.mu.Unlock()

	order, ok := or.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrOrderNotFound, hash.Hex())
	}
	cp := *order
	return &cp, nil
}
