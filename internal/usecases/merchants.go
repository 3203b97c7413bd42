package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/core/ports"
	"github.com/aetherpay/aetherpay-backend/internal/entities"
)

// MerchantRegistry exclusively owns merchant balance mutation. Registration is
// idempotent: registering twice returns the existing record unchanged.
type MerchantRegistry struct {
	logger *slog.Logger
	token  ports.TokenCapability
	assets *AssetRegistry
	admin  string

	defaultFeeBps int64

	mu        sync.Mutex
	merchants map[string]*entities.Merchant
}

func NewMerchantRegistry(logger *slog.Logger, token ports.TokenCapability, assets *AssetRegistry, admin string, defaultFeeBps int64) *MerchantRegistry {
	return &MerchantRegistry{
		logger:        logger,
		token:         token,
		assets:        assets,
		admin:         admin,
		defaultFeeBps: defaultFeeBps,
		merchants:     make(map[string]*entities.Merchant),
	}
}

// Register creates a merchant for the caller address with the default fee
// rate. Calling it again is a no-op returning the existing record.
func (mr *MerchantRegistry) Register(caller, name string) (*entities.MerchantView, error) {
	if caller == "" {
		return nil, fmt.Errorf("%w: empty merchant address", entities.ErrUnauthorized)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if m, ok := mr.merchants[caller]; ok {
		view := mr.viewLocked(m)
		return &view, nil
	}

	m := &entities.Merchant{
		Address:      caller,
		Name:         name,
		Volume:       decimal.Zero,
		Balances:     make(map[string]decimal.Decimal),
		FeeRateBps:   mr.defaultFeeBps,
		Active:       true,
		RegisteredAt: time.Now().UTC(),
	}
	mr.merchants[caller] = m
	mr.logger.Info("merchant registered", "merchant", caller, "name", name, "fee_bps", m.FeeRateBps)

	view := mr.viewLocked(m)
	return &view, nil
}

// Credit adds a completed order's net amount to the merchant's pending
// balance. Internal to the settlement path, called only by the order registry.
func (mr *MerchantRegistry) Credit(merchant, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit %s", entities.ErrInvalidAmount, amount)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, ok := mr.merchants[merchant]
	if !ok {
		return fmt.Errorf("%w: %s", entities.ErrMerchantNotFound, merchant)
	}

	m.Balances[asset] = m.Balances[asset].Add(amount)
	m.Volume = m.Volume.Add(amount)
	m.OrderCount++
	return nil
}

// Withdraw pays out part of the merchant's pending balance through the token
// capability. The amount is reserved (decremented) under the lock before the
// transfer, so two concurrent withdrawals cannot both pass the balance check;
// a failed transfer restores the reservation.
func (mr *MerchantRegistry) Withdraw(ctx context.Context, caller, assetSymbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdraw %s", entities.ErrInvalidAmount, amount)
	}

	asset, err := mr.assets.Get(assetSymbol)
	if err != nil {
		return err
	}

	mr.mu.Lock()
	m, ok := mr.merchants[caller]
	if !ok {
		mr.mu.Unlock()
		return fmt.Errorf("%w: %s", entities.ErrMerchantNotFound, caller)
	}
	if m.Balances[assetSymbol].LessThan(amount) {
		mr.mu.Unlock()
		return fmt.Errorf("%w: %s < %s %s", entities.ErrInsufficientBalance, m.Balances[assetSymbol], amount, assetSymbol)
	}
	m.Balances[assetSymbol] = m.Balances[assetSymbol].Sub(amount)
	mr.mu.Unlock()

	if err := mr.token.Transfer(ctx, asset, caller, amount); err != nil {
		mr.mu.Lock()
		m.Balances[assetSymbol] = m.Balances[assetSymbol].Add(amount)
		mr.mu.Unlock()
		return fmt.Errorf("%w: withdrawal: %w", entities.ErrTokenTransferFailed, err)
	}

	mr.logger.Info("merchant withdrawal", "merchant", caller, "asset", assetSymbol, "amount", amount.String())
	return nil
}

// SetFeeRate overrides a merchant's personal fee rate. Admin-only.
func (mr *MerchantRegistry) SetFeeRate(caller, merchant string, bps int64) error {
	if caller != mr.admin {
		return entities.ErrUnauthorized
	}
	if bps < 0 || bps > ports.BpsDenominator {
		return fmt.Errorf("%w: fee %d bps", entities.ErrInvalidAmount, bps)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, ok := mr.merchants[merchant]
	if !ok {
		return fmt.Errorf("%w: %s", entities.ErrMerchantNotFound, merchant)
	}
	m.FeeRateBps = bps
	mr.logger.Info("merchant fee rate set", "merchant", merchant, "fee_bps", bps)
	return nil
}

// FeeRate returns the merchant's effective fee rate in basis points.
func (mr *MerchantRegistry) FeeRate(merchant string) (int64, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, ok := mr.merchants[merchant]
	if !ok {
		return 0, fmt.Errorf("%w: %s", entities.ErrMerchantNotFound, merchant)
	}
	return m.FeeRateBps, nil
}

// IsActive reports whether the merchant exists and is active.
func (mr *MerchantRegistry) IsActive(merchant string) bool {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, ok := mr.merchants[merchant]
	return ok && m.Active
}

// GetInfo returns the merchant's read-only view.
func (mr *MerchantRegistry) GetInfo(merchant string) (*entities.MerchantView, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, ok := mr.merchants[merchant]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrMerchantNotFound, merchant)
	}
	view := mr.viewLocked(m)
	return &view, nil
}

func (mr *MerchantRegistry) viewLocked(m *entities.Merchant) entities.MerchantView {
	balances := make(map[string]decimal.Decimal, len(m.Balances))
	for k, v := range m.Balances {
		balances[k] = v
	}
	return entities.MerchantView{
		Address:      m.Address,
		Name:         m.Name,
		OrderCount:   m.OrderCount,
		Volume:       m.Volume,
		Balances:     balances,
		FeeRateBps:   m.FeeRateBps,
		Active:       m.Active,
		RegisteredAt: m.RegisteredAt,
	}
}
