package usecases

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/core/ports"
	"github.com/aetherpay/aetherpay-backend/internal/entities"
)

// FeeSplit is the exact decomposition of a gross settlement amount.
// PlatformFee + MerchantFee + Net always equals the gross input.
type FeeSplit struct {
	PlatformFee decimal.Decimal
	MerchantFee decimal.Decimal
	Net         decimal.Decimal
}

// FeeEngine computes the platform/merchant fee split. Rates are basis points;
// the preferential platform rate applies when both order assets are
// stable-class.
type FeeEngine struct {
	platformBps int64
	stableBps   int64
	maxAmount   decimal.Decimal
}

func NewFeeEngine(platformBps, stableBps int64, maxAmount decimal.Decimal) *FeeEngine {
	return &FeeEngine{
		platformBps: platformBps,
		stableBps:   stableBps,
		maxAmount:   maxAmount,
	}
}

// Compute splits gross into platform fee, merchant fee and merchant net.
// Fees are truncated at the settlement asset's precision so the net absorbs
// the sub-unit remainder and the split stays exact.
func (fe *FeeEngine) Compute(gross decimal.Decimal, merchantFeeBps int64, stablePair bool, decimals int32) (FeeSplit, error) {
	if gross.IsNegative() || gross.IsZero() {
		return FeeSplit{}, fmt.Errorf("%w: gross %s", entities.ErrInvalidAmount, gross)
	}
	if err := fe.CheckMagnitude(gross); err != nil {
		return FeeSplit{}, err
	}
	if merchantFeeBps < 0 || merchantFeeBps > ports.BpsDenominator {
		return FeeSplit{}, fmt.Errorf("%w: merchant fee %d bps", entities.ErrInvalidAmount, merchantFeeBps)
	}

	platformBps := fe.platformBps
	if stablePair {
		platformBps = fe.stableBps
	}

	platformFee := applyBps(gross, platformBps, decimals)
	merchantFee := applyBps(gross, merchantFeeBps, decimals)

	net := gross.Sub(platformFee).Sub(merchantFee)
	if net.IsNegative() {
		return FeeSplit{}, fmt.Errorf("%w: fees exceed gross amount", entities.ErrInvalidAmount)
	}

	return FeeSplit{PlatformFee: platformFee, MerchantFee: merchantFee, Net: net}, nil
}

// CheckMagnitude rejects amounts beyond the configured bound. Decimal values
// cannot wrap, but anything above the bound would overflow the int256 token
// base units and the mirror's numeric columns downstream.
func (fe *FeeEngine) CheckMagnitude(amount decimal.Decimal) error {
	if amount.Abs().GreaterThan(fe.maxAmount) {
		return fmt.Errorf("%w: |%s| exceeds %s", entities.ErrArithmeticOverflow, amount, fe.maxAmount)
	}
	return nil
}

func applyBps(amount decimal.Decimal, bps int64, decimals int32) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(ports.BpsDenominator)).Truncate(decimals)
}
