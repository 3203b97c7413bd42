package usecases

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/core/ports"
	"github.com/aetherpay/aetherpay-backend/internal/entities"
)

// FXSettlement converts an amount from a payment asset to a settlement asset
// using the trusted consensus rate for the pair. The conversion is a single
// configured hop, never a routed path.
type FXSettlement struct {
	logger         *slog.Logger
	rates          ports.RateSource
	fees           *FeeEngine
	maxSlippageBps int64
}

func NewFXSettlement(logger *slog.Logger, rates ports.RateSource, fees *FeeEngine, maxSlippageBps int64) *FXSettlement {
	return &FXSettlement{
		logger:         logger,
		rates:          rates,
		fees:           fees,
		maxSlippageBps: maxSlippageBps,
	}
}

// Quote is a settlement preview at the current trusted rate. MinOut is the
// slippage floor the payer should pass to the payment call: anything below it
// at execution time aborts the payment.
type Quote struct {
	Rate   decimal.Decimal `json:"rate"`
	Out    decimal.Decimal `json:"out"`
	MinOut decimal.Decimal `json:"min_out"`
}

// GetQuote previews the conversion of amount from one asset into another.
func (fx *FXSettlement) GetQuote(amount decimal.Decimal, from, to entities.Asset) (*Quote, error) {
	out, rate, err := fx.Convert(amount, from, to, decimal.Zero)
	if err != nil {
		return nil, err
	}

	minOut := out.
		Mul(decimal.NewFromInt(ports.BpsDenominator - fx.maxSlippageBps)).
		Div(decimal.NewFromInt(ports.BpsDenominator)).
		Truncate(conversionPrecision(from, to))

	return &Quote{Rate: rate, Out: out, MinOut: minOut}, nil
}

// Convert converts amount at the trusted rate, truncating at the precision of
// the lower-decimals asset. A positive minOut is the payer-supplied slippage
// floor; output below it fails with SlippageExceeded and no funds move.
func (fx *FXSettlement) Convert(amount decimal.Decimal, from, to entities.Asset, minOut decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", entities.ErrInvalidAmount, amount)
	}
	if err := fx.fees.CheckMagnitude(amount); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	tr, err := fx.rates.GetRate(entities.PairKey(from.Symbol, to.Symbol))
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	out := amount.Mul(tr.Rate).Truncate(conversionPrecision(from, to))
	if err := fx.fees.CheckMagnitude(out); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	if minOut.IsPositive() && out.LessThan(minOut) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: out %s < min %s", entities.ErrSlippageExceeded, out, minOut)
	}

	return out, tr.Rate, nil
}

func conversionPrecision(from, to entities.Asset) int32 {
	if from.Decimals < to.Decimals {
		return from.Decimals
	}
	return to.Decimals
}
