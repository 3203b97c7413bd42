package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/entities"
)

// TokenCapability is the fixed external token collaborator. The engine never
// reimplements token accounting; insufficient balance or allowance is a hard
// failure of the enclosing call.
type TokenCapability interface {
	// TransferFrom pulls amount of asset from owner to recipient using the
	// allowance granted to the engine.
	TransferFrom(ctx context.Context, asset entities.Asset, owner, recipient string, amount decimal.Decimal) error

	// Transfer moves amount of asset out of the platform treasury.
	Transfer(ctx context.Context, asset entities.Asset, recipient string, amount decimal.Decimal) error

	BalanceOf(ctx context.Context, asset entities.Asset, owner string) (decimal.Decimal, error)

	Allowance(ctx context.Context, asset entities.Asset, owner, spender string) (decimal.Decimal, error)
}

// RateSource is the read path FXSettlement uses against the consensus engine.
type RateSource interface {
	GetRate(pair string) (*entities.TrustedRate, error)
}
