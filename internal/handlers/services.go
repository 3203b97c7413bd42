package handlers

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/entities"
	"github.com/aetherpay/aetherpay-backend/internal/usecases"
	"github.com/aetherpay/aetherpay-backend/internal/usecases/repository"
)

type OrderService interface {
	CreateOrder(ctx context.Context, merchant string, params usecases.CreateOrderParams) (*entities.Order, error)
	ProcessPayment(ctx context.Context, payer, orderID string, amount, minSettlementOut decimal.Decimal) (*entities.PaymentReceipt, error)
	Cancel(ctx context.Context, caller, orderID string) error
	GetOrder(orderID string) (*entities.Order, error)
	GetOrderByHash(hash common.Hash) (*entities.Order, error)
	SweepExpired(ctx context.Context) (int, error)
}

type MerchantService interface {
	Register(caller, name string) (*entities.MerchantView, error)
	Withdraw(ctx context.Context, caller, assetSymbol string, amount decimal.Decimal) error
	SetFeeRate(caller, merchant string, bps int64) error
	GetInfo(merchant string) (*entities.MerchantView, error)
}

type OracleService interface {
	AddNode(caller, address string) error
	RemoveNode(caller, address string) error
	SetParams(caller string, params usecases.ConsensusParams) error
	SubmitRate(node, pair string, rate decimal.Decimal, at time.Time) error
	GetRate(pair string) (*entities.TrustedRate, error)
	GetNode(address string) (*entities.OracleNode, error)
	ActiveNodes() []string
}

type QuoteService interface {
	GetQuote(amount decimal.Decimal, from, to entities.Asset) (*usecases.Quote, error)
}

type AssetService interface {
	Add(caller, symbol, contract string, decimals int32, class entities.AssetClass) error
	Remove(caller, symbol string) error
	Get(symbol string) (entities.Asset, error)
	List() []entities.Asset
}

type DonationService interface {
	GetContributor(address string) (*entities.ContributionRecord, error)
	SetDonationBps(caller string, bps int64) error
}

// OrderHistory serves list queries from the Postgres mirror. Nil when the
// mirror is disabled.
type OrderHistory interface {
	ListOrders(ctx context.Context, filter repository.OrdersFilter) ([]repository.OrderRow, error)
}

// ContributionHistory serves contributor rankings from the Postgres mirror.
type ContributionHistory interface {
	TopContributors(ctx context.Context, limit int) ([]repository.ContributionRow, error)
}
