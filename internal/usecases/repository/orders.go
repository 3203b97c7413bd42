package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/aetherpay/aetherpay-backend/internal/entities"
	"github.com/aetherpay/aetherpay-backend/internal/events"
	"github.com/aetherpay/aetherpay-backend/pkg/database"
)

// OrdersMirror maintains the queryable Postgres copy of the order book. The
// in-memory registry stays the source of truth; rows here are refreshed from
// engine events and serve the read API and offline reporting.
type OrdersMirror struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
	builder    squirrel.StatementBuilderType
}

func NewOrdersMirror(logger *slog.Logger, pg *database.Postgres) *OrdersMirror {
	return &OrdersMirror{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
		builder:    pg.Builder,
	}
}

// OrderRow is the mirror's projection of an order.
type OrderRow struct {
	ID              string     `db:"id"`
	Hash            string     `db:"hash"`
	Merchant        string     `db:"merchant"`
	DesignatedPayer string     `db:"designated_payer"`
	Amount          string     `db:"amount"`
	PaymentAsset    string     `db:"payment_asset"`
	SettlementAsset string     `db:"settlement_asset"`
	PaidAmount      string     `db:"paid_amount"`
	ReceivedAmount  string     `db:"received_amount"`
	RateUsed        string     `db:"rate_used"`
	PlatformFee     string     `db:"platform_fee"`
	MerchantFee     string     `db:"merchant_fee"`
	AllowPartial    bool       `db:"allow_partial"`
	MetadataRef     string     `db:"metadata_ref"`
	Status          string     `db:"status"`
	CreatedAt       time.Time  `db:"created_at"`
	ExpiresAt       *time.Time `db:"expires_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

const orderColumns = `id, hash, merchant, designated_payer, amount::text AS amount,
	payment_asset, settlement_asset, paid_amount::text AS paid_amount,
	received_amount::text AS received_amount, rate_used::text AS rate_used,
	platform_fee::text AS platform_fee, merchant_fee::text AS merchant_fee,
	allow_partial, metadata_ref, status, created_at, expires_at, updated_at`

// UpsertOrder writes the full current snapshot of an order.
func (r *OrdersMirror) UpsertOrder(ctx context.Context, order *entities.Order) error {
	query := `INSERT INTO orders
		(id, hash, merchant, designated_payer, amount, payment_asset, settlement_asset,
		 paid_amount, received_amount, rate_used, platform_fee, merchant_fee,
		 allow_partial, metadata_ref, status, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		ON CONFLICT (id) DO UPDATE SET
		 paid_amount = EXCLUDED.paid_amount,
		 received_amount = EXCLUDED.received_amount,
		 rate_used = EXCLUDED.rate_used,
		 platform_fee = EXCLUDED.platform_fee,
		 merchant_fee = EXCLUDED.merchant_fee,
		 status = EXCLUDED.status,
		 updated_at = NOW()`

	_, err := r.db(ctx).Exec(ctx, query,
		order.ID,
		order.Hash.Hex(),
		order.Merchant,
		order.DesignatedPayer,
		order.Amount.String(),
		order.PaymentAsset,
		order.SettlementAsset,
		order.PaidAmount.String(),
		order.ReceivedAmount.String(),
		order.RateUsed.String(),
		order.PlatformFee.String(),
		order.MerchantFee.String(),
		order.AllowPartial,
		order.MetadataRef,
		string(order.Status),
		order.CreatedAt,
		nullableTime(order.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", order.ID, err)
	}
	return nil
}

// RecordPayment appends a payment row for an order.
func (r *OrdersMirror) RecordPayment(ctx context.Context, payment events.PaymentReceived, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"INSERT INTO payments (order_id, payer, amount, asset, created_at) VALUES ($1, $2, $3, $4, $5)",
		payment.OrderID, payment.Payer, payment.Amount.String(), payment.Asset, at)
	if err != nil {
		return fmt.Errorf("failed to record payment for order %s: %w", payment.OrderID, err)
	}
	return nil
}

// SyncPayment writes the payment row and the refreshed order snapshot in one
// transaction, so the mirror never shows a payment against a stale order.
func (r *OrdersMirror) SyncPayment(ctx context.Context, order *entities.Order, payment events.PaymentReceived, at time.Time) error {
	return r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.RecordPayment(ctx, payment, at); err != nil {
			return err
		}
		return r.UpsertOrder(ctx, order)
	})
}

// FindOrder returns one mirrored order by id.
func (r *OrdersMirror) FindOrder(ctx context.Context, orderID string) (*OrderRow, error) {
	rows, err := r.db(ctx).Query(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID)
	if err != nil {
		return nil, err
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[OrderRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entities.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// OrdersFilter narrows ListOrders; zero values mean "any".
type OrdersFilter struct {
	Merchant string
	Status   string
	Limit    uint64
}

// ListOrders returns mirrored orders, newest first.
func (r *OrdersMirror) ListOrders(ctx context.Context, filter OrdersFilter) ([]OrderRow, error) {
	qb := r.builder.
		Select(orderColumns).
		From("orders").
		OrderBy("created_at DESC")

	if filter.Merchant != "" {
		qb = qb.Where(squirrel.Eq{"merchant": filter.Merchant})
	}
	if filter.Status != "" {
		qb = qb.Where(squirrel.Eq{"status": filter.Status})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(filter.Limit)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build orders query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	result, err := pgx.CollectRows(rows, pgx.RowToStructByName[OrderRow])
	if err != nil {
		r.logger.Error("failed to collect order rows", "error", err)
		return nil, err
	}
	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
