package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/aetherpay/aetherpay-backend/internal/entities"
	"github.com/aetherpay/aetherpay-backend/internal/events"
	"github.com/aetherpay/aetherpay-backend/pkg/database"
)

// ContributionsMirror keeps the Postgres copy of contributor totals and the
// append-only donation log.
type ContributionsMirror struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewContributionsMirror(logger *slog.Logger, pg *database.Postgres) *ContributionsMirror {
	return &ContributionsMirror{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
	}
}

// ContributionRow is the mirror's projection of a contributor record.
type ContributionRow struct {
	Contributor        string     `db:"contributor"`
	Total              string     `db:"total"`
	Badge              string     `db:"badge"`
	LastContributionAt *time.Time `db:"last_contribution_at"`
}

// UpsertContribution writes the contributor's current lifetime snapshot.
func (r *ContributionsMirror) UpsertContribution(ctx context.Context, rec *entities.ContributionRecord) error {
	query := `INSERT INTO contributions (contributor, total, badge, last_contribution_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contributor) DO UPDATE SET
		 total = EXCLUDED.total,
		 badge = EXCLUDED.badge,
		 last_contribution_at = EXCLUDED.last_contribution_at`

	_, err := r.db(ctx).Exec(ctx, query,
		rec.Contributor, rec.Total.String(), string(rec.Badge), nullableTime(rec.LastContributionAt))
	if err != nil {
		return fmt.Errorf("failed to upsert contribution for %s: %w", rec.Contributor, err)
	}
	return nil
}

// RecordDonation appends one donation to the log.
func (r *ContributionsMirror) RecordDonation(ctx context.Context, donation events.DonationReceived) error {
	_, err := r.db(ctx).Exec(ctx,
		"INSERT INTO donations (contributor, asset, amount, created_at) VALUES ($1, $2, $3, $4)",
		donation.Contributor, donation.Asset, donation.Amount.String(), donation.At)
	if err != nil {
		return fmt.Errorf("failed to record donation from %s: %w", donation.Contributor, err)
	}
	return nil
}

// SyncDonation writes the donation row and the refreshed contributor snapshot
// in one transaction.
func (r *ContributionsMirror) SyncDonation(ctx context.Context, rec *entities.ContributionRecord, donation events.DonationReceived) error {
	return r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.RecordDonation(ctx, donation); err != nil {
			return err
		}
		return r.UpsertContribution(ctx, rec)
	})
}

// FindContribution returns one contributor's mirrored record.
func (r *ContributionsMirror) FindContribution(ctx context.Context, contributor string) (*ContributionRow, error) {
	rows, err := r.db(ctx).Query(ctx,
		"SELECT contributor, total::text AS total, badge, last_contribution_at FROM contributions WHERE contributor = $1",
		contributor)
	if err != nil {
		return nil, err
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[ContributionRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entities.ErrContributorNotFound, contributor)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// TopContributors returns the largest lifetime contributors first.
func (r *ContributionsMirror) TopContributors(ctx context.Context, limit int) ([]ContributionRow, error) {
	rows, err := r.db(ctx).Query(ctx,
		"SELECT contributor, total::text AS total, badge, last_contribution_at FROM contributions ORDER BY total DESC LIMIT $1",
		limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	result, err := pgx.CollectRows(rows, pgx.RowToStructByName[ContributionRow])
	if err != nil {
		r.logger.Error("failed to collect contribution rows", "error", err)
		return nil, err
	}
	return result, nil
}
