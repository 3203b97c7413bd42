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
	"github.com/aetherpay/aetherpay-backend/internal/events"
)

// BadgeThresholds are the lifetime-contribution floors for each tier.
type BadgeThresholds struct {
	Bronze decimal.Decimal
	Silver decimal.Decimal
	Gold   decimal.Decimal
}

// DonationRouter forwards a fixed share of the platform fee to the
// public-goods pool and tracks per-contributor totals and badge tiers.
// Only allow-listed settlement components may route donations.
type DonationRouter struct {
	logger *slog.Logger
	token  ports.TokenCapability
	bus    *events.Bus
	admin  string
	now    func() time.Time

	donationBps int64
	pool        string
	thresholds  BadgeThresholds
	authorized  map[string]struct{}

	mu      sync.Mutex
	records map[string]*entities.ContributionRecord
}

func NewDonationRouter(
	logger *slog.Logger,
	token ports.TokenCapability,
	bus *events.Bus,
	admin string,
	donationBps int64,
	pool string,
	thresholds BadgeThresholds,
	authorizedCallers []string,
) *DonationRouter {
	authorized := make(map[string]struct{}, len(authorizedCallers))
	for _, id := range authorizedCallers {
		authorized[id] = struct{}{}
	}

	return &DonationRouter{
		logger:      logger,
		token:       token,
		bus:         bus,
		admin:       admin,
		now:         time.Now,
		donationBps: donationBps,
		pool:        pool,
		thresholds:  thresholds,
		authorized:  authorized,
		records:     make(map[string]*entities.ContributionRecord),
	}
}

// Route forwards the donation share of platformFee to the public-goods pool
// and credits the contributor's lifetime total. The transfer happens before
// any record mutation; a failed transfer leaves the record untouched.
func (dr *DonationRouter) Route(ctx context.Context, callerID, contributor string, asset entities.Asset, platformFee decimal.Decimal) (decimal.Decimal, error) {
	if _, ok := dr.authorized[callerID]; !ok {
		return decimal.Zero, fmt.Errorf("%w: caller %q", entities.ErrUnauthorized, callerID)
	}
	if platformFee.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: platform fee %s", entities.ErrInvalidAmount, platformFee)
	}

	dr.mu.Lock()
	bps := dr.donationBps
	dr.mu.Unlock()

	donated := platformFee.
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(ports.BpsDenominator)).
		Truncate(asset.Decimals)
	if !donated.IsPositive() {
		return decimal.Zero, nil
	}

	if err := dr.token.Transfer(ctx, asset, dr.pool, donated); err != nil {
		return decimal.Zero, fmt.Errorf("%w: donation to pool: %w", entities.ErrTokenTransferFailed, err)
	}

	now := dr.now().UTC()

	dr.mu.Lock()
	rec, ok := dr.records[contributor]
	if !ok {
		rec = &entities.ContributionRecord{Contributor: contributor, Total: decimal.Zero, Badge: entities.BadgeNone}
		dr.records[contributor] = rec
	}
	rec.Total = rec.Total.Add(donated)
	rec.LastContributionAt = now
	rec.Badge = dr.badgeFor(rec.Total)
	badge := rec.Badge
	dr.mu.Unlock()

	dr.bus.Publish(events.TypeDonationProcessed, events.DonationProcessed{
		Recipient: dr.pool,
		Amount:    donated,
	})
	dr.bus.Publish(events.TypeDonationReceived, events.DonationReceived{
		Contributor: contributor,
		Asset:       asset.Symbol,
		Amount:      donated,
		At:          now,
	})

	dr.logger.Info("donation routed",
		"contributor", contributor,
		"asset", asset.Symbol,
		"amount", donated.String(),
		"badge", badge)
	return donated, nil
}

// GetContributor returns a contributor's lifetime record.
func (dr *DonationRouter) GetContributor(address string) (*entities.ContributionRecord, error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	rec, ok := dr.records[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrContributorNotFound, address)
	}
	cp := *rec
	return &cp, nil
}

// SetDonationBps updates the donated share of the platform fee. Admin-only.
func (dr *DonationRouter) SetDonationBps(caller string, bps int64) error {
	if caller != dr.admin {
		return entities.ErrUnauthorized
	}
	if bps < 0 || bps > ports.BpsDenominator {
		return fmt.Errorf("%w: donation %d bps", entities.ErrInvalidAmount, bps)
	}
	dr.mu.Lock()
	dr.donationBps = bps
	dr.mu.Unlock()
	return nil
}

func (dr *DonationRouter) badgeFor(total decimal.Decimal) entities.BadgeTier {
	switch {
	case total.GreaterThanOrEqual(dr.thresholds.Gold):
		return entities.BadgeGold
	case total.GreaterThanOrEqual(dr.thresholds.Silver):
		return entities.BadgeSilver
	case total.GreaterThanOrEqual(dr.thresholds.Bronze):
		return entities.BadgeBronze
	default:
		return entities.BadgeNone
	}
}
