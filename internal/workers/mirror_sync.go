package workers

import (
	"context"
	"log/slog"

	"github.com/aetherpay/aetherpay-backend/internal/events"
	"github.com/aetherpay/aetherpay-backend/internal/handlers"
	"github.com/aetherpay/aetherpay-backend/internal/usecases/repository"
)

// MirrorSync projects engine events into the Postgres mirror. The engine
// never waits for the database: this worker consumes the event bus and
// re-reads the current snapshot for each touched order or contributor.
type MirrorSync struct {
	logger    *slog.Logger
	bus       *events.Bus
	orders    handlers.OrderService
	donations handlers.DonationService

	ordersMirror        *repository.OrdersMirror
	contributionsMirror *repository.ContributionsMirror
}

func NewMirrorSync(
	logger *slog.Logger,
	bus *events.Bus,
	orders handlers.OrderService,
	donations handlers.DonationService,
	ordersMirror *repository.OrdersMirror,
	contributionsMirror *repository.ContributionsMirror,
) *MirrorSync {
	return &MirrorSync{
		logger:              logger,
		bus:                 bus,
		orders:              orders,
		donations:           donations,
		ordersMirror:        ordersMirror,
		contributionsMirror: contributionsMirror,
	}
}

// Start consumes engine events until the context ends.
func (ms *MirrorSync) Start(ctx context.Context) {
	ch := ms.bus.Subscribe(1024)
	ms.logger.Info("starting mirror sync worker")

	for {
		select {
		case <-ctx.Done():
			ms.logger.Info("mirror sync worker stopped")
			return
		case evt := <-ch:
			ms.apply(ctx, evt)
		}
	}
}

func (ms *MirrorSync) apply(ctx context.Context, evt events.Event) {
	switch payload := evt.Payload.(type) {
	case events.OrderCreated:
		ms.syncOrder(ctx, payload.OrderID)
	case events.PaymentReceived:
		order, err := ms.orders.GetOrder(payload.OrderID)
		if err != nil {
			ms.logger.Error("mirror sync: order lookup failed", "order_id", payload.OrderID, "error", err)
			return
		}
		if err = ms.ordersMirror.SyncPayment(ctx, order, payload, evt.At); err != nil {
			ms.logger.Error("mirror sync: payment write failed", "order_id", payload.OrderID, "error", err)
		}
	case events.OrderCompleted:
		ms.syncOrder(ctx, payload.OrderID)
	case events.OrderCancelled:
		ms.syncOrder(ctx, payload.OrderID)
	case events.OrderExpired:
		ms.syncOrder(ctx, payload.OrderID)
	case events.DonationReceived:
		rec, err := ms.donations.GetContributor(payload.Contributor)
		if err != nil {
			ms.logger.Error("mirror sync: contributor lookup failed", "contributor", payload.Contributor, "error", err)
			return
		}
		if err = ms.contributionsMirror.SyncDonation(ctx, rec, payload); err != nil {
			ms.logger.Error("mirror sync: donation write failed", "contributor", payload.Contributor, "error", err)
		}
	}
}

func (ms *MirrorSync) syncOrder(ctx context.Context, orderID string) {
	order, err := ms.orders.GetOrder(orderID)
	if err != nil {
		ms.logger.Error("mirror sync: order lookup failed", "order_id", orderID, "error", err)
		return
	}
	if err = ms.ordersMirror.UpsertOrder(ctx, order); err != nil {
		ms.logger.Error("mirror sync: order write failed", "order_id", orderID, "error", err)
	}
}
