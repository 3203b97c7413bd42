package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/aetherpay/aetherpay-backend/internal/handlers"
)

// OrderExpirer periodically stamps pending orders past their expiry as
// expired, so abandoned orders do not stay payable forever.
type OrderExpirer struct {
	logger       *slog.Logger
	orderService handlers.OrderService

	sweepInterval time.Duration
}

func NewOrderExpirer(logger *slog.Logger, orderService handlers.OrderService, sweepInterval time.Duration) *OrderExpirer {
	return &OrderExpirer{
		logger:        logger,
		orderService:  orderService,
		sweepInterval: sweepInterval,
	}
}

// Start runs the periodic sweep until the context ends.
func (oe *OrderExpirer) Start(ctx context.Context) {
	oe.logger.Info("starting order expirer worker", "sweep_interval", oe.sweepInterval.String())

	// Run an initial sweep immediately.
	oe.sweep(ctx)

	ticker := time.NewTicker(oe.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			oe.logger.Info("order expirer worker stopped")
			return
		case <-ticker.C:
			oe.sweep(ctx)
		}
	}
}

func (oe *OrderExpirer) sweep(ctx context.Context) {
	count, err := oe.orderService.SweepExpired(ctx)
	if err != nil {
		oe.logger.Error("order expiry sweep failed", "error", err)
		return
	}
	if count > 0 {
		oe.logger.Info("expired stale orders", "count", count)
	}
}
