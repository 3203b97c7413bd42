package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aetherpay/aetherpay-backend/internal/entities"
	"github.com/aetherpay/aetherpay-backend/internal/events"
)

func testOrderParams(id string) CreateOrderParams {
	return CreateOrderParams{
		ID:              id,
		Amount:          dec("100"),
		PaymentAsset:    "TOKA",
		SettlementAsset: "TOKA",
		MetadataRef:     "ipfs://meta",
	}
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, testMerchant, testOrderParams(""))
	require.ErrorIs(t, err, entities.ErrInvalidAmount)

	params := testOrderParams("ord-1")
	params.Amount = decimal.Zero
	_, err = env.orders.CreateOrder(ctx, testMerchant, params)
	require.ErrorIs(t, err, entities.ErrInvalidAmount)

	params = testOrderParams("ord-1")
	params.PaymentAsset = "DOGE"
	_, err = env.orders.CreateOrder(ctx, testMerchant, params)
	require.ErrorIs(t, err, entities.ErrUnsupportedAsset)

	params = testOrderParams("ord-1")
	params.SettlementAsset = "DOGE"
	_, err = env.orders.CreateOrder(ctx, testMerchant, params)
	require.ErrorIs(t, err, entities.ErrUnsupportedAsset)

	_, err = env.orders.CreateOrder(ctx, "0xunregistered", testOrderParams("ord-1"))
	require.ErrorIs(t, err, entities.ErrMerchantNotFound)

	params = testOrderParams("ord-1")
	params.ExpiresAt = time.Now().Add(-time.Hour)
	_, err = env.orders.CreateOrder(ctx, testMerchant, params)
	require.ErrorIs(t, err, entities.ErrInvalidAmount)

	params = testOrderParams("ord-1")
	params.Amount = dec("1000000000000000000000000000001")
	_, err = env.orders.CreateOrder(ctx, testMerchant, params)
	require.ErrorIs(t, err, entities.ErrArithmeticOverflow)
}

func TestCreateOrderRejectsDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, testMerchant, testOrderParams("ord-1"))
	require.NoError(t, err)

	_, err = env.orders.CreateOrder(ctx, testMerchant, testOrderParams("ord-1"))
	require.ErrorIs(t, err, entities.ErrDuplicateOrder)
}

func TestCreateOrderPublishesEventAndIndexesByHash(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ch := env.bus.Subscribe(8)

	order, err := env.orders.CreateOrder(context.Background(), testMerchant, testOrderParams("ord-1"))
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusPending, order.Status)
	require.Equal(t, entities.OrderHash("ord-1"), order.Hash)

	byHash, err := env.orders.GetOrderByHash(order.Hash)
	require.NoError(t, err)
	require.Equal(t, "ord-1", byHash.ID)

	select {
	case ev := <-ch:
		require.Equal(t, events.TypeOrderCreated, ev.Type)
		payload, ok := ev.Payload.(events.OrderCreated)
		require.True(t, ok)
		require.Equal(t, "ord-1", payload.OrderID)
		require.Equal(t, testMerchant, payload.Merchant)
	case <-time.After(time.Second):
		t.Fatal("no order.created event published")
	}
}

func TestProcessPaymentSameAssetFullSettlement(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, testMerchant, testOrderParams("ord-1"))
	require.NoError(t, err)
	env.fundPayer(testPayer, "TOKA", dec("100"))

	receipt, err := env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.NoError(t, err)

	require.Equal(t, entities.OrderStatusCompleted, receipt.Status)
	require.True(t, receipt.PaymentAmount.Equal(dec("100")))
	require.True(t, receipt.SettlementAmount.Equal(dec("100")))
	require.True(t, receipt.RateUsed.Equal(dec("1")))
	require.True(t, receipt.PlatformFee.Equal(dec("0.3")), "platform fee %s, want 0.3", receipt.PlatformFee)
	require.True(t, receipt.MerchantFee.IsZero())
	require.True(t, receipt.NetAmount.Equal(dec("99.7")), "net %s, want 99.7", receipt.NetAmount)
	require.True(t, receipt.DonationOK)
	require.True(t, receipt.DonatedAmount.Equal(dec("0.015")), "donated %s, want 0.015", receipt.DonatedAmount)

	order, err := env.orders.GetOrder("ord-1")
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusCompleted, order.Status)
	require.True(t, order.PaidAmount.Equal(dec("100")))
	require.True(t, order.ReceivedAmount.Equal(dec("99.7")))
	require.True(t, order.PlatformFee.Equal(dec("0.3")))

	// Funds landed: payment in the treasury, donation share in the pool,
	// merchant credited with the net.
	require.True(t, env.token.balance(testPayer, "TOKA").IsZero())
	require.True(t, env.token.balance(testTreasury, "TOKA").Equal(dec("100")))
	require.True(t, env.token.balance(testPool, "TOKA").Equal(dec("0.015")))

	info, err := env.merchants.GetInfo(testMerchant)
	require.NoError(t, err)
	require.True(t, info.Balances["TOKA"].Equal(dec("99.7")))
	require.Equal(t, int64(1), info.OrderCount)
}

func TestProcessPaymentCrossCurrency(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	env.setTrustedRate("USDT/EURC", "0.92")
	ctx := context.Background()

	params := testOrderParams("ord-fx")
	params.PaymentAsset = "USDT"
	params.SettlementAsset = "EURC"
	_, err := env.orders.CreateOrder(ctx, testMerchant, params)
	require.NoError(t, err)
	env.fundPayer(testPayer, "USDT", dec("100"))

	receipt, err := env.orders.ProcessPayment(ctx, testPayer, "ord-fx", dec("100"), decimal.Zero)
	require.NoError(t, err)

	require.True(t, receipt.RateUsed.Equal(dec("0.92")))
	require.True(t, receipt.SettlementAmount.Equal(dec("92")), "gross %s, want 92", receipt.SettlementAmount)
	// Both assets are stable-class, so the preferential 20 bps rate applies.
	require.True(t, receipt.PlatformFee.Equal(dec("0.184")), "platform fee %s, want 0.184", receipt.PlatformFee)
	require.True(t, receipt.NetAmount.Equal(dec("91.816")), "net %s, want 91.816", receipt.NetAmount)
	require.True(t, receipt.DonatedAmount.Equal(dec("0.0092")))

	// The pull happens in the payment asset, settlement in the other.
	require.True(t, env.token.balance(testTreasury, "USDT").Equal(dec("100")))
	require.True(t, env.token.balance(testPool, "EURC").Equal(dec("0.0092")))

	info, err := env.merchants.GetInfo(testMerchant)
	require.NoError(t, err)
	require.True(t, info.Balances["EURC"].Equal(dec("91.816")))
}

func TestProcessPaymentSlippageAbortsBeforeFundsMove(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	env.setTrustedRate("USDT/EURC", "0.92")
	ctx := context.Background()

	params := testOrderParams("ord-fx")
	params.PaymentAsset = "USDT"
	params.SettlementAsset = "EURC"
	_, err := env.orders.CreateOrder(ctx, testMerchant, params)
	require.NoError(t, err)
	env.fundPayer(testPayer, "USDT", dec("100"))

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-fx", dec("100"), dec("92.000001"))
	require.ErrorIs(t, err, entities.ErrSlippageExceeded)

	order, err := env.orders.GetOrder("ord-fx")
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusPending, order.Status)
	require.True(t, env.token.balance(testTreasury, "USDT").IsZero())
	require.True(t, env.token.balance(testPayer, "USDT").Equal(dec("100")))
}

func TestProcessPaymentMissingRateAbortsPayment(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	params := testOrderParams("ord-fx")
	params.PaymentAsset = "USDT"
	params.SettlementAsset = "EURC"
	_, err := env.orders.CreateOrder(ctx, testMerchant, params)
	require.NoError(t, err)
	env.fundPayer(testPayer, "USDT", dec("100"))

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-fx", dec("100"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrRateUnavailable)

	order, err := env.orders.GetOrder("ord-fx")
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusPending, order.Status)
}

func TestProcessPaymentExactAmountRequired(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, testMerchant, testOrderParams("ord-1"))
	require.NoError(t, err)
	env.fundPayer(testPayer, "TOKA", dec("200"))

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("50"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrAmountMismatch)
	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("150"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrAmountMismatch)

	receipt, err := env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusCompleted, receipt.Status)
}

func TestProcessPaymentPartialFlow(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	params := testOrderParams("ord-1")
	params.AllowPartial = true
	_, err := env.orders.CreateOrder(ctx, testMerchant, params)
	require.NoError(t, err)
	env.fundPayer(testPayer, "TOKA", dec("200"))

	receipt, err := env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("40"), decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusPaid, receipt.Status)
	require.True(t, receipt.NetAmount.Equal(dec("39.88")))

	// Paying more than the remainder is still a mismatch.
	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("70"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrAmountMismatch)

	receipt, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("60"), decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusCompleted, receipt.Status)
	require.True(t, receipt.NetAmount.Equal(dec("59.82")))

	order, err := env.orders.GetOrder("ord-1")
	require.NoError(t, err)
	require.True(t, order.PaidAmount.Equal(dec("100")))
	require.True(t, order.ReceivedAmount.Equal(dec("99.7")))
	require.True(t, order.PlatformFee.Equal(dec("0.3")))

	info, err := env.merchants.GetInfo(testMerchant)
	require.NoError(t, err)
	require.True(t, info.Balances["TOKA"].Equal(dec("99.7")))
}

func TestProcessPaymentDesignatedPayer(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	params := testOrderParams("ord-1")
	params.DesignatedPayer = testPayer
	_, err := env.orders.CreateOrder(ctx, testMerchant, params)
	require.NoError(t, err)

	other := "0x00000000000000000000000000000000000000P2"
	env.fundPayer(other, "TOKA", dec("100"))
	_, err = env.orders.ProcessPayment(ctx, other, "ord-1", dec("100"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrUnauthorizedPayer)

	env.fundPayer(testPayer, "TOKA", dec("100"))
	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.NoError(t, err)
}

func TestProcessPaymentIsIdempotentOnTerminalOrders(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, testMerchant, testOrderParams("ord-1"))
	require.NoError(t, err)
	env.fundPayer(testPayer, "TOKA", dec("200"))

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.NoError(t, err)

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrNotPending)

	// No double spend.
	require.True(t, env.token.balance(testTreasury, "TOKA").Equal(dec("100")))

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-missing", dec("100"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrOrderNotFound)
}

func TestProcessPaymentTokenFailureRestoresOrder(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, testMerchant, testOrderParams("ord-1"))
	require.NoError(t, err)
	// Payer has no balance or allowance; the pull fails.

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrTokenTransferFailed)

	order, err := env.orders.GetOrder("ord-1")
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusPending, order.Status)
	require.True(t, order.PaidAmount.IsZero())

	// The order remains payable once the payer funds it.
	env.fundPayer(testPayer, "TOKA", dec("100"))
	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.NoError(t, err)
}

func TestProcessPaymentDonationFailureDoesNotAbortPayment(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, testMerchant, testOrderParams("ord-1"))
	require.NoError(t, err)
	env.fundPayer(testPayer, "TOKA", dec("100"))

	// Transfer is only used for the donation leg in this path.
	env.token.failTransfer = true

	receipt, err := env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusCompleted, receipt.Status)
	require.False(t, receipt.DonationOK)
	require.True(t, receipt.DonatedAmount.IsZero())

	// Settlement completed in full despite the failed donation.
	require.True(t, env.token.balance(testTreasury, "TOKA").Equal(dec("100")))
	info, err := env.merchants.GetInfo(testMerchant)
	require.NoError(t, err)
	require.True(t, info.Balances["TOKA"].Equal(dec("99.7")))

	_, err = env.donations.GetContributor(testPayer)
	require.ErrorIs(t, err, entities.ErrContributorNotFound)
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, testMerchant, testOrderParams("ord-1"))
	require.NoError(t, err)

	require.ErrorIs(t, env.orders.Cancel(ctx, "0xnobody", "ord-1"), entities.ErrUnauthorized)
	require.ErrorIs(t, env.orders.Cancel(ctx, testMerchant, "ord-missing"), entities.ErrOrderNotFound)

	require.NoError(t, env.orders.Cancel(ctx, testMerchant, "ord-1"))

	order, err := env.orders.GetOrder("ord-1")
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusCancelled, order.Status)

	// Terminal states are final: no payment, no second cancel.
	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrNotPending)
	require.ErrorIs(t, env.orders.Cancel(ctx, testMerchant, "ord-1"), entities.ErrInvalidTransition)
}

func TestCancelPartiallyPaidOrderRejected(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	params := testOrderParams("ord-1")
	params.AllowPartial = true
	_, err := env.orders.CreateOrder(ctx, testMerchant, params)
	require.NoError(t, err)
	env.fundPayer(testPayer, "TOKA", dec("40"))

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("40"), decimal.Zero)
	require.NoError(t, err)

	require.ErrorIs(t, env.orders.Cancel(ctx, testMerchant, "ord-1"), entities.ErrInvalidTransition)
}

func TestOrderExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	env.orders.now = func() time.Time { return t0 }

	params := testOrderParams("ord-1")
	params.ExpiresAt = t0.Add(time.Hour)
	_, err := env.orders.CreateOrder(ctx, testMerchant, params)
	require.NoError(t, err)
	env.fundPayer(testPayer, "TOKA", dec("100"))

	// Before expiry the sweep is a no-op and the order is payable.
	require.NoError(t, env.orders.ExpireSweep(ctx, "ord-1"))
	order, err := env.orders.GetOrder("ord-1")
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusPending, order.Status)

	env.orders.now = func() time.Time { return t0.Add(2 * time.Hour) }

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrExpired)

	n, err := env.orders.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	order, err = env.orders.GetOrder("ord-1")
	require.NoError(t, err)
	require.Equal(t, entities.OrderStatusExpired, order.Status)

	// Sweeping again is idempotent.
	require.NoError(t, env.orders.ExpireSweep(ctx, "ord-1"))
	n, err = env.orders.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = env.orders.ProcessPayment(ctx, testPayer, "ord-1", dec("100"), decimal.Zero)
	require.ErrorIs(t, err, entities.ErrNotPending)
	require.ErrorIs(t, env.orders.Cancel(ctx, testMerchant, "ord-1"), entities.ErrInvalidTransition)
}
