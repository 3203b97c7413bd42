package usecases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aetherpay/aetherpay-backend/internal/entities"
)

func TestMerchantRegisterIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.merchants.Register(testMerchant, "Test Shop")
	require.NoError(t, err)
	require.Equal(t, testMerchant, first.Address)
	require.Equal(t, "Test Shop", first.Name)
	require.True(t, first.Active)
	require.Equal(t, int64(0), first.FeeRateBps)

	// Second registration is a no-op returning the existing record.
	again, err := env.merchants.Register(testMerchant, "Renamed Shop")
	require.NoError(t, err)
	require.Equal(t, "Test Shop", again.Name)
	require.Equal(t, first.RegisteredAt, again.RegisteredAt)

	_, err = env.merchants.Register("", "Anonymous")
	require.ErrorIs(t, err, entities.ErrUnauthorized)
}

func TestMerchantCredit(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)

	require.ErrorIs(t, env.merchants.Credit("0xunknown", "USDT", dec("10")), entities.ErrMerchantNotFound)
	require.ErrorIs(t, env.merchants.Credit(testMerchant, "USDT", dec("0")), entities.ErrInvalidAmount)

	require.NoError(t, env.merchants.Credit(testMerchant, "USDT", dec("99.7")))
	require.NoError(t, env.merchants.Credit(testMerchant, "EURC", dec("50")))

	info, err := env.merchants.GetInfo(testMerchant)
	require.NoError(t, err)
	require.True(t, info.Balances["USDT"].Equal(dec("99.7")))
	require.True(t, info.Balances["EURC"].Equal(dec("50")))
	require.True(t, info.Volume.Equal(dec("149.7")))
	require.Equal(t, int64(2), info.OrderCount)
}

func TestMerchantWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	require.NoError(t, env.merchants.Credit(testMerchant, "USDT", dec("100")))

	err := env.merchants.Withdraw(ctx, testMerchant, "USDT", dec("150"))
	require.ErrorIs(t, err, entities.ErrInsufficientBalance)

	err = env.merchants.Withdraw(ctx, testMerchant, "DOGE", dec("10"))
	require.ErrorIs(t, err, entities.ErrUnsupportedAsset)

	require.NoError(t, env.merchants.Withdraw(ctx, testMerchant, "USDT", dec("40")))
	require.True(t, env.token.balance(testMerchant, "USDT").Equal(dec("40")))

	info, err := env.merchants.GetInfo(testMerchant)
	require.NoError(t, err)
	require.True(t, info.Balances["USDT"].Equal(dec("60")))
}

func TestMerchantConcurrentWithdrawalsCannotOverdraw(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)
	ctx := context.Background()

	require.NoError(t, env.merchants.Credit(testMerchant, "USDT", dec("100")))

	entered := make(chan struct{})
	proceed := make(chan struct{})
	env.token.transferEntered = entered
	env.token.transferProceed = proceed

	// First withdrawal reserves the full balance and stalls inside the
	// token transfer.
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- env.merchants.Withdraw(ctx, testMerchant, "USDT", dec("100"))
	}()
	<-entered

	// A second withdrawal of the same balance must fail the balance check
	// while the first transfer is still in flight.
	env.token.transferEntered = nil
	err := env.merchants.Withdraw(ctx, testMerchant, "USDT", dec("100"))
	require.ErrorIs(t, err, entities.ErrInsufficientBalance)

	close(proceed)
	require.NoError(t, <-firstDone)

	// Exactly one payout happened.
	require.True(t, env.token.balance(testMerchant, "USDT").Equal(dec("100")))
	info, err := env.merchants.GetInfo(testMerchant)
	require.NoError(t, err)
	require.True(t, info.Balances["USDT"].IsZero())
}

func TestMerchantWithdrawFailedTransferKeepsBalance(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)

	require.NoError(t, env.merchants.Credit(testMerchant, "USDT", dec("100")))

	env.token.failTransfer = true
	err := env.merchants.Withdraw(context.Background(), testMerchant, "USDT", dec("40"))
	require.ErrorIs(t, err, entities.ErrTokenTransferFailed)

	info, err := env.merchants.GetInfo(testMerchant)
	require.NoError(t, err)
	require.True(t, info.Balances["USDT"].Equal(dec("100")))
}

func TestMerchantSetFeeRate(t *testing.T) {
	env := newTestEnv(t)
	env.registerMerchant(t)

	require.ErrorIs(t, env.merchants.SetFeeRate("0xnobody", testMerchant, 50), entities.ErrUnauthorized)
	require.ErrorIs(t, env.merchants.SetFeeRate(testAdmin, testMerchant, 10001), entities.ErrInvalidAmount)
	require.ErrorIs(t, env.merchants.SetFeeRate(testAdmin, "0xunknown", 50), entities.ErrMerchantNotFound)

	require.NoError(t, env.merchants.SetFeeRate(testAdmin, testMerchant, 50))
	bps, err := env.merchants.FeeRate(testMerchant)
	require.NoError(t, err)
	require.Equal(t, int64(50), bps)
}
