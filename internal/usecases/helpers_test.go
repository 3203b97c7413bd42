package usecases

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/core/ports"
	"github.com/aetherpay/aetherpay-backend/internal/entities"
	"github.com/aetherpay/aetherpay-backend/internal/events"
)

const (
	testAdmin    = "0x00000000000000000000000000000000000000Ad"
	testTreasury = "0x000000000000000000000000000000000000007E"
	testPool     = "0x0000000000000000000000000000000000000900"
	testMerchant = "0x00000000000000000000000000000000000000M1"
	testPayer    = "0x00000000000000000000000000000000000000P1"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConsensusParams() ConsensusParams {
	return ConsensusParams{
		RequiredSubmissions: 3,
		Window:              5 * time.Minute,
		MaxDeviationBps:     500,
		AgreementBps:        300,
		MinUpdateInterval:   10 * time.Second,
		MinConfidence:       0.66,
		MaxStaleness:        15 * time.Minute,
		ReputationStart:     500,
		ReputationCap:       1000,
		AgreeStep:           10,
		DisagreeStep:        50,
		SuspendBelow:        100,
	}
}

// fakeToken is an in-memory token capability. Balances and allowances are
// keyed by owner and asset symbol; allowances are the amounts owners granted
// to the treasury spender.
type fakeToken struct {
	mu               sync.Mutex
	balances         map[string]decimal.Decimal
	allowances       map[string]decimal.Decimal
	failTransfer     bool
	failTransferFrom bool

	// When set, Transfer signals on transferEntered and then blocks until
	// transferProceed is closed, letting tests hold a transfer in flight.
	transferEntered chan struct{}
	transferProceed chan struct{}
}

func newFakeToken() *fakeToken {
	return &fakeToken{
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]decimal.Decimal),
	}
}

func tokenKey(owner, asset string) string {
	return owner + "|" + asset
}

func (f *fakeToken) fund(owner, asset string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[tokenKey(owner, asset)] = f.balances[tokenKey(owner, asset)].Add(amount)
}

func (f *fakeToken) approve(owner, asset string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[tokenKey(owner, asset)] = amount
}

func (f *fakeToken) balance(owner, asset string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[tokenKey(owner, asset)]
}

func (f *fakeToken) TransferFrom(_ context.Context, asset entities.Asset, owner, recipient string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failTransferFrom {
		return fmt.Errorf("forced transferFrom failure")
	}

	ok := tokenKey(owner, asset.Symbol)
	if f.allowances[ok].LessThan(amount) {
		return fmt.Errorf("insufficient allowance for %s", owner)
	}
	if f.balances[ok].LessThan(amount) {
		return fmt.Errorf("insufficient balance for %s", owner)
	}

	f.allowances[ok] = f.allowances[ok].Sub(amount)
	f.balances[ok] = f.balances[ok].Sub(amount)
	rk := tokenKey(recipient, asset.Symbol)
	f.balances[rk] = f.balances[rk].Add(amount)
	return nil
}

func (f *fakeToken) Transfer(_ context.Context, asset entities.Asset, recipient string, amount decimal.Decimal) error {
	if f.transferEntered != nil {
		f.transferEntered <- struct{}{}
		<-f.transferProceed
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failTransfer {
		return fmt.Errorf("forced transfer failure")
	}

	rk := tokenKey(recipient, asset.Symbol)
	f.balances[rk] = f.balances[rk].Add(amount)
	return nil
}

func (f *fakeToken) BalanceOf(_ context.Context, asset entities.Asset, owner string) (decimal.Decimal, error) {
	return f.balance(owner, asset.Symbol), nil
}

func (f *fakeToken) Allowance(_ context.Context, asset entities.Asset, owner, _ string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allowances[tokenKey(owner, asset.Symbol)], nil
}

var _ ports.TokenCapability = (*fakeToken)(nil)

// testEnv wires the full engine against the fake token capability.
type testEnv struct {
	token     *fakeToken
	bus       *events.Bus
	assets    *AssetRegistry
	oracle    *OracleConsensus
	fees      *FeeEngine
	fx        *FXSettlement
	merchants *MerchantRegistry
	donations *DonationRouter
	orders    *OrderRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := testLogger()
	token := newFakeToken()
	bus := events.NewBus(logger)

	assets := NewAssetRegistry(logger, testAdmin)
	for _, a := range []struct {
		symbol   string
		decimals int32
		class    entities.AssetClass
	}{
		{"USDT", 6, entities.AssetClassStable},
		{"EURC", 6, entities.AssetClassStable},
		{"TOKA", 6, entities.AssetClassGeneral},
		{"WETH", 18, entities.AssetClassGeneral},
	} {
		err := assets.Add(testAdmin, a.symbol, "0x0", a.decimals, a.class)
		if err != nil {
			t.Fatalf("failed to register asset %s: %v", a.symbol, err)
		}
	}

	oracle := NewOracleConsensus(logger, testAdmin, testConsensusParams())
	fees := NewFeeEngine(30, 20, dec("1000000000000000000000000000000"))
	fx := NewFXSettlement(logger, oracle, fees, 100)
	merchants := NewMerchantRegistry(logger, token, assets, testAdmin, 0)
	donations := NewDonationRouter(logger, token, bus, testAdmin, 500, testPool, BadgeThresholds{
		Bronze: dec("100"),
		Silver: dec("500"),
		Gold:   dec("2000"),
	}, []string{ports.OrderRegistryCallerID})
	orders := NewOrderRegistry(logger, bus, assets, merchants, fx, fees, donations, token, testTreasury)

	return &testEnv{
		token:     token,
		bus:       bus,
		assets:    assets,
		oracle:    oracle,
		fees:      fees,
		fx:        fx,
		merchants: merchants,
		donations: donations,
		orders:    orders,
	}
}

// setTrustedRate seeds the consensus state directly, bypassing quorum.
func (e *testEnv) setTrustedRate(pair, rate string) {
	e.oracle.mu.Lock()
	defer e.oracle.mu.Unlock()
	e.oracle.trusted[pair] = &entities.TrustedRate{
		Pair:       pair,
		Rate:       dec(rate),
		Confidence: 1,
		UpdatedAt:  time.Now(),
	}
}

// registerMerchant registers the default test merchant.
func (e *testEnv) registerMerchant(t *testing.T) {
	t.Helper()
	if _, err := e.merchants.Register(testMerchant, "Test Shop"); err != nil {
		t.Fatalf("failed to register merchant: %v", err)
	}
}

// fundPayer gives the payer balance and allowance for the payment asset.
func (e *testEnv) fundPayer(payer, asset string, amount decimal.Decimal) {
	e.token.fund(payer, asset, amount)
	e.token.approve(payer, asset, amount)
}
