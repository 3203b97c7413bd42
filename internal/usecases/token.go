package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/core/ports"
	"github.com/aetherpay/aetherpay-backend/internal/entities"
)

// ERC-20 method selectors: keccak256(signature)[0:4].
var (
	transferSig     = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
	transferFromSig = []byte{0x23, 0xb8, 0x72, 0xdd} // transferFrom(address,address,uint256)
	balanceOfSig    = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	allowanceSig    = []byte{0xdd, 0x62, 0xed, 0x3e} // allowance(address,address)
)

// ERC20TokenClient implements the token capability against ERC-20 contracts.
// Outbound transfers are signed by the treasury wallet; inbound pulls use the
// allowance the payer granted to the treasury.
type ERC20TokenClient struct {
	logger  *slog.Logger
	client  *ethclient.Client
	wallet  *TreasuryWallet
	chainID *big.Int
}

func NewERC20TokenClient(logger *slog.Logger, client *ethclient.Client, wallet *TreasuryWallet, chainID int64) *ERC20TokenClient {
	return &ERC20TokenClient{
		logger:  logger,
		client:  client,
		wallet:  wallet,
		chainID: big.NewInt(chainID),
	}
}

var _ ports.TokenCapability = (*ERC20TokenClient)(nil)

// TransferFrom pulls amount of asset from owner into recipient.
func (tc *ERC20TokenClient) TransferFrom(ctx context.Context, asset entities.Asset, owner, recipient string, amount decimal.Decimal) error {
	data := append([]byte{}, transferFromSig...)
	data = append(data, packAddress(owner)...)
	data = append(data, packAddress(recipient)...)
	data = append(data, packAmount(toBaseUnits(amount, asset.Decimals))...)

	txHash, err := tc.sendTx(ctx, common.HexToAddress(asset.Contract), data)
	if err != nil {
		return fmt.Errorf("transferFrom %s %s: %w", amount, asset.Symbol, err)
	}

	tc.logger.Info("token pull sent",
		"asset", asset.Symbol, "owner", owner, "recipient", recipient,
		"amount", amount.String(), "tx_hash", txHash)
	return nil
}

// Transfer moves amount of asset out of the treasury.
func (tc *ERC20TokenClient) Transfer(ctx context.Context, asset entities.Asset, recipient string, amount decimal.Decimal) error {
	data := append([]byte{}, transferSig...)
	data = append(data, packAddress(recipient)...)
	data = append(data, packAmount(toBaseUnits(amount, asset.Decimals))...)

	txHash, err := tc.sendTx(ctx, common.HexToAddress(asset.Contract), data)
	if err != nil {
		return fmt.Errorf("transfer %s %s: %w", amount, asset.Symbol, err)
	}

	tc.logger.Info("token transfer sent",
		"asset", asset.Symbol, "recipient", recipient,
		"amount", amount.String(), "tx_hash", txHash)
	return nil
}

func (tc *ERC20TokenClient) BalanceOf(ctx context.Context, asset entities.Asset, owner string) (decimal.Decimal, error) {
	data := append([]byte{}, balanceOfSig...)
	data = append(data, packAddress(owner)...)

	raw, err := tc.call(ctx, common.HexToAddress(asset.Contract), data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf %s: %w", asset.Symbol, err)
	}
	return fromBaseUnits(new(big.Int).SetBytes(raw), asset.Decimals), nil
}

func (tc *ERC20TokenClient) Allowance(ctx context.Context, asset entities.Asset, owner, spender string) (decimal.Decimal, error) {
	data := append([]byte{}, allowanceSig...)
	data = append(data, packAddress(owner)...)
	data = append(data, packAddress(spender)...)

	raw, err := tc.call(ctx, common.HexToAddress(asset.Contract), data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("allowance %s: %w", asset.Symbol, err)
	}
	return fromBaseUnits(new(big.Int).SetBytes(raw), asset.Decimals), nil
}

func (tc *ERC20TokenClient) sendTx(ctx context.Context, contract common.Address, data []byte) (string, error) {
	from := common.HexToAddress(tc.wallet.Address())

	nonce, err := tc.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := tc.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := tc.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}
	// 20% headroom over the estimate.
	gasLimit = gasLimit * 12 / 10

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := tc.wallet.SignTx(tx, tc.chainID)
	if err != nil {
		return "", err
	}

	if err = tc.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func (tc *ERC20TokenClient) call(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	return tc.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
}

func packAddress(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

func packAmount(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func toBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

func fromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -decimals)
}
