package usecases

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// treasuryChildIndex is the derivation index of the payout signer key.
const treasuryChildIndex = 0

// TreasuryWallet holds the platform treasury key, derived from the configured
// seed phrase. It signs outbound transfers (merchant withdrawals, donation
// forwarding) and is the recipient of inbound payment pulls.
type TreasuryWallet struct {
	logger  *slog.Logger
	privKey *ecdsa.PrivateKey
	address common.Address
}

func NewTreasuryWallet(logger *slog.Logger, seed string) (*TreasuryWallet, error) {
	seedBytes := bip39.NewSeed(seed, "")
	masterKey, err := bip32.NewMasterKey(seedBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}

	childKey, err := masterKey.NewChildKey(treasuryChildIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to derive treasury key: %w", err)
	}

	privKey, err := crypto.ToECDSA(childKey.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to convert treasury key: %w", err)
	}

	w := &TreasuryWallet{
		logger:  logger,
		privKey: privKey,
		address: crypto.PubkeyToAddress(privKey.PublicKey),
	}
	logger.Info("treasury wallet derived", "address", w.address.Hex())
	return w, nil
}

// Address returns the treasury address in hex form.
func (w *TreasuryWallet) Address() string {
	return w.address.Hex()
}

// SignTx signs an outbound treasury transaction for the given chain.
func (w *TreasuryWallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), w.privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// GenerateSeedPhrase creates a fresh BIP39 mnemonic for treasury rotation.
func GenerateSeedPhrase(entropyBits int) (string, error) {
	if entropyBits < 128 || entropyBits > 256 || entropyBits%32 != 0 {
		return "", fmt.Errorf("invalid entropy bits: %d", entropyBits)
	}

	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}
