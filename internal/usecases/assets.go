package usecases

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aetherpay/aetherpay-backend/internal/entities"
)

// AssetRegistry owns the supported-asset allow-list. The stable/general
// classification is resolved once here, at registration time.
type AssetRegistry struct {
	logger *slog.Logger
	admin  string

	mu     sync.RWMutex
	assets map[string]entities.Asset
}

func NewAssetRegistry(logger *slog.Logger, admin string) *AssetRegistry {
	return &AssetRegistry{
		logger: logger,
		admin:  admin,
		assets: make(map[string]entities.Asset),
	}
}

// Add registers an asset. Admin-only.
func (ar *AssetRegistry) Add(caller, symbol, contract string, decimals int32, class entities.AssetClass) error {
	if caller != ar.admin {
		return entities.ErrUnauthorized
	}
	if symbol == "" || decimals < 0 {
		return fmt.Errorf("%w: bad asset definition %q", entities.ErrUnsupportedAsset, symbol)
	}
	if class != entities.AssetClassStable && class != entities.AssetClassGeneral {
		return fmt.Errorf("%w: unknown asset class %q", entities.ErrUnsupportedAsset, class)
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()

	ar.assets[symbol] = entities.Asset{
		Symbol:   symbol,
		Contract: contract,
		Decimals: decimals,
		Class:    class,
		AddedAt:  time.Now().UTC(),
	}
	ar.logger.Info("asset registered", "symbol", symbol, "class", class, "decimals", decimals)
	return nil
}

// Remove takes an asset off the allow-list. Existing orders are unaffected;
// new orders referencing it fail with UnsupportedAsset. Admin-only.
func (ar *AssetRegistry) Remove(caller, symbol string) error {
	if caller != ar.admin {
		return entities.ErrUnauthorized
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()

	if _, ok := ar.assets[symbol]; !ok {
		return fmt.Errorf("%w: %s", entities.ErrUnsupportedAsset, symbol)
	}
	delete(ar.assets, symbol)
	ar.logger.Info("asset removed", "symbol", symbol)
	return nil
}

func (ar *AssetRegistry) Get(symbol string) (entities.Asset, error) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	asset, ok := ar.assets[symbol]
	if !ok {
		return entities.Asset{}, fmt.Errorf("%w: %s", entities.ErrUnsupportedAsset, symbol)
	}
	return asset, nil
}

func (ar *AssetRegistry) List() []entities.Asset {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	result := make([]entities.Asset, 0, len(ar.assets))
	for _, a := range ar.assets {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

// StablePair reports whether both assets are registered stable-class.
func (ar *AssetRegistry) StablePair(a, b string) bool {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	x, okA := ar.assets[a]
	y, okB := ar.assets[b]
	return okA && okB && x.Class == entities.AssetClassStable && y.Class == entities.AssetClassStable
}
