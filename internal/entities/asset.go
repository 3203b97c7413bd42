package entities

import "time"

// AssetClass is fixed when the asset is registered, never inferred per call.
type AssetClass string

const (
	AssetClassStable  AssetClass = "STABLE"
	AssetClassGeneral AssetClass = "GENERAL"
)

// Asset is an entry on the supported-asset allow-list.
type Asset struct {
	Symbol   string     `json:"symbol"`
	Contract string     `json:"contract"` // token contract address
	Decimals int32      `json:"decimals"`
	Class    AssetClass `json:"class"`
	AddedAt  time.Time  `json:"added_at"`
}
