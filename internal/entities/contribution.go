package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type BadgeTier string

const (
	BadgeNone   BadgeTier = "None"
	BadgeBronze BadgeTier = "Bronze"
	BadgeSilver BadgeTier = "Silver"
	BadgeGold   BadgeTier = "Gold"
)

// ContributionRecord accumulates a contributor's lifetime donations.
// Totals only ever increase.
type ContributionRecord struct {
	Contributor        string          `json:"contributor"`
	Total              decimal.Decimal `json:"total"`
	LastContributionAt time.Time       `json:"last_contribution_at"`
	Badge              BadgeTier       `json:"badge"`
}
