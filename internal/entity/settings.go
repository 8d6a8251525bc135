package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings is the operator-tunable policy read from the settings provider.
type Settings struct {
	MinBet                decimal.Decimal `json:"min_bet"`
	MaxBet                decimal.Decimal `json:"max_bet"`
	BotWinProbability     float64         `json:"bot_win_probability"`
	MaxWinsPerUser        int             `json:"max_wins_per_user"`
	PlatformFeePercent    decimal.Decimal `json:"platform_fee_percent"`
	BotPlatformFeePercent decimal.Decimal `json:"bot_platform_fee_percent"`
	MaintenanceMode       bool            `json:"maintenance_mode"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// BetAllowed reports whether amount lies in [MinBet, MaxBet].
func (that Settings) BetAllowed(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(that.MinBet) && amount.LessThanOrEqual(that.MaxBet)
}

// FeePercent picks the fee for a decisive result.
func (that Settings) FeePercent(vsBot bool) decimal.Decimal {
	if vsBot {
		return that.BotPlatformFeePercent
	}

	return that.PlatformFeePercent
}
