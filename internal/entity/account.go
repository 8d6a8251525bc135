package entity

import "github.com/shopspring/decimal"

// Account is a user's wallet balance together with their lifetime match stats.
type Account struct {
	UserID        string          `json:"user_id"`
	Username      string          `json:"username"`
	Balance       decimal.Decimal `json:"balance"`
	GamesPlayed   int             `json:"games_played"`
	GamesWon      int             `json:"games_won"`
	TotalWinnings decimal.Decimal `json:"total_winnings"`
}
