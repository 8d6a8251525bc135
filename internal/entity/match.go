package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Mark string

const (
	EmptyCell Mark = ""
	PlayerX   Mark = "X"
	PlayerO   Mark = "O"
)

// Opponent returns the other symbol.
func (that Mark) Opponent() Mark {
	switch that {
	case PlayerX:
		return PlayerO
	case PlayerO:
		return PlayerX
	default:
		return EmptyCell
	}
}

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPlaying   Status = "playing"
	StatusCompleted Status = "completed"
	StatusDraw      Status = "draw"
	StatusCancelled Status = "cancelled"
)

const BoardSize = 9

type Board [BoardSize]Mark

type Players struct {
	X *Player `json:"X"`
	O *Player `json:"O"`
}

type Match struct {
	ID                string          `json:"id"`
	Board             Board           `json:"board"`
	CurrentPlayer     Mark            `json:"current_player"`
	Players           Players         `json:"players"`
	Status            Status          `json:"status"`
	BetAmount         decimal.Decimal `json:"bet_amount"`
	Pot               decimal.Decimal `json:"pot"`
	Winner            Mark            `json:"winner"`
	SettlementApplied bool            `json:"settlement_applied"`
	BotWinProbability float64         `json:"bot_win_probability,omitempty"`
	Moves             int             `json:"moves"`
	TurnStartedAt     time.Time       `json:"turn_started_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	TerminalAt        *time.Time      `json:"terminal_at,omitempty"`
}

func NewMatch(id string, betAmount decimal.Decimal, creator *Player, now time.Time) *Match {
	return &Match{
		ID:            id,
		Board:         Board{},
		CurrentPlayer: PlayerX,
		Players:       Players{X: creator},
		Status:        StatusWaiting,
		BetAmount:     betAmount,
		Pot:           decimal.Zero,
		Winner:        EmptyCell,
		CreatedAt:     now,
	}
}

func (that *Match) IsWaiting() bool {
	return that.Status == StatusWaiting
}

func (that *Match) IsPlaying() bool {
	return that.Status == StatusPlaying
}

func (that *Match) IsCancelled() bool {
	return that.Status == StatusCancelled
}

// IsTerminal reports completed or draw. Cancelled matches never reach settlement.
func (that *Match) IsTerminal() bool {
	return that.Status == StatusCompleted || that.Status == StatusDraw
}

func (that *Match) IsFull() bool {
	return that.Players.X != nil && that.Players.O != nil
}

func (that *Match) IsWithBot() bool {
	return that.Players.O != nil && that.Players.O.IsBot
}

// MarkOf returns the symbol bound to playerID, or EmptyCell when the player is not in the match.
func (that *Match) MarkOf(playerID string) Mark {
	switch {
	case that.Players.X != nil && that.Players.X.ID == playerID:
		return PlayerX
	case that.Players.O != nil && that.Players.O.ID == playerID:
		return PlayerO
	default:
		return EmptyCell
	}
}

func (that *Match) PlayerFor(mark Mark) *Player {
	switch mark {
	case PlayerX:
		return that.Players.X
	case PlayerO:
		return that.Players.O
	default:
		return nil
	}
}

// Bind seats the opponent as O, sets the pot and starts play.
func (that *Match) Bind(opponent *Player, now time.Time) {
	that.Players.O = opponent
	that.Pot = that.BetAmount.Mul(decimal.NewFromInt(2))
	that.Status = StatusPlaying
	that.TurnStartedAt = now
}

// Finish moves the match into a terminal status exactly once.
func (that *Match) Finish(status Status, winner Mark, now time.Time) {
	that.Status = status
	that.Winner = winner
	that.TerminalAt = &now
}

// Clone returns a deep copy, so callers can mutate without touching a stored record.
func (that *Match) Clone() *Match {
	clone := *that

	if that.Players.X != nil {
		x := *that.Players.X
		clone.Players.X = &x
	}

	if that.Players.O != nil {
		o := *that.Players.O
		clone.Players.O = &o
	}

	if that.TerminalAt != nil {
		t := *that.TerminalAt
		clone.TerminalAt = &t
	}

	return &clone
}
