package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the full read model handed to polling clients. Consumers replace their copy wholesale.
type Snapshot struct {
	ID            string            `json:"id"`
	Board         [BoardSize]string `json:"board"`
	CurrentPlayer Mark              `json:"current_player"`
	Status        Status            `json:"status"`
	Moves         int               `json:"moves"`
	BetAmount     decimal.Decimal   `json:"bet_amount"`
	Pot           decimal.Decimal   `json:"pot"`
	Winner        Mark              `json:"winner"`
	Players       Players           `json:"players"`
	CreatedAt     time.Time         `json:"created_at"`
	TurnDeadline  *time.Time        `json:"turn_deadline,omitempty"`
}

// NewSnapshot copies a match into its read model. turnTimeout of zero omits the deadline.
func NewSnapshot(match *Match, turnTimeout time.Duration) *Snapshot {
	clone := match.Clone()

	snapshot := &Snapshot{
		ID:            clone.ID,
		CurrentPlayer: clone.CurrentPlayer,
		Status:        clone.Status,
		Moves:         clone.Moves,
		BetAmount:     clone.BetAmount,
		Pot:           clone.Pot,
		Winner:        clone.Winner,
		Players:       clone.Players,
		CreatedAt:     clone.CreatedAt,
	}

	for i, cell := range clone.Board {
		snapshot.Board[i] = string(cell)
	}

	if clone.IsPlaying() && turnTimeout > 0 && !clone.TurnStartedAt.IsZero() {
		deadline := clone.TurnStartedAt.Add(turnTimeout)
		snapshot.TurnDeadline = &deadline
	}

	return snapshot
}

// OlderThan reports whether that describes an earlier state of the match than other.
// A match only moves forward: waiting, playing, then a final status, with moves growing in between.
func (that *Snapshot) OlderThan(other *Snapshot) bool {
	if that.stage() != other.stage() {
		return that.stage() < other.stage()
	}

	return that.Moves < other.Moves
}

func (that *Snapshot) stage() int {
	switch that.Status {
	case StatusWaiting:
		return 0
	case StatusPlaying:
		return 1
	case StatusCompleted, StatusDraw, StatusCancelled:
		return 2
	default:
		return 0
	}
}
