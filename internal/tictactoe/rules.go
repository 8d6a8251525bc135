package tictactoe

import (
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

// WinLines - 3 rows, 3 columns, 2 diagonals.
var WinLines = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// HasLine - checks whether mark holds any of the winning lines.
func HasLine(board entity.Board, mark entity.Mark) bool {
	if mark == entity.EmptyCell {
		return false
	}

	for _, line := range WinLines {
		if board[line[0]] == mark && board[line[1]] == mark && board[line[2]] == mark {
			return true
		}
	}

	return false
}

// Winner - returns the symbol holding a line, or EmptyCell.
func Winner(board entity.Board) entity.Mark {
	for _, mark := range []entity.Mark{entity.PlayerX, entity.PlayerO} {
		if HasLine(board, mark) {
			return mark
		}
	}

	return entity.EmptyCell
}

func IsFull(board entity.Board) bool {
	for _, cell := range board {
		if cell == entity.EmptyCell {
			return false
		}
	}

	return true
}

func EmptyCells(board entity.Board) []int {
	cells := make([]int, 0, len(board))
	for i, cell := range board {
		if cell == entity.EmptyCell {
			cells = append(cells, i)
		}
	}

	return cells
}

func ValidateMove(board entity.Board, cell int) error {
	if cell < 0 || cell >= len(board) {
		return fmt.Errorf("%w: cell %d", apperror.ErrOutOfRange, cell)
	}

	if board[cell] != entity.EmptyCell {
		return fmt.Errorf("%w: cell %d", apperror.ErrCellOccupied, cell)
	}

	return nil
}

// ApplyMove - validates and applies a move for playerID, then resolves the match state.
// Returns true when the move ended the match.
func ApplyMove(match *entity.Match, playerID string, cell int, now time.Time) (bool, error) {
	if !match.IsPlaying() {
		return false, fmt.Errorf("%w: status %s", apperror.ErrMatchNotPlaying, match.Status)
	}

	mark := match.MarkOf(playerID)
	if mark == entity.EmptyCell || mark != match.CurrentPlayer {
		return false, apperror.ErrNotYourTurn
	}

	if err := ValidateMove(match.Board, cell); err != nil {
		return false, err
	}

	match.Board[cell] = mark
	match.Moves++

	return resolve(match, mark, now), nil
}

// resolve - only the mover can have completed a line with this move.
func resolve(match *entity.Match, mover entity.Mark, now time.Time) bool {
	switch {
	case HasLine(match.Board, mover):
		match.Finish(entity.StatusCompleted, mover, now)
		return true
	case IsFull(match.Board):
		match.Finish(entity.StatusDraw, entity.EmptyCell, now)
		return true
	default:
		match.CurrentPlayer = mover.Opponent()
		match.TurnStartedAt = now
		return false
	}
}
