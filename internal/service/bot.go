package service

import (
	"errors"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/internal/tictactoe"
)

var ErrNoAvailableMoves = errors.New("no available moves")

const centerCell = 4

var corners = [4]int{0, 2, 6, 8}

// Rand is the random source the bot draws from. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type BotService interface {
	// ChooseMove picks the bot's cell. It draws exactly two values from rng: the fallback index, then r.
	ChooseMove(board entity.Board, botMark entity.Mark, winProbability float64, rng Rand) (int, error)
	// RandomMove picks a uniformly random empty cell.
	RandomMove(board entity.Board, rng Rand) (int, error)
}

type botService struct{}

func NewBotService() BotService {
	return &botService{}
}

func (that *botService) ChooseMove(board entity.Board, botMark entity.Mark, winProbability float64, rng Rand) (int, error) {
	optimal, ok := OptimalMove(board, botMark)
	if !ok {
		return 0, ErrNoAvailableMoves
	}

	fallback, err := that.RandomMove(board, rng)
	if err != nil {
		return 0, err
	}

	if rng.Float64() < winProbability {
		return optimal, nil
	}

	return fallback, nil
}

func (that *botService) RandomMove(board entity.Board, rng Rand) (int, error) {
	availableCells := tictactoe.EmptyCells(board)
	if len(availableCells) == 0 {
		return 0, ErrNoAvailableMoves
	}

	return availableCells[rng.Intn(len(availableCells))], nil
}

// OptimalMove - win, block, center, corner, first empty. ok is false on a full board.
func OptimalMove(board entity.Board, mark entity.Mark) (int, bool) {
	if cell, found := completingCell(board, mark); found {
		return cell, true
	}

	if cell, found := completingCell(board, mark.Opponent()); found {
		return cell, true
	}

	if board[centerCell] == entity.EmptyCell {
		return centerCell, true
	}

	for _, cell := range corners {
		if board[cell] == entity.EmptyCell {
			return cell, true
		}
	}

	availableCells := tictactoe.EmptyCells(board)
	if len(availableCells) == 0 {
		return 0, false
	}

	return availableCells[0], true
}

// completingCell finds the empty cell of a line where mark already holds the other two.
func completingCell(board entity.Board, mark entity.Mark) (int, bool) {
	for _, line := range tictactoe.WinLines {
		owned, empty := 0, -1
		for _, cell := range line {
			switch board[cell] {
			case mark:
				owned++
			case entity.EmptyCell:
				empty = cell
			}
		}

		if owned == 2 && empty >= 0 {
			return empty, true
		}
	}

	return 0, false
}
