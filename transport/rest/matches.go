package rest

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

type createMatchRequest struct {
	BetAmount decimal.Decimal `json:"bet_amount"`
}

type moveRequest struct {
	Cell *int `json:"cell"`
}

type openMatch struct {
	ID        string          `json:"id"`
	BetAmount decimal.Decimal `json:"bet_amount"`
	Creator   *entity.Player  `json:"creator"`
}

func (that *Server) handleCreate(c *fiber.Ctx) error {
	var req createMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	match, err := that.lobby.CreateWaiting(c.UserContext(), req.BetAmount, playerFrom(c))
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	return c.Status(fiber.StatusCreated).JSON(entity.NewSnapshot(match, that.turnTimeout))
}

func (that *Server) handleListOpen(c *fiber.Ctx) error {
	matches, err := that.lobby.ListOpen(c.UserContext())
	if err != nil {
		return fmt.Errorf("failed to list open matches: %w", err)
	}

	open := make([]openMatch, 0, len(matches))
	for _, match := range matches {
		open = append(open, openMatch{ID: match.ID, BetAmount: match.BetAmount, Creator: match.Players.X})
	}

	return c.JSON(open)
}

func (that *Server) handleGet(c *fiber.Ctx) error {
	snapshot, err := that.snapshots.GetSnapshot(c.UserContext(), c.Params("id"))
	if err != nil {
		return fmt.Errorf("failed to get match: %w", err)
	}

	return c.JSON(snapshot)
}

func (that *Server) handleJoin(c *fiber.Ctx) error {
	match, err := that.lobby.Join(c.UserContext(), c.Params("id"), playerFrom(c))
	if err != nil {
		return fmt.Errorf("failed to join match: %w", err)
	}

	return c.JSON(entity.NewSnapshot(match, that.turnTimeout))
}

func (that *Server) handleMove(c *fiber.Ctx) error {
	var req moveRequest
	if err := c.BodyParser(&req); err != nil || req.Cell == nil {
		return fiber.NewError(fiber.StatusBadRequest, "cell is required")
	}

	match, err := that.mover.ApplyMove(c.UserContext(), c.Params("id"), playerFrom(c).ID, *req.Cell)
	if err != nil {
		return fmt.Errorf("failed to apply move: %w", err)
	}

	return c.JSON(entity.NewSnapshot(match, that.turnTimeout))
}

func (that *Server) handleCancel(c *fiber.Ctx) error {
	match, err := that.lobby.Cancel(c.UserContext(), c.Params("id"), playerFrom(c).ID)
	if err != nil {
		return fmt.Errorf("failed to cancel match: %w", err)
	}

	return c.JSON(entity.NewSnapshot(match, that.turnTimeout))
}

func (that *Server) handleMe(c *fiber.Ctx) error {
	account, err := that.accounts.GetAccount(c.UserContext(), playerFrom(c).ID)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}

	return c.JSON(account)
}
