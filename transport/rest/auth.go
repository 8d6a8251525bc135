package rest

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

const (
	headerUserID     = "X-User-ID"
	headerUsername   = "X-Username"
	headerUserAvatar = "X-User-Avatar"

	localPlayer = "player"
)

// identity trusts the identity headers set by the gateway in front of us and registers the wallet on first sight.
func (that *Server) identity(c *fiber.Ctx) error {
	player := &entity.Player{
		ID:       c.Get(headerUserID),
		Username: c.Get(headerUsername),
		Avatar:   c.Get(headerUserAvatar),
	}

	if player.ID == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing "+headerUserID+" header")
	}

	if entity.IsBotID(player.ID) {
		return fiber.NewError(fiber.StatusForbidden, "reserved user id")
	}

	if err := that.accounts.Register(c.UserContext(), player); err != nil {
		return fmt.Errorf("failed to register player: %w", err)
	}

	c.Locals(localPlayer, player)

	return c.Next()
}

func playerFrom(c *fiber.Ctx) *entity.Player {
	player, _ := c.Locals(localPlayer).(*entity.Player)
	return player
}
