package entity

import "strings"

// BotIDPrefix marks bot identities, which never own a wallet.
const BotIDPrefix = "bot:"

// Player is an opaque identity supplied by the identity provider.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	IsBot    bool   `json:"is_bot,omitempty"`
}

func NewBotPlayer(id, username string) *Player {
	return &Player{
		ID:       BotIDPrefix + id,
		Username: username,
		IsBot:    true,
	}
}

func IsBotID(id string) bool {
	return strings.HasPrefix(id, BotIDPrefix)
}
