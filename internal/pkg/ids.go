package pkg

import "github.com/google/uuid"

// NewMatchID returns a fresh random identifier for a match.
func NewMatchID() string {
	return uuid.NewString()
}

// NewBotID returns a fresh identity suffix for a bot opponent.
func NewBotID() string {
	return uuid.NewString()
}

// NewAttemptRef tags one join attempt so a failed attempt does not block the next one.
func NewAttemptRef() string {
	return uuid.NewString()
}
