package websocket

import (
	"encoding/json"
	"errors"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
)

const (
	actionSubscribe   = "match:subscribe"
	actionUnsubscribe = "match:unsubscribe"
	actionMove        = "match:move"

	actionSnapshot = "match:snapshot"
	actionError    = "match:error"
)

var (
	errInvalidMessage = errors.New("invalid message")
	errUnknownAction  = errors.New("unknown action")
	errMissingMatchID = errors.New("match_id is required")
	errMissingCell    = errors.New("cell is required")
	errAnonymous      = errors.New("connect with a user id to play")
)

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	MatchID string `json:"match_id"`
}

type movePayload struct {
	MatchID string `json:"match_id"`
	Cell    *int   `json:"cell"`
}

type errorPayload struct {
	Action string `json:"action,omitempty"`
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
}

func newErrorPayload(action string, err error) errorPayload {
	return errorPayload{
		Action: action,
		Error:  err.Error(),
		Code:   apperror.CodeOf(err),
	}
}
