package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that decide between retrying, reporting and giving up.
type Kind string

const (
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindExternal   Kind = "external"
	KindUnknown    Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (that *Error) Error() string {
	if that.Err != nil {
		return fmt.Sprintf("%s: %v", that.Message, that.Err)
	}

	return that.Message
}

func (that *Error) Unwrap() error {
	return that.Err
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrBetOutOfRange       = newError(KindValidation, "bet_out_of_range", "bet amount is outside the allowed range")
	ErrInsufficientBalance = newError(KindValidation, "insufficient_balance", "insufficient balance")
	ErrOutOfRange          = newError(KindValidation, "out_of_range", "cell index is out of range")
	ErrInvalidPlayer       = newError(KindValidation, "invalid_player", "player identity is required")

	ErrMaintenance      = newError(KindState, "maintenance", "new matches are paused for maintenance")
	ErrMatchNotJoinable = newError(KindState, "match_not_joinable", "match is not joinable")
	ErrMatchNotPlaying  = newError(KindState, "match_not_playing", "match is not playing")
	ErrNotYourTurn      = newError(KindState, "not_your_turn", "it's not your turn")
	ErrCellOccupied     = newError(KindState, "cell_occupied", "cell is already occupied")
	ErrNotCancellable   = newError(KindState, "not_cancellable", "match can not be cancelled")
	ErrMatchNotTerminal = newError(KindState, "match_not_terminal", "match has not finished")

	ErrMatchNotFound  = newError(KindNotFound, "match_not_found", "match not found")
	ErrPlayerNotFound = newError(KindNotFound, "player_not_found", "player not found")

	ErrMatchAlreadyFull   = newError(KindConflict, "match_already_full", "match already has two players")
	ErrMatchAlreadyExists = newError(KindConflict, "match_already_exists", "match already exists")
	ErrAlreadySettled     = newError(KindConflict, "already_settled", "settlement already applied")
	ErrDuplicateEntry     = newError(KindConflict, "duplicate_entry", "ledger entry already applied")
	ErrConcurrentUpdate   = newError(KindConflict, "concurrent_update", "match was modified concurrently")
)

// External wraps a collaborator failure (storage, settings provider).
func External(op string, err error) error {
	return &Error{Kind: KindExternal, Code: "external", Message: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	return ""
}
