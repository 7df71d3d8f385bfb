package game

import (
	"errors"
	"fmt"
)

// Code identifies the kind of a game error. Codes are sent to clients verbatim.
type Code string

const (
	CodeAuthentication      Code = "authentication"
	CodePlayerNotFound      Code = "player_not_found"
	CodeDeadPlayer          Code = "dead_player"
	CodeInvalidRoleAction   Code = "invalid_role_action"
	CodeInvalidPhase        Code = "invalid_phase"
	CodeInvalidTarget       Code = "invalid_target"
	CodeAuthorization       Code = "authorization"
	CodeGameFull            Code = "game_full"
	CodeAlreadyStarted      Code = "already_started"
	CodeInsufficientPlayers Code = "insufficient_players"
	CodePersistence         Code = "persistence"
	CodeSessionNotFound     Code = "session_not_found"
	CodeBadRequest          Code = "bad_request"
)

// Error is a recoverable game error reported to the originating connection.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrAuthentication      = &Error{Code: CodeAuthentication}
	ErrPlayerNotFound      = &Error{Code: CodePlayerNotFound}
	ErrDeadPlayer          = &Error{Code: CodeDeadPlayer}
	ErrInvalidRoleAction   = &Error{Code: CodeInvalidRoleAction}
	ErrInvalidPhase        = &Error{Code: CodeInvalidPhase}
	ErrInvalidTarget       = &Error{Code: CodeInvalidTarget}
	ErrAuthorization       = &Error{Code: CodeAuthorization}
	ErrGameFull            = &Error{Code: CodeGameFull}
	ErrAlreadyStarted      = &Error{Code: CodeAlreadyStarted}
	ErrInsufficientPlayers = &Error{Code: CodeInsufficientPlayers}
	ErrPersistence         = &Error{Code: CodePersistence}
	ErrSessionNotFound     = &Error{Code: CodeSessionNotFound}
	ErrBadRequest          = &Error{Code: CodeBadRequest}
)

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a gateway failure.
func Persistence(op string, err error) *Error {
	return &Error{Code: CodePersistence, Message: op, Err: err}
}

// CodeOf returns the code of err, or CodePersistence for anything that is not a game error.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodePersistence
}
