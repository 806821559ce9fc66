package connector

import (
	"errors"

	"matchfabric/internal/state"
)

// The closed set of errors surfaced to clients. Transport and store failures
// are converted at the edge and never cross as-is.
var (
	ErrPlayerUnauthorized      = errors.New("player unauthorized")
	ErrNoServerOnline          = errors.New("no server online")
	ErrNoServerFound           = errors.New("no server found")
	ErrPlayerAlreadyJoined     = errors.New("player already joined")
	ErrNotEnoughPlayers        = errors.New("not enough players")
	ErrMatchAlreadyStarted     = errors.New("match already started")
	ErrMatchIsFull             = errors.New("match is full")
	ErrInvalidJoinToken        = errors.New("invalid join token")
	ErrHostingNotStarted       = errors.New("hosting not started")
	ErrPlayerNotAllowedToStart = errors.New("player not allowed to start")
)

// AlreadyHostingError rejects a second host request and carries the player's
// current room
type AlreadyHostingError struct {
	Host state.HostRequest
}

func (e *AlreadyHostingError) Error() string {
	return "player already hosting"
}

// AlreadyPlayingError carries the active match a reconnecting player is still
// part of. It is not user-visible: the caller delivers the match instead.
type AlreadyPlayingError struct {
	Match state.ActiveMatch
}

func (e *AlreadyPlayingError) Error() string {
	return "player already playing"
}
