// Package store holds the persistence gateway the game engine talks to.
package store

import (
	"context"
	"errors"
	"time"

	"moonvillage/internal/game"
)

// ErrNotFound is returned when a session, seat or message does not exist.
var ErrNotFound = errors.New("store: not found")

// Gateway is the narrow read/append surface the engine uses. Implementations must be safe
// for concurrent use. The engine never builds query text itself.
type Gateway interface {
	CreateSession(ctx context.Context, s *game.Session) error
	UpdateSession(ctx context.Context, s *game.Session) error
	GetSessionSnapshot(ctx context.Context, sessionID string) (*game.Snapshot, error)

	AddSeat(ctx context.Context, seat *game.Seat) error
	RemoveSeat(ctx context.Context, sessionID, seatID string) error
	SetSeatRole(ctx context.Context, sessionID, seatID, roleID string, team game.Team) error
	SetSeatAlive(ctx context.Context, sessionID, seatID string, alive bool) error

	ListRoles(ctx context.Context) ([]game.Role, error)

	AppendEvent(ctx context.Context, sessionID string, ev *game.Event) (string, error)
	ListEvents(ctx context.Context, sessionID string) ([]game.Event, error)

	// UpsertVote keeps one current vote per (session, voter, day). It returns the change
	// counter: 0 for a first vote, incremented on every overwrite. A nil target retracts.
	UpsertVote(ctx context.Context, sessionID string, day int, voterID string, targetID *string) (int, error)
	ListVotes(ctx context.Context, sessionID string, day int) ([]game.Vote, error)

	AppendMessage(ctx context.Context, sessionID string, msg *game.Message) (string, time.Time, error)
	RecentMessages(ctx context.Context, sessionID string, kind game.MessageKind, limit int) ([]game.Message, error)
	// SetReaction records reactor's reaction (last write wins) and returns all reactions.
	SetReaction(ctx context.Context, sessionID, messageID, reactorID, reaction string) (map[string]string, error)
}
