package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"moonvillage/internal/game"
)

type voteKey struct {
	session string
	day     int
	voter   string
}

// Memory is an in-process gateway. It backs tests and single-node dev runs.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]game.Session
	seats    map[string]map[string]game.Seat // session -> seat id -> seat
	roles    []game.Role
	events   map[string][]game.Event
	votes    map[voteKey]game.Vote
	messages map[string][]game.Message
	now      func() time.Time
}

// NewMemory creates an empty store seeded with the default roles.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]game.Session),
		seats:    make(map[string]map[string]game.Seat),
		roles:    game.DefaultRoles(),
		events:   make(map[string][]game.Event),
		votes:    make(map[voteKey]game.Vote),
		messages: make(map[string][]game.Message),
		now:      time.Now,
	}
}

func (m *Memory) CreateSession(_ context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("store: session %s already exists", s.ID)
	}
	m.sessions[s.ID] = *s
	m.seats[s.ID] = make(map[string]game.Seat)
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	next := *s
	next.NextPosition = max(prev.NextPosition, s.NextPosition)
	m.sessions[s.ID] = next
	return nil
}

func (m *Memory) GetSessionSnapshot(_ context.Context, sessionID string) (*game.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	snap := &game.Snapshot{Session: s}
	for _, seat := range m.seats[sessionID] {
		snap.Seats = append(snap.Seats, seat)
	}
	sort.Slice(snap.Seats, func(i, j int) bool { return snap.Seats[i].Position < snap.Seats[j].Position })
	return snap, nil
}

func (m *Memory) AddSeat(_ context.Context, seat *game.Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seats, ok := m.seats[seat.SessionID]
	if !ok {
		return ErrNotFound
	}
	for _, s := range seats {
		if s.UserID == seat.UserID {
			return fmt.Errorf("store: user %s already seated in %s", seat.UserID, seat.SessionID)
		}
	}
	if seat.ID == "" {
		seat.ID = uuid.NewString()
	}
	seats[seat.ID] = *seat
	return nil
}

func (m *Memory) RemoveSeat(_ context.Context, sessionID, seatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seats[sessionID], seatID)
	return nil
}

func (m *Memory) updateSeat(sessionID, seatID string, fn func(*game.Seat)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seat, ok := m.seats[sessionID][seatID]
	if !ok {
		return ErrNotFound
	}
	fn(&seat)
	m.seats[sessionID][seatID] = seat
	return nil
}

func (m *Memory) SetSeatRole(_ context.Context, sessionID, seatID, roleID string, team game.Team) error {
	return m.updateSeat(sessionID, seatID, func(s *game.Seat) {
		s.RoleID = roleID
		s.Team = team
	})
}

func (m *Memory) SetSeatAlive(_ context.Context, sessionID, seatID string, alive bool) error {
	return m.updateSeat(sessionID, seatID, func(s *game.Seat) { s.Alive = alive })
}

func (m *Memory) ListRoles(context.Context) ([]game.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]game.Role(nil), m.roles...), nil
}

func (m *Memory) AppendEvent(_ context.Context, sessionID string, ev *game.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return "", ErrNotFound
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	ev.SessionID = sessionID
	m.events[sessionID] = append(m.events[sessionID], *ev)
	return ev.ID, nil
}

func (m *Memory) ListEvents(_ context.Context, sessionID string) ([]game.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]game.Event(nil), m.events[sessionID]...), nil
}

func (m *Memory) UpsertVote(_ context.Context, sessionID string, day int, voterID string, targetID *string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := voteKey{sessionID, day, voterID}
	v, ok := m.votes[key]
	if !ok {
		v = game.Vote{ID: uuid.NewString(), SessionID: sessionID, Day: day, VoterID: voterID}
	} else {
		v.ChangeCount++
	}
	if targetID != nil {
		t := *targetID
		v.TargetID = &t
	} else {
		v.TargetID = nil
	}
	m.votes[key] = v
	return v.ChangeCount, nil
}

func (m *Memory) ListVotes(_ context.Context, sessionID string, day int) ([]game.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []game.Vote
	for k, v := range m.votes {
		if k.session == sessionID && k.day == day {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, sessionID string, msg *game.Message) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return "", time.Time{}, ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	msg.CreatedAt = m.now()
	m.messages[sessionID] = append(m.messages[sessionID], *msg)
	return msg.ID, msg.CreatedAt, nil
}

func (m *Memory) RecentMessages(_ context.Context, sessionID string, kind game.MessageKind, limit int) ([]game.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []game.Message
	for _, msg := range m.messages[sessionID] {
		if msg.Kind == kind {
			msg.Reactions = maps.Clone(msg.Reactions)
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) SetReaction(_ context.Context, sessionID, messageID, reactorID, reaction string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		if msgs[i].Reactions == nil {
			msgs[i].Reactions = make(map[string]string)
		}
		msgs[i].Reactions[reactorID] = reaction
		return maps.Clone(msgs[i].Reactions), nil
	}
	return nil, ErrNotFound
}
