package game

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusLobby      Status = "lobby"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusLobby:
		return next == StatusInProgress || next == StatusAbandoned
	case StatusInProgress:
		return next == StatusCompleted || next == StatusAbandoned
	default:
		return false
	}
}

// Active reports whether the game is running.
func (s Status) Active() bool { return s == StatusInProgress }

// Phase is the current phase of a session.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseNight   Phase = "night"
	PhaseDay     Phase = "day"
	PhaseVoting  Phase = "voting"
	PhaseResults Phase = "results"
	PhaseEnded   Phase = "ended"
)

// Next returns the phase that follows p in a running game.
// Ended and lobby have no successor.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseNight:
		return PhaseDay, true
	case PhaseDay:
		return PhaseVoting, true
	case PhaseVoting:
		return PhaseResults, true
	case PhaseResults:
		return PhaseNight, true
	}
	return "", false
}

// IsDaytime reports whether p is one of the day sub-phases.
func (p Phase) IsDaytime() bool {
	return p == PhaseDay || p == PhaseVoting || p == PhaseResults
}

// Team is the win-condition group of a role.
type Team string

const (
	TeamNone     Team = ""
	TeamVillage  Team = "village"
	TeamWerewolf Team = "werewolf"
)

// Ability is the capability a role grants.
type Ability string

const (
	AbilityNone        Ability = "none"
	AbilityKill        Ability = "kill"
	AbilityInvestigate Ability = "investigate"
	AbilityProtect     Ability = "protect"
)

// Arity is how many targets an ability takes.
type Arity string

const (
	AritySingle Arity = "single"
	ArityNone   Arity = "none"
)

// Role is immutable reference data.
type Role struct {
	ID      string  `json:"id" db:"id"`
	Name    string  `json:"name" db:"name"`
	Team    Team    `json:"team" db:"team"`
	Ability Ability `json:"ability" db:"ability"`
	Arity   Arity   `json:"arity" db:"arity"`
	Enabled bool    `json:"enabled" db:"enabled"`
}

// Settings configure a single session.
type Settings struct {
	RolePool       []string               `json:"rolePool,omitempty"` // enabled role ids; empty means all enabled roles
	Durations      map[Phase]time.Duration `json:"durations,omitempty"`
	TeamChatPhases map[Team][]Phase        `json:"teamChatPhases,omitempty"`
	// RequireMajority makes a lynch need more than half of the alive seats.
	RequireMajority bool `json:"requireMajority,omitempty"`
}

// DefaultSettings returns settings used when a session does not override them.
func DefaultSettings() Settings {
	return Settings{
		Durations: map[Phase]time.Duration{
			PhaseNight:   60 * time.Second,
			PhaseDay:     120 * time.Second,
			PhaseVoting:  45 * time.Second,
			PhaseResults: 10 * time.Second,
		},
		TeamChatPhases: map[Team][]Phase{
			TeamWerewolf: {PhaseNight},
		},
	}
}

// Duration returns the configured length of phase p.
func (s Settings) Duration(p Phase) time.Duration {
	if d, ok := s.Durations[p]; ok && d > 0 {
		return d
	}
	return DefaultSettings().Durations[p]
}

// TeamMayChat reports whether team t has a team channel open during phase p.
func (s Settings) TeamMayChat(t Team, p Phase) bool {
	for _, allowed := range s.TeamChatPhases[t] {
		if allowed == p {
			return true
		}
	}
	return false
}

// Session is one lobby or running game.
type Session struct {
	ID           string     `json:"id" db:"id"`
	Mode         string     `json:"mode" db:"mode"`
	Status       Status     `json:"status" db:"status"`
	Phase        Phase      `json:"phase" db:"phase"`
	Day          int        `json:"day" db:"day"`
	MaxPlayers   int        `json:"maxPlayers" db:"max_players"`
	HostUserID   string     `json:"hostUserId" db:"host_user_id"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	StartedAt    *time.Time `json:"startedAt,omitempty" db:"started_at"`
	EndedAt      *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	Settings     Settings   `json:"settings" db:"-"`
	PasswordHash string     `json:"-" db:"password_hash"`
	NextPosition int        `json:"-" db:"next_position"`
	Winner       Team       `json:"winner,omitempty" db:"winner"`
}

// Seat is a player's membership slot within a session.
type Seat struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	SessionID string    `json:"sessionId" db:"session_id"`
	Position  int       `json:"position" db:"position"`
	Alive     bool      `json:"alive" db:"alive"`
	RoleID    string    `json:"roleId,omitempty" db:"role_id"`
	Team      Team      `json:"team,omitempty" db:"team"`
	JoinedAt  time.Time `json:"joinedAt" db:"joined_at"`
}

// Snapshot is a session with its seats, ordered by position.
type Snapshot struct {
	Session Session
	Seats   []Seat
}

// EventType names an event in the append-only log.
type EventType string

const (
	EventPlayerJoined       EventType = "player_joined"
	EventPlayerLeft         EventType = "player_left"
	EventPlayerKicked       EventType = "player_kicked"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventPlayerReconnected  EventType = "player_reconnected"
	EventGameStarted        EventType = "game_started"
	EventRoleAssigned       EventType = "role_assigned"
	EventAction             EventType = "action"
	EventPhaseChanged       EventType = "phase_changed"
	EventElimination        EventType = "elimination"
	EventGameEnded          EventType = "game_ended"
	EventStory              EventType = "story"
)

// Event is an immutable record of something that happened in a session.
type Event struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"sessionId" db:"session_id"`
	Type      EventType       `json:"type" db:"type"`
	Payload   json.RawMessage `json:"payload,omitempty" db:"payload"`
	Initiator string          `json:"initiator,omitempty" db:"initiator"`
	Targets   []string        `json:"targets,omitempty" db:"-"`
	Phase     Phase           `json:"phase" db:"phase"`
	Day       int             `json:"day" db:"day"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	Public    bool            `json:"public" db:"public"`
}

// Vote is the current vote of one voter on one day.
type Vote struct {
	ID          string  `json:"id" db:"id"`
	SessionID   string  `json:"sessionId" db:"session_id"`
	Day         int     `json:"day" db:"day"`
	VoterID     string  `json:"voterId" db:"voter_id"`
	TargetID    *string `json:"targetId,omitempty" db:"target_id"`
	ChangeCount int     `json:"changeCount" db:"change_count"`
}

// MessageKind is the visibility class of a chat message.
type MessageKind string

const (
	MessagePublic  MessageKind = "public"
	MessageTeam    MessageKind = "team"
	MessageDead    MessageKind = "dead"
	MessageWhisper MessageKind = "whisper"
)

// Message is a chat line.
type Message struct {
	ID          string            `json:"id" db:"id"`
	SessionID   string            `json:"sessionId" db:"session_id"`
	SenderID    string            `json:"senderId,omitempty" db:"sender_id"`
	Kind        MessageKind       `json:"kind" db:"kind"`
	Content     string            `json:"content" db:"content"`
	RecipientID string            `json:"recipientId,omitempty" db:"recipient_id"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	Censored    bool              `json:"censored" db:"censored"`
	Reactions   map[string]string `json:"reactions,omitempty" db:"-"`
}

// ActionType is a player-submitted action.
type ActionType string

const (
	ActionKill        ActionType = "kill"
	ActionInvestigate ActionType = "investigate"
	ActionProtect     ActionType = "protect"
	ActionVote        ActionType = "vote"
	ActionReady       ActionType = "ready"
)

// Ability returns the role ability that grants the action, or AbilityNone when every
// role may perform it.
func (a ActionType) Ability() Ability {
	switch a {
	case ActionKill:
		return AbilityKill
	case ActionInvestigate:
		return AbilityInvestigate
	case ActionProtect:
		return AbilityProtect
	}
	return AbilityNone
}

// Staged reports whether the action is resolved only at the night→day transition.
func (a ActionType) Staged() bool {
	return a == ActionKill || a == ActionInvestigate || a == ActionProtect
}
