package engine

import (
	"time"

	"moonvillage/internal/game"
)

// Server to client message types.
const (
	MsgAuthenticated       = "authenticated"
	MsgChatHistory         = "chat_history"
	MsgUserJoinedRoom      = "user_joined_room"
	MsgUserLeftRoom        = "user_left_room"
	MsgUserWasKicked       = "user_was_kicked"
	MsgGameStarted         = "game_started"
	MsgPhaseChanged        = "phase_changed"
	MsgVoteCast            = "vote_cast"
	MsgAbilityUsed         = "ability_used"
	MsgNewMessage          = "new_message"
	MsgNewWhisper          = "new_whisper"
	MsgNewTeamMessage      = "new_team_message"
	MsgNewDeadMessage      = "new_dead_message"
	MsgMessageReaction     = "message_reaction"
	MsgPlayerDisconnected  = "player_disconnected"
	MsgGameEnded           = "game_ended"
	MsgInvestigationResult = "investigation_result"
	MsgStory               = "story"
	MsgPong                = "pong"
	MsgError               = "error"
)

// PlayerView is a seat as other players see it. Role and team stay hidden until the game
// is over or the seat is dead.
type PlayerView struct {
	SeatID    string    `json:"seatId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Position  int       `json:"position"`
	Alive     bool      `json:"alive"`
	Connected bool      `json:"connected"`
	RoleID    string    `json:"roleId,omitempty"`
	Team      game.Team `json:"team,omitempty"`
}

// SessionView is the public state of a session.
type SessionView struct {
	ID         string       `json:"id"`
	Mode       string       `json:"mode"`
	Status     game.Status  `json:"status"`
	Phase      game.Phase   `json:"phase"`
	Day        int          `json:"day"`
	MaxPlayers int          `json:"maxPlayers"`
	HostUserID string       `json:"hostUserId"`
	Deadline   *time.Time   `json:"deadline,omitempty"`
	Winner     game.Team    `json:"winner,omitempty"`
	Players    []PlayerView `json:"players"`
	Protected  bool         `json:"passwordProtected"`
}

// SelfRole is the role a seat sees about itself.
type SelfRole struct {
	RoleID  string       `json:"roleId"`
	Name    string       `json:"name"`
	Team    game.Team    `json:"team"`
	Ability game.Ability `json:"ability"`
	// Allies lists living teammates when the team acts together at night.
	Allies []string `json:"allies,omitempty"`
}

type authenticatedPayload struct {
	Success bool        `json:"success"`
	SeatID  string      `json:"seatId,omitempty"`
	Session SessionView `json:"session"`
	Role    *SelfRole   `json:"selfRole,omitempty"`
}

type chatHistoryPayload struct {
	Messages []game.Message `json:"messages"`
}

type roomUserPayload struct {
	SeatID    string    `json:"seatId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type gameStartedPayload struct {
	Roster   []PlayerView `json:"roster"`
	SelfRole SelfRole     `json:"selfRole"`
	Phase    game.Phase   `json:"phase"`
	Day      int          `json:"day"`
	Deadline *time.Time   `json:"deadline,omitempty"`
}

// Elimination describes a seat that died during a transition.
type Elimination struct {
	SeatID   string    `json:"seatId"`
	Username string    `json:"username"`
	RoleID   string    `json:"roleId"`
	Team     game.Team `json:"team"`
	Cause    string    `json:"cause"`
}

// Elimination causes.
const (
	CauseNightKill = "night_kill"
	CauseLynch     = "lynch"
)

type phaseChangedPayload struct {
	Phase      game.Phase     `json:"phase"`
	Day        int            `json:"day"`
	Deadline   *time.Time     `json:"deadline,omitempty"`
	Eliminated *Elimination   `json:"resolvedElimination,omitempty"`
	Tally      map[string]int `json:"tally,omitempty"`
	Tie        bool           `json:"tie,omitempty"`
	Roster     []PlayerView   `json:"roster"`
}

type voteCastPayload struct {
	VoterID     string         `json:"voterId"`
	TargetID    string         `json:"targetId,omitempty"`
	ChangeCount int            `json:"changeCount"`
	Tally       map[string]int `json:"tally"`
}

type abilityUsedPayload struct {
	Success bool            `json:"success"`
	EventID string          `json:"eventId"`
	ActorID string          `json:"actorId"`
	Action  game.ActionType `json:"action"`
	Target  string          `json:"targetId,omitempty"`
}

type reactionPayload struct {
	MessageID string            `json:"messageId"`
	Reactions map[string]string `json:"reactions"`
	Reactor   string            `json:"reactor"`
}

type disconnectedPayload struct {
	SeatID string `json:"seatId"`
	UserID string `json:"userId"`
}

type gameEndedPayload struct {
	WinningFaction game.Team    `json:"winningFaction,omitempty"`
	Status         game.Status  `json:"status"`
	Roster         []PlayerView `json:"roster"`
}

type investigationPayload struct {
	TargetID string    `json:"targetId"`
	Team     game.Team `json:"team"`
	Day      int       `json:"day"`
}

type storyPayload struct {
	Text  string `json:"text"`
	Chunk bool   `json:"chunk,omitempty"`
}

// ErrorPayload is sent to the originating connection on a failed request.
type ErrorPayload struct {
	Code    game.Code `json:"code"`
	Message string    `json:"message"`
}
