package engine

import (
	"encoding/json"
	"sync"
	"time"

	"moonvillage/internal/chat"
	"moonvillage/internal/game"
)

// room is the in-memory runtime of one session. Every field is guarded by mu.
type room struct {
	mu     sync.Mutex
	id     string
	loaded bool

	session game.Session
	seats   []game.Seat // ordered by position
	roles   map[string]game.Role

	members      map[string]map[*Client]struct{} // seat id -> bound connections
	disconnected map[string]bool                 // seats whose last connection dropped
	departed     map[string]bool                 // seats that left a running game

	votes    map[string]string // voter seat -> target seat, current day
	staged   map[string]game.StagedAction
	ready    map[string]bool
	stageSeq uint64

	// seq numbers phases. Timers and in-flight requests carry the seq they were issued for.
	seq       uint64
	resolving bool
	joining   map[string]bool // user ids with a seat being persisted
	timer     Timer
	deadline  time.Time

	audiences map[string][]string // message id -> seat ids, for reaction delivery
}

func newRoom(id string) *room {
	r := &room{id: id}
	r.reset()
	return r
}

func (r *room) reset() {
	r.members = make(map[string]map[*Client]struct{})
	r.disconnected = make(map[string]bool)
	r.departed = make(map[string]bool)
	r.votes = make(map[string]string)
	r.staged = make(map[string]game.StagedAction)
	r.ready = make(map[string]bool)
	r.audiences = make(map[string][]string)
	r.joining = make(map[string]bool)
}

func (r *room) seat(id string) *game.Seat {
	for i := range r.seats {
		if r.seats[i].ID == id {
			return &r.seats[i]
		}
	}
	return nil
}

func (r *room) seatOfUser(userID string) *game.Seat {
	for i := range r.seats {
		if r.seats[i].UserID == userID {
			return &r.seats[i]
		}
	}
	return nil
}

func (r *room) removeSeat(id string) {
	for i := range r.seats {
		if r.seats[i].ID == id {
			r.seats = append(r.seats[:i], r.seats[i+1:]...)
			break
		}
	}
	delete(r.votes, id)
	delete(r.staged, id)
	delete(r.ready, id)
	for voter, target := range r.votes {
		if target == id {
			delete(r.votes, voter)
		}
	}
	for actor, a := range r.staged {
		if a.Target == id {
			delete(r.staged, actor)
		}
	}
	delete(r.disconnected, id)
	delete(r.departed, id)
}

func (r *room) role(seat *game.Seat) *game.Role {
	if seat == nil || seat.RoleID == "" {
		return nil
	}
	role, ok := r.roles[seat.RoleID]
	if !ok {
		return nil
	}
	return &role
}

func (r *room) aliveCount() int {
	n := 0
	for _, s := range r.seats {
		if s.Alive {
			n++
		}
	}
	return n
}

func (r *room) connected() int {
	n := 0
	for _, clients := range r.members {
		n += len(clients)
	}
	return n
}

func (r *room) chatRoom() chat.Room {
	return chat.Room{
		Status:   r.session.Status,
		Phase:    r.session.Phase,
		Seats:    append([]game.Seat(nil), r.seats...),
		Settings: r.session.Settings,
	}
}

func (r *room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.deadline = time.Time{}
}

func (r *room) deadlinePtr() *time.Time {
	if r.deadline.IsZero() {
		return nil
	}
	d := r.deadline
	return &d
}

// bind attaches c to seatID. A connection belongs to at most one session.
func (r *room) bind(c *Client, seatID string) {
	clients, ok := r.members[seatID]
	if !ok {
		clients = make(map[*Client]struct{})
		r.members[seatID] = clients
	}
	clients[c] = struct{}{}
	c.bind(r.id, seatID)
}

// unbind detaches c and reports whether its seat has no connection left.
func (r *room) unbind(c *Client, seatID string) bool {
	clients := r.members[seatID]
	delete(clients, c)
	c.unbind()
	if len(clients) == 0 {
		delete(r.members, seatID)
		return true
	}
	return false
}

// sendSeat delivers to every connection bound to seatID.
func (r *room) sendSeat(seatID, msgType string, payload any) {
	for c := range r.members[seatID] {
		c.send(msgType, payload)
	}
}

// sendSeats delivers to the connections of seatIDs.
func (r *room) sendSeats(seatIDs []string, msgType string, payload any) {
	for _, id := range seatIDs {
		r.sendSeat(id, msgType, payload)
	}
}

// broadcast delivers to every bound connection except skip.
func (r *room) broadcast(msgType string, payload any, skip *Client) {
	for _, clients := range r.members {
		for c := range clients {
			if c != skip {
				c.send(msgType, payload)
			}
		}
	}
}

// roster is the public view of all seats. Roles of dead seats are revealed, and every role
// once the game is over.
func (r *room) roster() []PlayerView {
	over := r.session.Status == game.StatusCompleted || r.session.Status == game.StatusAbandoned
	out := make([]PlayerView, 0, len(r.seats))
	for _, s := range r.seats {
		v := PlayerView{
			SeatID:    s.ID,
			UserID:    s.UserID,
			Username:  s.Username,
			Position:  s.Position,
			Alive:     s.Alive,
			Connected: len(r.members[s.ID]) > 0,
		}
		if over || (!s.Alive && r.session.Status != game.StatusLobby) {
			v.RoleID, v.Team = s.RoleID, s.Team
		}
		out = append(out, v)
	}
	return out
}

func (r *room) view() SessionView {
	return SessionView{
		ID:         r.session.ID,
		Mode:       r.session.Mode,
		Status:     r.session.Status,
		Phase:      r.session.Phase,
		Day:        r.session.Day,
		MaxPlayers: r.session.MaxPlayers,
		HostUserID: r.session.HostUserID,
		Deadline:   r.deadlinePtr(),
		Winner:     r.session.Winner,
		Players:    r.roster(),
		Protected:  r.session.PasswordHash != "",
	}
}

// selfRole is what seat learns about its own role.
func (r *room) selfRole(seat *game.Seat) *SelfRole {
	role := r.role(seat)
	if role == nil {
		return nil
	}
	self := &SelfRole{RoleID: role.ID, Name: role.Name, Team: role.Team, Ability: role.Ability}
	if r.session.Settings.TeamMayChat(seat.Team, game.PhaseNight) {
		for _, s := range r.seats {
			if s.ID != seat.ID && s.Alive && s.Team == seat.Team {
				self.Allies = append(self.Allies, s.ID)
			}
		}
	}
	return self
}

func (r *room) voteTally() game.TallyResult {
	return game.Tally(r.votes, r.aliveCount(), r.session.Settings.RequireMajority)
}

// rememberAudience keeps the audience of recent messages so reactions reach the same seats.
func (r *room) rememberAudience(messageID string, audience []string) {
	if len(r.audiences) >= 512 {
		clear(r.audiences)
	}
	r.audiences[messageID] = audience
}

// stagedPayload is the event payload of a staged night ability.
type stagedPayload struct {
	Action game.ActionType `json:"action"`
	Extra  json.RawMessage `json:"extra,omitempty"`
}

func decodeStaged(ev game.Event) (game.StagedAction, bool) {
	if ev.Type != game.EventAction || len(ev.Targets) != 1 || ev.Initiator == "" {
		return game.StagedAction{}, false
	}
	var p stagedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || !p.Action.Staged() {
		return game.StagedAction{}, false
	}
	return game.StagedAction{Actor: ev.Initiator, Action: p.Action, Target: ev.Targets[0]}, true
}
