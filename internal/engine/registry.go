package engine

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/google/uuid"

	"moonvillage/internal/game"
)

// CreateRequest describes a new lobby.
type CreateRequest struct {
	Mode       string         `json:"mode"`
	MaxPlayers int            `json:"maxPlayers"`
	Password   string         `json:"password"`
	Settings   *game.Settings `json:"settings"`
}

// CreateSession opens a lobby hosted by hostUserID.
func (e *Engine) CreateSession(ctx context.Context, hostUserID string, req CreateRequest) (SessionView, error) {
	if hostUserID == "" {
		return SessionView{}, game.Errorf(game.CodeAuthentication, "a host is required")
	}
	maxPlayers := req.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = e.opts.DefaultMaxPlayers
	}
	if maxPlayers < e.opts.MinPlayers {
		return SessionView{}, game.Errorf(game.CodeBadRequest, "max players must be at least %d", e.opts.MinPlayers)
	}
	settings := e.opts.Settings
	if req.Settings != nil {
		settings = *req.Settings
		if settings.Durations == nil {
			settings.Durations = e.opts.Settings.Durations
		}
		if settings.TeamChatPhases == nil {
			settings.TeamChatPhases = e.opts.Settings.TeamChatPhases
		}
	}
	mode := req.Mode
	if mode == "" {
		mode = "classic"
	}
	hash, err := e.passwords.Hash(req.Password)
	if err != nil {
		return SessionView{}, game.Errorf(game.CodeBadRequest, "unusable password")
	}
	roles, err := e.gw.ListRoles(ctx)
	if err != nil {
		return SessionView{}, game.Persistence("load roles", err)
	}

	sess := game.Session{
		ID:           uuid.NewString(),
		Mode:         mode,
		Status:       game.StatusLobby,
		Phase:        game.PhaseLobby,
		MaxPlayers:   maxPlayers,
		HostUserID:   hostUserID,
		CreatedAt:    e.sched.Now().UTC(),
		Settings:     settings,
		PasswordHash: hash,
	}
	if err := e.gw.CreateSession(ctx, &sess); err != nil {
		return SessionView{}, game.Persistence("create session", err)
	}

	r := newRoom(sess.ID)
	r.session = sess
	r.roles = make(map[string]game.Role, len(roles))
	for _, role := range roles {
		r.roles[role.ID] = role
	}
	r.loaded = true
	e.mu.Lock()
	e.sessions[sess.ID] = r
	e.mu.Unlock()

	e.log.Info().Str("session", sess.ID).Str("host", hostUserID).Int("max_players", maxPlayers).Msg("session created")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view(), nil
}

// Session returns the public state of a session.
func (e *Engine) Session(ctx context.Context, sessionID string) (SessionView, error) {
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	defer r.mu.Unlock()
	return r.view(), nil
}

// Authenticate verifies token for userID and binds c to the user's seat in sessionID.
// When the user has no seat the identity is still remembered, so a following Join can
// create one, and PlayerNotFound is returned.
func (e *Engine) Authenticate(ctx context.Context, c *Client, userID, sessionID, token string) (game.Seat, error) {
	id, err := e.tokens.Verify(token)
	if err != nil || (userID != "" && id.UserID != userID) {
		return game.Seat{}, game.Errorf(game.CodeAuthentication, "invalid credentials")
	}
	c.setIdentity(id.UserID, id.Username)
	if bound, _ := c.Binding(); bound != "" && bound != sessionID {
		e.Disconnect(ctx, c)
	}

	r, err := e.room(ctx, sessionID)
	if err != nil {
		return game.Seat{}, err
	}
	seat := r.seatOfUser(id.UserID)
	if seat == nil {
		r.mu.Unlock()
		return game.Seat{}, game.Errorf(game.CodePlayerNotFound, "you have no seat in this session")
	}
	reconnect := r.disconnected[seat.ID]
	delete(r.disconnected, seat.ID)
	delete(r.departed, seat.ID)
	e.attach(r, c, seat)
	out := *seat
	day, phase := r.session.Day, r.session.Phase
	r.mu.Unlock()

	e.markOnline(sessionID, id.UserID)
	if reconnect {
		_, err := e.appendEvent(ctx, r, &game.Event{
			Type: game.EventPlayerReconnected, Initiator: out.ID, Phase: phase, Day: day, Public: true,
		})
		e.logFailure("reconnect", sessionID, err)
	}
	e.sendHistory(ctx, c, sessionID)
	e.log.Debug().Str("session", sessionID).Str("seat", out.ID).Bool("reconnect", reconnect).Msg("authenticated")
	return out, nil
}

// Join seats the authenticated user of c in a lobby and binds c to the new seat.
func (e *Engine) Join(ctx context.Context, c *Client, sessionID, password string) (game.Seat, error) {
	userID, username := c.Identity()
	if userID == "" {
		return game.Seat{}, game.Errorf(game.CodeAuthentication, "authenticate before joining")
	}
	if bound, _ := c.Binding(); bound != "" && bound != sessionID {
		e.Disconnect(ctx, c)
	}

	r, err := e.room(ctx, sessionID)
	if err != nil {
		return game.Seat{}, err
	}
	if seat := r.seatOfUser(userID); seat != nil {
		delete(r.disconnected, seat.ID)
		delete(r.departed, seat.ID)
		e.attach(r, c, seat)
		out := *seat
		r.mu.Unlock()
		e.markOnline(sessionID, userID)
		return out, nil
	}
	if r.session.Status != game.StatusLobby || r.resolving {
		r.mu.Unlock()
		return game.Seat{}, game.Errorf(game.CodeAlreadyStarted, "the game has already started")
	}
	if r.joining[userID] {
		r.mu.Unlock()
		return game.Seat{}, game.Errorf(game.CodeBadRequest, "join already in progress")
	}
	if len(r.seats)+len(r.joining) >= r.session.MaxPlayers {
		r.mu.Unlock()
		return game.Seat{}, game.Errorf(game.CodeGameFull, "the session is full")
	}
	hash := r.session.PasswordHash
	r.joining[userID] = true
	seat := game.Seat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		SessionID: sessionID,
		Position:  r.session.NextPosition,
		Alive:     true,
		JoinedAt:  e.sched.Now().UTC(),
	}
	r.session.NextPosition++
	sess := r.session
	r.mu.Unlock()

	err = e.persistJoin(ctx, r, hash, password, &sess, &seat)

	r.mu.Lock()
	delete(r.joining, userID)
	if err != nil {
		r.mu.Unlock()
		e.logFailure("join", sessionID, err)
		return game.Seat{}, err
	}
	i, _ := slices.BinarySearchFunc(r.seats, seat.Position, func(s game.Seat, pos int) int { return s.Position - pos })
	r.seats = slices.Insert(r.seats, i, seat)
	e.attach(r, c, &r.seats[i])
	r.mu.Unlock()

	e.markOnline(sessionID, userID)
	e.sendHistory(ctx, c, sessionID)
	e.log.Info().Str("session", sessionID).Str("seat", seat.ID).Str("user", userID).Int("position", seat.Position).Msg("player joined")
	return seat, nil
}

func (e *Engine) persistJoin(ctx context.Context, r *room, hash, password string, sess *game.Session, seat *game.Seat) error {
	if !e.passwords.Check(hash, password) {
		return game.Errorf(game.CodeAuthentication, "wrong session password")
	}
	if err := e.gw.AddSeat(ctx, seat); err != nil {
		return game.Persistence("add seat", err)
	}
	if err := e.gw.UpdateSession(ctx, sess); err != nil {
		return game.Persistence("update session", err)
	}
	_, err := e.appendEvent(ctx, r, &game.Event{
		Type: game.EventPlayerJoined, Initiator: seat.ID, Phase: sess.Phase, Day: sess.Day, Public: true,
	})
	return err
}

// attach binds c to seat and announces it. Called with r.mu held.
func (e *Engine) attach(r *room, c *Client, seat *game.Seat) {
	if bound, old := c.Binding(); bound == r.id && old != "" && old != seat.ID {
		r.unbind(c, old)
	}
	r.bind(c, seat.ID)
	c.send(MsgAuthenticated, authenticatedPayload{Success: true, SeatID: seat.ID, Session: r.view(), Role: r.selfRole(seat)})
	r.broadcast(MsgUserJoinedRoom, roomUserPayload{SeatID: seat.ID, UserID: seat.UserID, Username: seat.Username, Timestamp: e.sched.Now().UTC()}, c)
}

func (e *Engine) sendHistory(ctx context.Context, c *Client, sessionID string) {
	msgs, err := e.gw.RecentMessages(ctx, sessionID, game.MessagePublic, e.opts.HistoryLimit)
	if err != nil {
		e.logFailure("chat history", sessionID, game.Persistence("recent messages", err))
		return
	}
	if msgs == nil {
		msgs = []game.Message{}
	}
	c.send(MsgChatHistory, chatHistoryPayload{Messages: msgs})
}

// Leave gives up the seat of c's user. In a lobby the seat is removed; in a running game
// the seat stays as a spectator. Leaving twice is a no-op.
func (e *Engine) Leave(ctx context.Context, c *Client, sessionID string) error {
	userID, _ := c.Identity()
	if userID == "" {
		return game.Errorf(game.CodeAuthentication, "not authenticated")
	}
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return err
	}
	seat := r.seatOfUser(userID)
	if seat == nil {
		if bound, seatID := c.Binding(); bound == sessionID {
			r.unbind(c, seatID)
		}
		r.mu.Unlock()
		return nil
	}
	seatID := seat.ID
	payload := roomUserPayload{SeatID: seat.ID, UserID: seat.UserID, Username: seat.Username, Timestamp: e.sched.Now().UTC()}
	lobby := r.session.Status == game.StatusLobby
	if lobby && r.resolving {
		r.mu.Unlock()
		return game.Errorf(game.CodeInvalidPhase, "the game is starting")
	}
	phase, day := r.session.Phase, r.session.Day
	r.mu.Unlock()

	if lobby {
		if err := e.gw.RemoveSeat(ctx, sessionID, seatID); err != nil {
			err = game.Persistence("remove seat", err)
			e.logFailure("leave", sessionID, err)
			return err
		}
	}
	_, err = e.appendEvent(ctx, r, &game.Event{
		Type: game.EventPlayerLeft, Initiator: seatID, Phase: phase, Day: day, Public: true,
	})
	if err != nil {
		e.logFailure("leave", sessionID, err)
		return err
	}

	r.mu.Lock()
	if r.seat(seatID) == nil {
		r.mu.Unlock()
		return nil
	}
	if lobby {
		for other := range r.members[seatID] {
			r.unbind(other, seatID)
		}
		r.removeSeat(seatID)
	} else {
		r.departed[seatID] = true
		r.unbind(c, seatID)
	}
	r.broadcast(MsgUserLeftRoom, payload, nil)
	r.mu.Unlock()

	e.markOffline(sessionID, userID)
	return nil
}

// Disconnect unbinds c after its transport closed. The seat and anything it staged stay.
func (e *Engine) Disconnect(ctx context.Context, c *Client) {
	sessionID, seatID := c.Binding()
	if sessionID == "" {
		return
	}
	r, err := e.room(ctx, sessionID)
	if err != nil {
		c.unbind()
		return
	}
	if _, ok := r.members[seatID][c]; !ok {
		c.unbind()
		r.mu.Unlock()
		return
	}
	last := r.unbind(c, seatID)
	seat := r.seat(seatID)
	var userID string
	phase, day := r.session.Phase, r.session.Day
	if last && seat != nil {
		userID = seat.UserID
		r.disconnected[seatID] = true
		r.broadcast(MsgPlayerDisconnected, disconnectedPayload{SeatID: seatID, UserID: userID}, nil)
	}
	e.forget(r)
	r.mu.Unlock()

	if userID == "" {
		return
	}
	e.markOffline(sessionID, userID)
	_, err = e.appendEvent(ctx, r, &game.Event{
		Type: game.EventPlayerDisconnected, Initiator: seatID, Phase: phase, Day: day, Public: true,
	})
	e.logFailure("disconnect", sessionID, err)
}

// Kick removes targetUserID's seat. Only the host may kick; kicking an absent user is a no-op.
func (e *Engine) Kick(ctx context.Context, sessionID, actorUserID, targetUserID string) error {
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return err
	}
	if actorUserID == "" || actorUserID != r.session.HostUserID {
		r.mu.Unlock()
		return game.Errorf(game.CodeAuthorization, "only the host can kick players")
	}
	target := r.seatOfUser(targetUserID)
	if target == nil {
		r.mu.Unlock()
		return nil
	}
	if targetUserID == actorUserID {
		r.mu.Unlock()
		return game.Errorf(game.CodeInvalidTarget, "the host cannot kick themselves")
	}
	if r.resolving {
		r.mu.Unlock()
		return game.Errorf(game.CodeInvalidPhase, "a phase transition is in progress")
	}
	seatID := target.ID
	payload := roomUserPayload{SeatID: target.ID, UserID: target.UserID, Username: target.Username, Timestamp: e.sched.Now().UTC()}
	phase, day := r.session.Phase, r.session.Day
	r.mu.Unlock()

	if err := e.gw.RemoveSeat(ctx, sessionID, seatID); err != nil {
		err = game.Persistence("remove seat", err)
		e.logFailure("kick", sessionID, err)
		return err
	}
	extra, _ := json.Marshal(map[string]string{"kickedBy": actorUserID})
	_, err = e.appendEvent(ctx, r, &game.Event{
		Type: game.EventPlayerKicked, Payload: extra, Targets: []string{seatID}, Phase: phase, Day: day, Public: true,
	})
	if err != nil {
		e.logFailure("kick", sessionID, err)
		return err
	}

	r.mu.Lock()
	if r.seat(seatID) == nil {
		r.mu.Unlock()
		return nil
	}
	r.broadcast(MsgUserWasKicked, payload, nil)
	for c := range r.members[seatID] {
		r.unbind(c, seatID)
	}
	r.removeSeat(seatID)
	r.mu.Unlock()

	e.markOffline(sessionID, targetUserID)
	e.log.Info().Str("session", sessionID).Str("seat", seatID).Str("by", actorUserID).Msg("player kicked")
	if err := e.settle(ctx, sessionID); err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("win check after kick failed, next transition retries it")
	}
	return nil
}
