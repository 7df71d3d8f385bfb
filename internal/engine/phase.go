package engine

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/cenkalti/backoff/v5"

	"moonvillage/internal/game"
)

// Start assigns roles and opens the first night. Only the host may start a lobby.
func (e *Engine) Start(ctx context.Context, sessionID, actorUserID string) error {
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return err
	}
	if actorUserID == "" || actorUserID != r.session.HostUserID {
		r.mu.Unlock()
		return game.Errorf(game.CodeAuthorization, "only the host can start the game")
	}
	if len(r.seats) < e.opts.MinPlayers {
		r.mu.Unlock()
		return game.Errorf(game.CodeInsufficientPlayers, "need at least %d players, have %d", e.opts.MinPlayers, len(r.seats))
	}
	if r.session.Status != game.StatusLobby {
		r.mu.Unlock()
		return game.Errorf(game.CodeAlreadyStarted, "the game has already started")
	}
	if r.resolving || len(r.joining) > 0 {
		r.mu.Unlock()
		return game.Errorf(game.CodeInvalidPhase, "players are still joining")
	}
	r.resolving = true
	seatIDs := make([]string, len(r.seats))
	for i, s := range r.seats {
		seatIDs[i] = s.ID
	}
	sess := r.session
	r.mu.Unlock()

	roles, assignments, err := e.persistStart(ctx, r, &sess, seatIDs)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolving = false
	if err != nil {
		e.logFailure("start", sessionID, err)
		return err
	}
	r.roles = make(map[string]game.Role, len(roles))
	for _, role := range roles {
		r.roles[role.ID] = role
	}
	for _, a := range assignments {
		if seat := r.seat(a.SeatID); seat != nil {
			seat.RoleID, seat.Team = a.RoleID, a.Team
		}
	}
	r.session.Status = sess.Status
	r.session.Phase = sess.Phase
	r.session.Day = sess.Day
	r.session.StartedAt = sess.StartedAt
	r.seq++
	clear(r.votes)
	clear(r.staged)
	clear(r.ready)
	e.arm(r)

	roster := r.roster()
	for i := range r.seats {
		seat := &r.seats[i]
		self := r.selfRole(seat)
		if self == nil {
			continue
		}
		r.sendSeat(seat.ID, MsgGameStarted, gameStartedPayload{
			Roster:   roster,
			SelfRole: *self,
			Phase:    r.session.Phase,
			Day:      r.session.Day,
			Deadline: r.deadlinePtr(),
		})
	}
	e.log.Info().Str("session", sessionID).Int("seats", len(r.seats)).Msg("game started")
	return nil
}

func (e *Engine) persistStart(ctx context.Context, r *room, sess *game.Session, seatIDs []string) (roles []game.Role, assignments []game.Assignment, err error) {
	roles, err = e.gw.ListRoles(ctx)
	if err != nil {
		return nil, nil, game.Persistence("load roles", err)
	}
	pool := game.NewRolePool(roles, sess.Settings.RolePool)
	assignments, err = game.AssignRoles(seatIDs, pool, e.opts.Rand())
	if err != nil {
		return nil, nil, err
	}

	// A failure part way leaves the stored lobby as it was: roles cleared, session restored.
	orig := *sess
	var assigned []string
	sessionWritten := false
	defer func() {
		if err != nil {
			e.rollbackStart(context.WithoutCancel(ctx), r.id, &orig, assigned, sessionWritten)
		}
	}()

	for _, a := range assignments {
		if err = e.gw.SetSeatRole(ctx, r.id, a.SeatID, a.RoleID, a.Team); err != nil {
			return nil, nil, game.Persistence("set seat role", err)
		}
		assigned = append(assigned, a.SeatID)
	}

	now := e.sched.Now().UTC()
	sess.Status = game.StatusInProgress
	sess.Phase = game.PhaseNight
	sess.Day = 1
	sess.StartedAt = &now
	if err = e.gw.UpdateSession(ctx, sess); err != nil {
		return nil, nil, game.Persistence("update session", err)
	}
	sessionWritten = true
	payload, _ := json.Marshal(map[string]int{"seats": len(seatIDs)})
	if _, err = e.appendEvent(ctx, r, &game.Event{
		Type: game.EventGameStarted, Payload: payload, Phase: sess.Phase, Day: sess.Day, Public: true,
	}); err != nil {
		return nil, nil, err
	}
	for _, a := range assignments {
		payload, _ := json.Marshal(map[string]string{"roleId": a.RoleID})
		if _, err = e.appendEvent(ctx, r, &game.Event{
			Type: game.EventRoleAssigned, Payload: payload, Targets: []string{a.SeatID}, Phase: sess.Phase, Day: sess.Day,
		}); err != nil {
			return nil, nil, err
		}
	}
	return roles, assignments, nil
}

// rollbackStart undoes the writes of a failed start.
func (e *Engine) rollbackStart(ctx context.Context, sessionID string, orig *game.Session, seatIDs []string, sessionWritten bool) {
	if sessionWritten {
		if err := e.gw.UpdateSession(ctx, orig); err != nil {
			e.log.Error().Err(err).Str("session", sessionID).Msg("could not restore lobby after failed start")
		}
	}
	for _, id := range seatIDs {
		if err := e.gw.SetSeatRole(ctx, sessionID, id, "", game.TeamNone); err != nil {
			e.log.Error().Err(err).Str("session", sessionID).Str("seat", id).Msg("could not clear role after failed start")
		}
	}
}

// Advance moves a running game to its next phase on behalf of the host.
func (e *Engine) Advance(ctx context.Context, sessionID, actorUserID string) error {
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return err
	}
	if actorUserID == "" || actorUserID != r.session.HostUserID {
		r.mu.Unlock()
		return game.Errorf(game.CodeAuthorization, "only the host can advance the phase")
	}
	if !r.session.Status.Active() {
		r.mu.Unlock()
		return game.Errorf(game.CodeInvalidPhase, "the game is not running")
	}
	seq := r.seq
	r.mu.Unlock()
	_, err = e.AdvanceFrom(ctx, sessionID, seq)
	return err
}

// transition is everything a phase change writes, computed under the session lock.
type transition struct {
	from        game.Phase
	session     game.Session
	eliminated  *Elimination
	tally       *game.TallyResult
	inspections map[string]string
}

// AdvanceFrom performs the transition out of the phase numbered seq. Callers racing for the
// same phase collapse into one transition: the others, and any stale timer, get false.
func (e *Engine) AdvanceFrom(ctx context.Context, sessionID string, seq uint64) (bool, error) {
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !r.session.Status.Active() || r.resolving || r.seq != seq {
		r.mu.Unlock()
		return false, nil
	}
	r.resolving = true
	t := e.plan(r)
	r.mu.Unlock()

	err = e.persistTransition(ctx, r, t)

	r.mu.Lock()
	if err != nil {
		r.resolving = false
		r.mu.Unlock()
		e.logFailure("advance", sessionID, err)
		return false, err
	}
	e.apply(r, t)
	history := t.eliminated != nil && e.teller != nil
	r.mu.Unlock()

	if history {
		e.spawn(func() { e.narrate(sessionID) })
	}
	return true, nil
}

// plan computes the transition out of the current phase. Called with r.mu held.
func (e *Engine) plan(r *room) transition {
	from := r.session.Phase
	next, _ := from.Next()
	t := transition{from: from, session: r.session}
	t.session.Phase = next

	var victim, cause string
	switch from {
	case game.PhaseNight:
		t.session.Day++
		night := game.ResolveNight(r.staged)
		victim, cause = night.Victim, CauseNightKill
		t.inspections = night.Inspections
	case game.PhaseVoting:
		res := r.voteTally()
		t.tally = &res
		victim, cause = res.Leader, CauseLynch
	}

	seats := slices.Clone(r.seats)
	if seat := r.seat(victim); seat != nil && seat.Alive {
		t.eliminated = &Elimination{SeatID: seat.ID, Username: seat.Username, RoleID: seat.RoleID, Team: seat.Team, Cause: cause}
		for i := range seats {
			if seats[i].ID == victim {
				seats[i].Alive = false
			}
		}
	}

	if winner := game.EvaluateWin(seats); winner != game.TeamNone {
		now := e.sched.Now().UTC()
		t.session.Phase = game.PhaseEnded
		t.session.Status = game.StatusCompleted
		t.session.EndedAt = &now
		t.session.Winner = winner
	}
	return t
}

func (e *Engine) persistTransition(ctx context.Context, r *room, t transition) error {
	if t.eliminated != nil {
		if err := e.gw.SetSeatAlive(ctx, r.id, t.eliminated.SeatID, false); err != nil {
			return game.Persistence("set seat alive", err)
		}
	}
	if err := e.gw.UpdateSession(ctx, &t.session); err != nil {
		return game.Persistence("update session", err)
	}
	payload, _ := json.Marshal(map[string]game.Phase{"from": t.from, "to": t.session.Phase})
	if _, err := e.appendEvent(ctx, r, &game.Event{
		Type: game.EventPhaseChanged, Payload: payload, Phase: t.session.Phase, Day: t.session.Day, Public: true,
	}); err != nil {
		return err
	}
	if t.eliminated != nil {
		payload, _ := json.Marshal(t.eliminated)
		if _, err := e.appendEvent(ctx, r, &game.Event{
			Type: game.EventElimination, Payload: payload, Targets: []string{t.eliminated.SeatID},
			Phase: t.from, Day: t.session.Day, Public: true,
		}); err != nil {
			return err
		}
	}
	if t.session.Status == game.StatusCompleted {
		payload, _ := json.Marshal(map[string]game.Team{"winner": t.session.Winner})
		if _, err := e.appendEvent(ctx, r, &game.Event{
			Type: game.EventGameEnded, Payload: payload, Phase: t.session.Phase, Day: t.session.Day, Public: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// apply commits a persisted transition and notifies the room. Called with r.mu held.
func (e *Engine) apply(r *room, t transition) {
	if t.eliminated != nil {
		if seat := r.seat(t.eliminated.SeatID); seat != nil {
			seat.Alive = false
		}
	}
	next := t.session
	next.NextPosition = r.session.NextPosition
	r.session = next
	r.seq++
	r.resolving = false
	if t.from == game.PhaseNight {
		clear(r.staged)
		clear(r.votes)
	}
	clear(r.ready)

	r.stopTimer()
	if r.session.Status.Active() {
		e.arm(r)
	}

	payload := phaseChangedPayload{
		Phase:      r.session.Phase,
		Day:        r.session.Day,
		Deadline:   r.deadlinePtr(),
		Eliminated: t.eliminated,
		Roster:     r.roster(),
	}
	if t.tally != nil {
		payload.Tally = t.tally.Counts
		payload.Tie = t.tally.Tie
	}
	r.broadcast(MsgPhaseChanged, payload, nil)

	for investigator, target := range t.inspections {
		seer, inspected := r.seat(investigator), r.seat(target)
		if seer == nil || !seer.Alive || inspected == nil {
			continue
		}
		r.sendSeat(seer.ID, MsgInvestigationResult, investigationPayload{TargetID: target, Team: inspected.Team, Day: t.session.Day - 1})
	}

	if r.session.Status == game.StatusCompleted {
		r.broadcast(MsgGameEnded, gameEndedPayload{WinningFaction: r.session.Winner, Status: r.session.Status, Roster: r.roster()}, nil)
		e.log.Info().Str("session", r.id).Str("winner", string(r.session.Winner)).Int("day", r.session.Day).Msg("game ended")
		return
	}
	ev := e.log.Debug().Str("session", r.id).Str("phase", string(r.session.Phase)).Int("day", r.session.Day)
	if t.eliminated != nil {
		ev = ev.Str("eliminated", t.eliminated.SeatID).Str("cause", t.eliminated.Cause)
	}
	ev.Msg("phase changed")
}

// settle ends a running game whose seats already meet a win condition. Seats can change outside
// a transition when one is kicked. A transition in flight evaluates the win itself.
func (e *Engine) settle(ctx context.Context, sessionID string) error {
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return err
	}
	if !r.session.Status.Active() || r.resolving {
		r.mu.Unlock()
		return nil
	}
	winner := game.EvaluateWin(r.seats)
	if winner == game.TeamNone {
		r.mu.Unlock()
		return nil
	}
	r.resolving = true
	now := e.sched.Now().UTC()
	t := transition{from: r.session.Phase, session: r.session}
	t.session.Phase = game.PhaseEnded
	t.session.Status = game.StatusCompleted
	t.session.EndedAt = &now
	t.session.Winner = winner
	r.mu.Unlock()

	err = e.persistTransition(ctx, r, t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.resolving = false
		e.logFailure("settle", sessionID, err)
		return err
	}
	e.apply(r, t)
	return nil
}

// Abandon ends a lobby or running game without a winner. Only the host may abandon.
func (e *Engine) Abandon(ctx context.Context, sessionID, actorUserID string) error {
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return err
	}
	if actorUserID == "" || actorUserID != r.session.HostUserID {
		r.mu.Unlock()
		return game.Errorf(game.CodeAuthorization, "only the host can abandon the game")
	}
	if !r.session.Status.CanTransitionTo(game.StatusAbandoned) {
		r.mu.Unlock()
		return game.Errorf(game.CodeInvalidPhase, "the game is already over")
	}
	if r.resolving || len(r.joining) > 0 {
		r.mu.Unlock()
		return game.Errorf(game.CodeInvalidPhase, "a transition is in progress")
	}
	r.resolving = true
	now := e.sched.Now().UTC()
	sess := r.session
	sess.Status = game.StatusAbandoned
	sess.Phase = game.PhaseEnded
	sess.EndedAt = &now
	r.mu.Unlock()

	err = e.gw.UpdateSession(ctx, &sess)
	if err != nil {
		err = game.Persistence("update session", err)
	} else {
		payload, _ := json.Marshal(map[string]game.Status{"status": game.StatusAbandoned})
		_, err = e.appendEvent(ctx, r, &game.Event{
			Type: game.EventGameEnded, Payload: payload, Initiator: "", Phase: sess.Phase, Day: sess.Day, Public: true,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolving = false
	if err != nil {
		e.logFailure("abandon", sessionID, err)
		return err
	}
	r.session.Status = sess.Status
	r.session.Phase = sess.Phase
	r.session.EndedAt = sess.EndedAt
	r.seq++
	r.stopTimer()
	r.broadcast(MsgGameEnded, gameEndedPayload{Status: r.session.Status, Roster: r.roster()}, nil)
	e.log.Info().Str("session", sessionID).Msg("game abandoned")
	return nil
}

// arm stops any pending timer and schedules the end of the current phase.
// Called with r.mu held.
func (e *Engine) arm(r *room) {
	r.stopTimer()
	d := r.session.Settings.Duration(r.session.Phase)
	if d <= 0 {
		return
	}
	id, seq := r.id, r.seq
	r.deadline = e.sched.Now().Add(d).UTC()
	r.timer = e.sched.AfterFunc(d, func() {
		e.spawn(func() { e.expire(id, seq) })
	})
}

// expire advances the phase numbered seq when its timer fires. Gateway failures are retried
// with exponential backoff; once the retry window closes the timer is armed again.
func (e *Engine) expire(sessionID string, seq uint64) {
	ctx := e.ctx
	op := func() (bool, error) {
		ok, err := e.AdvanceFrom(ctx, sessionID, seq)
		if err != nil && game.CodeOf(err) != game.CodePersistence {
			return false, backoff.Permanent(err)
		}
		return ok, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(e.opts.RetryWindow),
	)
	if err == nil || ctx.Err() != nil {
		return
	}
	e.log.Error().Err(err).Str("session", sessionID).Uint64("seq", seq).Msg("timed advance failed, re-arming")

	e.mu.Lock()
	r := e.sessions[sessionID]
	e.mu.Unlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.loaded && r.seq == seq && !r.resolving && r.session.Status.Active() {
		e.arm(r)
	}
	r.mu.Unlock()
}

// spawn runs fn in the background unless the engine is closing.
func (e *Engine) spawn(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn()
	}()
}
