package engine

import (
	"context"
	"encoding/json"

	"moonvillage/internal/game"
)

// Submit validates an action of c's seat, records it and applies it. Night abilities are
// staged until the night ends; votes replace the voter's current vote; ready marks the
// seat and advances the phase once every living seat is ready.
func (e *Engine) Submit(ctx context.Context, c *Client, action game.ActionType, targets []string, extra json.RawMessage) (string, error) {
	sessionID, seatID := c.Binding()
	if sessionID == "" {
		return "", game.Errorf(game.CodePlayerNotFound, "not seated in a session")
	}
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return "", err
	}
	seat := r.seat(seatID)
	if err := game.ValidateAction(seat, r.role(seat), r.session.Phase, action, targets, r.seat); err != nil {
		r.mu.Unlock()
		return "", err
	}
	if !r.session.Status.Active() || r.resolving {
		r.mu.Unlock()
		return "", game.Errorf(game.CodeInvalidPhase, "the phase is closing")
	}
	seq, phase, day := r.seq, r.session.Phase, r.session.Day
	prev, hadPrev := r.votes[seatID]
	r.mu.Unlock()

	var target string
	if len(targets) == 1 {
		target = targets[0]
	}
	eventID, changes, err := e.recordAction(ctx, r, seatID, action, targets, extra, phase, day)
	if err != nil {
		e.logFailure("submit", sessionID, err)
		return "", err
	}

	r.mu.Lock()
	var rejected error
	seat = r.seat(seatID)
	switch {
	case (r.seq != seq || r.resolving) && !(action == game.ActionVote && r.votingOpen(day)):
		rejected = game.Errorf(game.CodeInvalidPhase, "the phase ended before the action was applied")
	case seat == nil:
		rejected = game.Errorf(game.CodePlayerNotFound, "player is not seated in this session")
	case !seat.Alive:
		rejected = game.Errorf(game.CodeDeadPlayer, "dead players cannot act")
	case target != "" && r.seat(target) == nil:
		rejected = game.Errorf(game.CodeInvalidTarget, "target is no longer in this session")
	}
	if rejected != nil {
		r.mu.Unlock()
		if action == game.ActionVote {
			var restore *string
			if hadPrev {
				restore = &prev
			}
			e.revertVote(ctx, r.id, day, seatID, restore)
		}
		return "", rejected
	}
	seq = r.seq

	unanimous := false
	switch action {
	case game.ActionKill, game.ActionInvestigate, game.ActionProtect:
		r.stageSeq++
		r.staged[seatID] = game.StagedAction{Actor: seatID, Action: action, Target: target, Seq: r.stageSeq}
		used := abilityUsedPayload{Success: true, EventID: eventID, ActorID: seatID, Action: action, Target: target}
		if action == game.ActionKill {
			r.sendSeats(teamAllies(r, seat), MsgAbilityUsed, used)
		} else {
			r.sendSeat(seatID, MsgAbilityUsed, used)
		}
	case game.ActionVote:
		if target == "" {
			delete(r.votes, seatID)
		} else {
			r.votes[seatID] = target
		}
		r.broadcast(MsgVoteCast, voteCastPayload{
			VoterID:     seatID,
			TargetID:    target,
			ChangeCount: changes,
			Tally:       r.voteTally().Counts,
		}, nil)
	case game.ActionReady:
		r.ready[seatID] = true
		unanimous = r.allReady()
	}
	r.mu.Unlock()

	e.log.Debug().Str("session", sessionID).Str("seat", seatID).Str("action", string(action)).Str("target", target).Msg("action applied")
	if unanimous {
		if _, err := e.AdvanceFrom(ctx, sessionID, seq); err != nil {
			e.log.Warn().Err(err).Str("session", sessionID).Msg("ready advance failed, phase timer still armed")
		}
	}
	return eventID, nil
}

func (e *Engine) recordAction(ctx context.Context, r *room, seatID string, action game.ActionType, targets []string, extra json.RawMessage, phase game.Phase, day int) (string, int, error) {
	payload, err := json.Marshal(stagedPayload{Action: action, Extra: extra})
	if err != nil {
		return "", 0, game.Errorf(game.CodeBadRequest, "payload is not valid JSON")
	}
	eventID, err := e.appendEvent(ctx, r, &game.Event{
		Type:      game.EventAction,
		Payload:   payload,
		Initiator: seatID,
		Targets:   targets,
		Phase:     phase,
		Day:       day,
		Public:    !action.Staged(),
	})
	if err != nil {
		return "", 0, err
	}
	if action != game.ActionVote {
		return eventID, 0, nil
	}
	var target *string
	if len(targets) == 1 {
		target = &targets[0]
	}
	changes, err := e.gw.UpsertVote(ctx, r.id, day, seatID, target)
	if err != nil {
		return "", 0, game.Persistence("upsert vote", err)
	}
	return eventID, changes, nil
}

// votingOpen reports whether a vote recorded for day can still be applied. The day to voting
// transition keeps the day number, so such a vote stays valid. Called with r.mu held.
func (r *room) votingOpen(day int) bool {
	return r.session.Status.Active() && !r.resolving && r.session.Day == day &&
		game.ActionPhaseAllowed(game.ActionVote, r.session.Phase)
}

// revertVote puts the stored vote of voter back to restore after a recorded vote could not be
// applied, so a later rehydration does not resurrect it.
func (e *Engine) revertVote(ctx context.Context, sessionID string, day int, voter string, restore *string) {
	if _, err := e.gw.UpsertVote(ctx, sessionID, day, voter, restore); err != nil {
		e.log.Error().Err(err).Str("session", sessionID).Str("seat", voter).Msg("could not revert rejected vote")
	}
}

// allReady reports whether every living seat still in the game is ready.
func (r *room) allReady() bool {
	n := 0
	for _, s := range r.seats {
		if !s.Alive || r.departed[s.ID] {
			continue
		}
		if !r.ready[s.ID] {
			return false
		}
		n++
	}
	return n > 0
}

// teamAllies lists the living seats on seat's team, seat included.
func teamAllies(r *room, seat *game.Seat) []string {
	var out []string
	for _, s := range r.seats {
		if s.Alive && s.Team == seat.Team {
			out = append(out, s.ID)
		}
	}
	return out
}
