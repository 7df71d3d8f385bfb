package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"moonvillage/internal/game"
)

const storyTimeout = 60 * time.Second

// narrate asks the storyteller for a short story about the latest elimination and streams
// it to the session.
func (e *Engine) narrate(sessionID string) {
	ctx, cancel := context.WithTimeout(e.ctx, storyTimeout)
	defer cancel()

	events, err := e.gw.ListEvents(ctx, sessionID)
	if err != nil {
		e.logFailure("story history", sessionID, game.Persistence("list events", err))
		return
	}
	history := storyHistory(events)
	if len(history) == 0 {
		return
	}

	e.mu.Lock()
	r := e.sessions[sessionID]
	e.mu.Unlock()
	if r == nil {
		return
	}
	deliver := func(p storyPayload) {
		r.mu.Lock()
		r.broadcast(MsgStory, p, nil)
		r.mu.Unlock()
	}

	text, err := e.teller.Tell(ctx, history, func(chunk string) {
		deliver(storyPayload{Text: chunk, Chunk: true})
	})
	if err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("storyteller failed")
		return
	}
	if text == "" {
		return
	}
	deliver(storyPayload{Text: text})

	r.mu.Lock()
	phase, day := r.session.Phase, r.session.Day
	r.mu.Unlock()
	payload, _ := json.Marshal(map[string]string{"text": text})
	_, err = e.appendEvent(ctx, r, &game.Event{Type: game.EventStory, Payload: payload, Phase: phase, Day: day, Public: true})
	e.logFailure("story", sessionID, err)
}

// storyHistory renders the public deaths of a session as storyteller input.
func storyHistory(events []game.Event) []string {
	var lines []string
	for _, ev := range events {
		if !ev.Public {
			continue
		}
		switch ev.Type {
		case game.EventElimination:
			var el Elimination
			if err := json.Unmarshal(ev.Payload, &el); err != nil {
				continue
			}
			how := "was killed by the werewolves during the night"
			if el.Cause == CauseLynch {
				how = "was hanged by the village"
			}
			lines = append(lines, fmt.Sprintf("Day %d: %s (%s) %s.", ev.Day, el.Username, el.RoleID, how))
		case game.EventStory:
			var p map[string]string
			if err := json.Unmarshal(ev.Payload, &p); err == nil && p["text"] != "" {
				lines = append(lines, "Narrator: "+p["text"])
			}
		}
	}
	return lines
}
