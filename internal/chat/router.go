// Package chat decides who receives a chat message and masks forbidden words.
package chat

import (
	"moonvillage/internal/game"
)

// Request is a message about to be routed.
type Request struct {
	Sender      *game.Seat
	Kind        game.MessageKind // requested kind; dead is never requested explicitly
	RecipientID string           // whispers only
}

// Room is the session state the router reads. It is a snapshot taken under the session lock.
type Room struct {
	Status   game.Status
	Phase    game.Phase
	Seats    []game.Seat
	Settings game.Settings
}

func (r Room) seat(id string) *game.Seat {
	for i := range r.Seats {
		if r.Seats[i].ID == id {
			return &r.Seats[i]
		}
	}
	return nil
}

// Route resolves the effective kind and audience (seat ids) of a message.
func Route(room Room, req Request) (game.MessageKind, []string, error) {
	sender := req.Sender
	if sender == nil {
		return "", nil, game.Errorf(game.CodePlayerNotFound, "sender is not seated in this session")
	}
	deadInGame := !sender.Alive && room.Status.Active()

	switch req.Kind {
	case game.MessageWhisper:
		recipient := room.seat(req.RecipientID)
		if recipient == nil {
			return "", nil, game.Errorf(game.CodeInvalidTarget, "whisper recipient is not seated in this session")
		}
		if recipient.ID == sender.ID {
			return "", nil, game.Errorf(game.CodeInvalidTarget, "cannot whisper to yourself")
		}
		if deadInGame && recipient.Alive {
			return "", nil, game.Errorf(game.CodeAuthorization, "the dead cannot whisper to the living")
		}
		return game.MessageWhisper, []string{sender.ID, recipient.ID}, nil

	case game.MessageTeam:
		if deadInGame {
			return game.MessageDead, deadAudience(room), nil
		}
		if sender.Team == game.TeamNone {
			return "", nil, game.Errorf(game.CodeAuthorization, "you have no team yet")
		}
		if _, ok := room.Settings.TeamChatPhases[sender.Team]; !ok {
			return "", nil, game.Errorf(game.CodeAuthorization, "your team has no team chat")
		}
		if !room.Settings.TeamMayChat(sender.Team, room.Phase) {
			return "", nil, game.Errorf(game.CodeAuthorization, "team chat is closed during %s", room.Phase)
		}
		var audience []string
		for _, s := range room.Seats {
			if s.Alive && s.Team == sender.Team {
				audience = append(audience, s.ID)
			}
		}
		return game.MessageTeam, audience, nil

	case game.MessageDead:
		if sender.Alive {
			return "", nil, game.Errorf(game.CodeAuthorization, "only eliminated players may use the dead chat")
		}
		return game.MessageDead, deadAudience(room), nil

	case game.MessagePublic, "":
		if deadInGame {
			return game.MessageDead, deadAudience(room), nil
		}
		if room.Status.Active() && sender.Alive && room.Phase == game.PhaseNight {
			return "", nil, game.Errorf(game.CodeAuthorization, "the village sleeps, public chat is closed at night")
		}
		audience := make([]string, 0, len(room.Seats))
		for _, s := range room.Seats {
			audience = append(audience, s.ID)
		}
		return game.MessagePublic, audience, nil
	}
	return "", nil, game.Errorf(game.CodeBadRequest, "unknown message kind %q", req.Kind)
}

func deadAudience(room Room) []string {
	var audience []string
	for _, s := range room.Seats {
		if !s.Alive {
			audience = append(audience, s.ID)
		}
	}
	return audience
}
