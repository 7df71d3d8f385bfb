package engine

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"moonvillage/internal/chat"
	"moonvillage/internal/game"
	"moonvillage/internal/store"
)

const (
	maxMessageRunes  = 1000
	maxReactionRunes = 32
)

func messageType(kind game.MessageKind) string {
	switch kind {
	case game.MessageWhisper:
		return MsgNewWhisper
	case game.MessageTeam:
		return MsgNewTeamMessage
	case game.MessageDead:
		return MsgNewDeadMessage
	}
	return MsgNewMessage
}

// Send routes a chat message from c's seat, masks forbidden words, stores it and delivers it
// to the audience computed at send time. A dead sender in a running game always lands in
// the dead channel.
func (e *Engine) Send(ctx context.Context, c *Client, kind game.MessageKind, content, recipientID string) (game.Message, error) {
	sessionID, seatID := c.Binding()
	if sessionID == "" {
		return game.Message{}, game.Errorf(game.CodePlayerNotFound, "not seated in a session")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return game.Message{}, game.Errorf(game.CodeBadRequest, "empty message")
	}
	if utf8.RuneCountInString(content) > maxMessageRunes {
		return game.Message{}, game.Errorf(game.CodeBadRequest, "message longer than %d characters", maxMessageRunes)
	}

	r, err := e.room(ctx, sessionID)
	if err != nil {
		return game.Message{}, err
	}
	req := chat.Request{Sender: r.seat(seatID), Kind: kind, RecipientID: recipientID}
	effective, audience, err := chat.Route(r.chatRoom(), req)
	seq := r.seq
	r.mu.Unlock()
	if err != nil {
		return game.Message{}, err
	}

	filtered, censored := e.filter.Apply(content)
	msg := game.Message{SenderID: seatID, Kind: effective, Content: filtered, Censored: censored}
	if effective == game.MessageWhisper {
		msg.RecipientID = recipientID
	}
	if _, _, err := e.gw.AppendMessage(ctx, sessionID, &msg); err != nil {
		err = game.Persistence("append message", err)
		e.logFailure("send", sessionID, err)
		return game.Message{}, err
	}

	// The audience was fixed when the message was routed. Seats removed since then are skipped.
	r.mu.Lock()
	defer r.mu.Unlock()
	present := audience[:0:0]
	for _, id := range audience {
		if r.seat(id) != nil {
			present = append(present, id)
		}
	}
	r.rememberAudience(msg.ID, present)
	r.sendSeats(present, messageType(effective), msg)
	if r.seq != seq {
		e.log.Debug().Str("session", sessionID).Str("message", msg.ID).Msg("message delivered across a phase change")
	}
	return msg, nil
}

// React records the reaction of c's seat to a message. The last reaction of a seat wins.
func (e *Engine) React(ctx context.Context, c *Client, messageID, reaction string) (map[string]string, error) {
	sessionID, seatID := c.Binding()
	if sessionID == "" {
		return nil, game.Errorf(game.CodePlayerNotFound, "not seated in a session")
	}
	reaction = strings.TrimSpace(reaction)
	if reaction == "" || utf8.RuneCountInString(reaction) > maxReactionRunes {
		return nil, game.Errorf(game.CodeBadRequest, "reaction must be 1 to %d characters", maxReactionRunes)
	}
	r, err := e.room(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if r.seat(seatID) == nil {
		r.mu.Unlock()
		return nil, game.Errorf(game.CodePlayerNotFound, "player is not seated in this session")
	}
	r.mu.Unlock()

	reactions, err := e.gw.SetReaction(ctx, sessionID, messageID, seatID, reaction)
	if errors.Is(err, store.ErrNotFound) {
		return nil, game.Errorf(game.CodeInvalidTarget, "no such message")
	}
	if err != nil {
		err = game.Persistence("set reaction", err)
		e.logFailure("react", sessionID, err)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	payload := reactionPayload{MessageID: messageID, Reactions: reactions, Reactor: seatID}
	if audience, ok := r.audiences[messageID]; ok {
		r.sendSeats(audience, MsgMessageReaction, payload)
	} else {
		r.broadcast(MsgMessageReaction, payload, nil)
	}
	return reactions, nil
}
