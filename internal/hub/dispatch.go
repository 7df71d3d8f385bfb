package hub

import (
	"context"
	"encoding/json"
	"errors"

	"moonvillage/internal/engine"
	"moonvillage/internal/game"
)

// Client → server frame types.
const (
	InAuthenticate = "authenticate"
	InJoin         = "join_game_room"
	InLeave        = "leave_game_room"
	InKick         = "kick_game_room"
	InReady        = "player_ready"
	InAction       = "game_action"
	InMessage      = "send_message"
	InWhisper      = "send_whisper"
	InTeamChat     = "team_chat"
	InReact        = "react_to_message"
	InStart        = "start_game"
	InAdvance      = "advance_phase"
	InAbandon      = "abandon_game"
	InPing         = "ping"
)

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type authenticateRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// roomRequest is the payload of the lobby and host frames. The display name always comes from
// the token, so a username sent by the client is ignored.
type roomRequest struct {
	SessionID    string `json:"sessionId"`
	Password     string `json:"password,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

type actionRequest struct {
	ActionType game.ActionType `json:"actionType"`
	TargetIDs  []string        `json:"targetIds"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type chatRequest struct {
	Content        string `json:"content"`
	TargetPlayerID string `json:"targetPlayerId,omitempty"`
}

type reactRequest struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return game.Errorf(game.CodeBadRequest, "malformed payload")
	}
	return nil
}

// dispatch runs one inbound frame and reports any failure to the sender only.
func (h *Hub) dispatch(c *conn, data []byte) {
	ctx, cancel := context.WithTimeout(h.ctx, h.opts.RequestTimeout)
	defer cancel()

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		h.fail(c, "", game.Errorf(game.CodeBadRequest, "malformed frame"))
		return
	}
	if err := h.handle(ctx, c, msg); err != nil {
		h.fail(c, msg.Type, err)
	}
}

func (h *Hub) handle(ctx context.Context, c *conn, msg inbound) error {
	e := h.engine
	switch msg.Type {
	case InPing:
		return c.Send(engine.MsgPong, struct{}{})

	case InAuthenticate:
		var req authenticateRequest
		if err := decode(msg.Payload, &req); err != nil {
			return err
		}
		_, err := e.Authenticate(ctx, c.client, req.UserID, req.SessionID, req.Token)
		return err

	case InJoin, InLeave, InKick, InStart, InAdvance, InAbandon:
		var req roomRequest
		if err := decode(msg.Payload, &req); err != nil {
			return err
		}
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID, _ = c.client.Binding()
		}
		if sessionID == "" {
			return game.Errorf(game.CodeBadRequest, "sessionId is required")
		}
		actor := c.userID()
		if actor == "" {
			return game.Errorf(game.CodeAuthentication, "authenticate first")
		}
		switch msg.Type {
		case InJoin:
			_, err := e.Join(ctx, c.client, sessionID, req.Password)
			return err
		case InLeave:
			return e.Leave(ctx, c.client, sessionID)
		case InKick:
			return e.Kick(ctx, sessionID, actor, req.TargetUserID)
		case InStart:
			return e.Start(ctx, sessionID, actor)
		case InAdvance:
			return e.Advance(ctx, sessionID, actor)
		default:
			return e.Abandon(ctx, sessionID, actor)
		}

	case InReady:
		_, err := e.Submit(ctx, c.client, game.ActionReady, nil, nil)
		return err

	case InAction:
		var req actionRequest
		if err := decode(msg.Payload, &req); err != nil {
			return err
		}
		_, err := e.Submit(ctx, c.client, req.ActionType, req.TargetIDs, req.Payload)
		return err

	case InMessage, InWhisper, InTeamChat:
		var req chatRequest
		if err := decode(msg.Payload, &req); err != nil {
			return err
		}
		kind := game.MessagePublic
		switch msg.Type {
		case InWhisper:
			kind = game.MessageWhisper
		case InTeamChat:
			kind = game.MessageTeam
		}
		_, err := e.Send(ctx, c.client, kind, req.Content, req.TargetPlayerID)
		return err

	case InReact:
		var req reactRequest
		if err := decode(msg.Payload, &req); err != nil {
			return err
		}
		_, err := e.React(ctx, c.client, req.MessageID, req.Reaction)
		return err
	}
	return game.Errorf(game.CodeBadRequest, "unknown message type %q", msg.Type)
}

// fail sends err to c as an error frame. Only game errors carry their message to the client.
func (h *Hub) fail(c *conn, msgType string, err error) {
	payload := engine.ErrorPayload{Code: game.CodeOf(err), Message: "internal error"}
	var ge *game.Error
	if errors.As(err, &ge) {
		payload.Message = ge.Message
	}
	if payload.Code == game.CodePersistence || ge == nil {
		h.log.Error().Err(err).Str("conn", c.id).Str("type", msgType).Msg("request failed")
	}
	c.Send(engine.MsgError, payload)
}
