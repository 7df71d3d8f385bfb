package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"moonvillage/internal/engine"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 16 << 10
)

var (
	errClosed       = errors.New("connection closed")
	errSlowConsumer = errors.New("send buffer full")
)

// envelope is the wire shape of every frame in both directions.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// conn is one websocket. It is the engine's Sender for its Client: Send queues a frame
// without blocking and writePump is the only writer of the socket.
type conn struct {
	id     string
	hub    *Hub
	ws     *websocket.Conn
	client *engine.Client
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newConn(h *Hub, ws *websocket.Conn) *conn {
	c := &conn{
		id:   uuid.NewString(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	c.client = engine.NewClient(c)
	return c
}

// Send implements engine.Sender. A client that cannot keep up is dropped.
func (c *conn) Send(msgType string, payload any) error {
	data, err := json.Marshal(envelope{Type: msgType, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.hub.log.Warn().Str("conn", c.id).Msg("send buffer full, closing connection")
		c.close()
		return errSlowConsumer
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *conn) userID() string {
	id, _ := c.client.Identity()
	return id
}

func (c *conn) readPump() {
	defer func() {
		c.hub.leave(c)
		c.close()
	}()
	c.ws.SetReadLimit(maxFrame)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("conn", c.id).Msg("websocket read")
			}
			return
		}
		if c.hub.trace.WSEnabled() {
			c.hub.trace.WS("IN", c.userID(), data)
		}
		c.hub.dispatch(c, data)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			if c.hub.trace.WSEnabled() {
				c.hub.trace.WS("OUT", c.userID(), data)
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
