package engine

import (
	"sync"

	"github.com/google/uuid"
)

// Sender delivers one outbound envelope to a connection. Implementations must not block
// for long: the engine sends while holding a session lock.
type Sender interface {
	Send(msgType string, payload any) error
}

// Client is the per-connection state. Transport creates one per websocket and passes it to
// every engine call made on behalf of that connection.
type Client struct {
	ID  string
	out Sender

	mu        sync.Mutex
	userID    string
	username  string
	sessionID string
	seatID    string
}

// NewClient wraps out in a fresh, unauthenticated client.
func NewClient(out Sender) *Client {
	return &Client{ID: uuid.NewString(), out: out}
}

// Identity returns the verified user, if any.
func (c *Client) Identity() (userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.username
}

// Binding returns the session and seat this connection is bound to.
func (c *Client) Binding() (sessionID, seatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.seatID
}

func (c *Client) setIdentity(userID, username string) {
	c.mu.Lock()
	c.userID, c.username = userID, username
	c.mu.Unlock()
}

func (c *Client) bind(sessionID, seatID string) {
	c.mu.Lock()
	c.sessionID, c.seatID = sessionID, seatID
	c.mu.Unlock()
}

func (c *Client) unbind() {
	c.bind("", "")
}

func (c *Client) send(msgType string, payload any) {
	if c.out == nil {
		return
	}
	_ = c.out.Send(msgType, payload)
}
