// Package hub is the websocket and HTTP front of the engine.
package hub

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"moonvillage/internal/engine"
	"moonvillage/internal/logging"
)

// Options tune the hub. Zero values fall back to defaults.
type Options struct {
	// AllowedOrigins lists browser origins allowed to open a websocket. Empty allows any.
	AllowedOrigins []string
	SendBuffer     int
	RequestTimeout time.Duration
}

// Hub tracks live websocket connections and feeds their frames to the engine.
type Hub struct {
	engine   *engine.Engine
	trace    *logging.AppLogger
	log      zerolog.Logger
	opts     Options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	clients    map[*conn]struct{}
	register   chan *conn
	unregister chan *conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// New creates a hub. Call Start before serving and Stop on shutdown.
func New(e *engine.Engine, al *logging.AppLogger, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if al == nil {
		al = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		engine:     e,
		trace:      al,
		log:        al.With("hub"),
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*conn]struct{}),
		register:   make(chan *conn),
		unregister: make(chan *conn, 64),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, r.Header.Get("Origin"))
}

// Start launches the registration loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop closes every connection and waits for the registration loop to exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		close(h.done)
		h.wg.Wait()
		h.mu.Lock()
		for c := range h.clients {
			c.close()
			delete(h.clients, c)
		}
		h.mu.Unlock()
	})
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Str("conn", c.id).Int("total", n).Msg("websocket connected")

		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c]
			delete(h.clients, c)
			n := len(h.clients)
			h.mu.Unlock()
			if !ok {
				continue
			}
			c.close()
			userID, _ := c.client.Identity()
			h.log.Debug().Str("conn", c.id).Str("user", userID).Int("total", n).Msg("websocket disconnected")
			// The engine delivers to other clients from here, so the hub lock must be free.
			ctx, cancel := context.WithTimeout(h.ctx, h.opts.RequestTimeout)
			h.engine.Disconnect(ctx, c.client)
			cancel()
		}
	}
}

// ServeWS upgrades the request and starts the connection pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	c := newConn(h, ws)
	select {
	case h.register <- c:
	case <-h.done:
		ws.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) leave(c *conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
