// Package engine runs werewolf sessions: membership, the phase machine, actions, chat
// routing and delivery to connected clients.
//
// Every session has its own runtime guarded by a single mutex. Mutations validate under the
// lock, release it for gateway I/O, then reacquire it and re-check the phase sequence
// number before applying. Sessions never share a lock.
package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"moonvillage/internal/auth"
	"moonvillage/internal/chat"
	"moonvillage/internal/game"
	"moonvillage/internal/store"
)

// TokenVerifier turns a connection token into a user identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// PasswordChecker hashes and checks session passwords.
type PasswordChecker interface {
	Hash(password string) (string, error)
	Check(hash, password string) bool
}

// Presence mirrors online users per session.
type Presence interface {
	Online(ctx context.Context, sessionID, userID string) error
	Offline(ctx context.Context, sessionID, userID string) error
}

// Storyteller narrates what just happened. onChunk receives streamed text.
type Storyteller interface {
	Tell(ctx context.Context, history []string, onChunk func(string)) (string, error)
}

// Options tune an Engine. Zero values fall back to defaults.
type Options struct {
	MinPlayers        int
	DefaultMaxPlayers int
	Settings          game.Settings
	HistoryLimit      int
	ForbiddenWords    []string

	// RetryWindow bounds how long a timer-driven advance retries gateway failures before the
	// timer is re-armed.
	RetryWindow time.Duration

	// Rand returns the PRNG used for role assignment. Tests pin a seed.
	Rand func() *rand.Rand
}

// Deps are the collaborators of an Engine. Gateway and Tokens are required.
type Deps struct {
	Gateway     store.Gateway
	Tokens      TokenVerifier
	Passwords   PasswordChecker
	Scheduler   Scheduler
	Presence    Presence
	Storyteller Storyteller
	Logger      zerolog.Logger
}

// Engine is the session registry and orchestrator.
type Engine struct {
	gw        store.Gateway
	tokens    TokenVerifier
	passwords PasswordChecker
	sched     Scheduler
	presence  Presence
	teller    Storyteller
	log       zerolog.Logger
	filter    *chat.Filter
	opts      Options

	mu       sync.Mutex // guards sessions only
	sessions map[string]*room

	bg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an engine.
func New(deps Deps, opts Options) *Engine {
	if opts.MinPlayers < 3 {
		opts.MinPlayers = 3
	}
	if opts.DefaultMaxPlayers <= 0 {
		opts.DefaultMaxPlayers = 16
	}
	if opts.DefaultMaxPlayers < opts.MinPlayers {
		opts.DefaultMaxPlayers = opts.MinPlayers
	}
	if opts.Settings.Durations == nil {
		def := game.DefaultSettings()
		opts.Settings.Durations = def.Durations
		if opts.Settings.TeamChatPhases == nil {
			opts.Settings.TeamChatPhases = def.TeamChatPhases
		}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.RetryWindow <= 0 {
		opts.RetryWindow = 10 * time.Second
	}
	if opts.Rand == nil {
		opts.Rand = func() *rand.Rand { return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) }
	}
	if deps.Scheduler == nil {
		deps.Scheduler = WallClock()
	}
	if deps.Passwords == nil {
		deps.Passwords = auth.NewPasswords(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		gw:        deps.Gateway,
		tokens:    deps.Tokens,
		passwords: deps.Passwords,
		sched:     deps.Scheduler,
		presence:  deps.Presence,
		teller:    deps.Storyteller,
		log:       deps.Logger,
		filter:    chat.NewFilter(opts.ForbiddenWords),
		opts:      opts,
		sessions:  make(map[string]*room),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close stops every phase timer and waits for background work.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	rooms := make([]*room, 0, len(e.sessions))
	for _, r := range e.sessions {
		rooms = append(rooms, r)
	}
	e.mu.Unlock()
	for _, r := range rooms {
		r.mu.Lock()
		r.stopTimer()
		r.mu.Unlock()
	}
	e.bg.Wait()
}

// room returns the runtime of sessionID, loading it from the gateway on first use.
// The returned room is locked.
func (e *Engine) room(ctx context.Context, sessionID string) (*room, error) {
	if sessionID == "" {
		return nil, game.Errorf(game.CodeSessionNotFound, "no session given")
	}
	e.mu.Lock()
	r, ok := e.sessions[sessionID]
	if !ok {
		r = newRoom(sessionID)
		e.sessions[sessionID] = r
	}
	e.mu.Unlock()

	r.mu.Lock()
	if r.loaded {
		return r, nil
	}
	if err := e.rehydrate(ctx, r); err != nil {
		r.mu.Unlock()
		if game.CodeOf(err) == game.CodeSessionNotFound {
			e.mu.Lock()
			if e.sessions[sessionID] == r {
				delete(e.sessions, sessionID)
			}
			e.mu.Unlock()
		}
		return nil, err
	}
	return r, nil
}

// rehydrate rebuilds a runtime from the gateway: snapshot, the current day's votes and the
// abilities staged in the current phase. Called with r.mu held.
func (e *Engine) rehydrate(ctx context.Context, r *room) error {
	r.reset()
	snap, err := e.gw.GetSessionSnapshot(ctx, r.id)
	if errors.Is(err, store.ErrNotFound) {
		return game.Errorf(game.CodeSessionNotFound, "session %s does not exist", r.id)
	}
	if err != nil {
		return game.Persistence("load session", err)
	}
	roles, err := e.gw.ListRoles(ctx)
	if err != nil {
		return game.Persistence("load roles", err)
	}
	r.session = snap.Session
	r.seats = snap.Seats
	for _, s := range r.seats {
		r.session.NextPosition = max(r.session.NextPosition, s.Position+1)
	}
	r.roles = make(map[string]game.Role, len(roles))
	for _, role := range roles {
		r.roles[role.ID] = role
	}

	if r.session.Status.Active() {
		votes, err := e.gw.ListVotes(ctx, r.id, r.session.Day)
		if err != nil {
			return game.Persistence("load votes", err)
		}
		for _, v := range votes {
			if v.TargetID != nil && r.seat(v.VoterID) != nil && r.seat(*v.TargetID) != nil {
				r.votes[v.VoterID] = *v.TargetID
			}
		}
		events, err := e.gw.ListEvents(ctx, r.id)
		if err != nil {
			return game.Persistence("load events", err)
		}
		for _, ev := range events {
			a, ok := decodeStaged(ev)
			if !ok || ev.Phase != r.session.Phase || ev.Day != r.session.Day || r.seat(a.Actor) == nil || r.seat(a.Target) == nil {
				continue
			}
			r.stageSeq++
			a.Seq = r.stageSeq
			r.staged[a.Actor] = a
		}
		e.arm(r)
	}
	r.loaded = true
	e.log.Debug().Str("session", r.id).Str("phase", string(r.session.Phase)).
		Int("day", r.session.Day).Int("seats", len(r.seats)).Int("staged", len(r.staged)).
		Msg("session rehydrated")
	return nil
}

// forget drops a finished runtime with no live connections. Called with r.mu held.
func (e *Engine) forget(r *room) {
	if r.session.Status.Active() || r.session.Status == game.StatusLobby || r.connected() > 0 {
		return
	}
	r.stopTimer()
	e.mu.Lock()
	if e.sessions[r.id] == r {
		delete(e.sessions, r.id)
	}
	e.mu.Unlock()
}

func (e *Engine) appendEvent(ctx context.Context, r *room, ev *game.Event) (string, error) {
	id, err := e.gw.AppendEvent(ctx, r.id, ev)
	if err != nil {
		return "", game.Persistence("append "+string(ev.Type)+" event", err)
	}
	return id, nil
}

// logFailure records errors that abort an in-flight request.
func (e *Engine) logFailure(op, sessionID string, err error) {
	if err == nil || game.CodeOf(err) != game.CodePersistence {
		return
	}
	e.log.Error().Err(err).Str("op", op).Str("session", sessionID).Msg("gateway failure")
}

func (e *Engine) markOnline(sessionID, userID string) {
	if e.presence == nil {
		return
	}
	if err := e.presence.Online(e.ctx, sessionID, userID); err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("presence online")
	}
}

func (e *Engine) markOffline(sessionID, userID string) {
	if e.presence == nil {
		return
	}
	if err := e.presence.Offline(e.ctx, sessionID, userID); err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("presence offline")
	}
}
