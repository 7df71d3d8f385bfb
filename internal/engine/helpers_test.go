package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"moonvillage/internal/auth"
	"moonvillage/internal/game"
	"moonvillage/internal/store"
)

type sent struct {
	Type    string
	Payload any
}

// recorder is a Sender that keeps everything it was asked to deliver.
type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Send(msgType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{msgType, payload})
	return nil
}

func (r *recorder) all(msgType string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, m := range r.msgs {
		if m.Type == msgType {
			out = append(out, m.Payload)
		}
	}
	return out
}

func (r *recorder) count(msgType string) int { return len(r.all(msgType)) }

func (r *recorder) last(msgType string) any {
	all := r.all(msgType)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

// manualScheduler fires timers only when told to.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *manualScheduler) pending() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs t's callback even if it was stopped, like a timer that raced its Stop.
func (t *manualTimer) fire() {
	t.s.mu.Lock()
	t.fired = true
	t.s.now = t.s.now.Add(t.d)
	t.s.mu.Unlock()
	t.f()
}

var errBoom = errors.New("boom")

// flakyGateway fails selected operations until told otherwise.
type flakyGateway struct {
	*store.Memory
	mu    sync.Mutex
	fail  map[string]int // op -> failures left, negative fails forever
	gates map[string]*gate
}

type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newFlakyGateway() *flakyGateway {
	return &flakyGateway{Memory: store.NewMemory(), fail: make(map[string]int), gates: make(map[string]*gate)}
}

// hold parks the next call of op until release is called. entered is closed once the call
// is parked.
func (g *flakyGateway) hold(op string) (entered <-chan struct{}, release func()) {
	gt := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	g.mu.Lock()
	g.gates[op] = gt
	g.mu.Unlock()
	var once sync.Once
	return gt.entered, func() { once.Do(func() { close(gt.release) }) }
}

func (g *flakyGateway) wait(op string) {
	g.mu.Lock()
	gt, ok := g.gates[op]
	delete(g.gates, op)
	g.mu.Unlock()
	if ok {
		close(gt.entered)
		<-gt.release
	}
}

func (g *flakyGateway) failOn(op string, times int) {
	g.mu.Lock()
	g.fail[op] = times
	g.mu.Unlock()
}

func (g *flakyGateway) heal() {
	g.mu.Lock()
	clear(g.fail)
	g.mu.Unlock()
}

func (g *flakyGateway) check(op string) error {
	g.wait(op)
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.fail[op]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		g.fail[op] = n - 1
	}
	return fmt.Errorf("%s: %w", op, errBoom)
}

func (g *flakyGateway) UpdateSession(ctx context.Context, s *game.Session) error {
	if err := g.check("UpdateSession"); err != nil {
		return err
	}
	return g.Memory.UpdateSession(ctx, s)
}

func (g *flakyGateway) AppendEvent(ctx context.Context, sessionID string, ev *game.Event) (string, error) {
	if err := g.check("AppendEvent"); err != nil {
		return "", err
	}
	return g.Memory.AppendEvent(ctx, sessionID, ev)
}

func (g *flakyGateway) UpsertVote(ctx context.Context, sessionID string, day int, voterID string, targetID *string) (int, error) {
	if err := g.check("UpsertVote"); err != nil {
		return 0, err
	}
	return g.Memory.UpsertVote(ctx, sessionID, day, voterID, targetID)
}

func (g *flakyGateway) AppendMessage(ctx context.Context, sessionID string, msg *game.Message) (string, time.Time, error) {
	if err := g.check("AppendMessage"); err != nil {
		return "", time.Time{}, err
	}
	return g.Memory.AppendMessage(ctx, sessionID, msg)
}

type player struct {
	userID string
	name   string
	c      *Client
	rec    *recorder
	seatID string
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	e         *Engine
	gw        *flakyGateway
	sched     *manualScheduler
	tokens    *auth.Tokens
	sessionID string
	players   []*player
}

func newEngine(t *testing.T, gw store.Gateway, sched *manualScheduler, tokens *auth.Tokens, opts Options) *Engine {
	t.Helper()
	if opts.Rand == nil {
		opts.Rand = func() *rand.Rand { return rand.New(rand.NewPCG(7, 11)) }
	}
	if opts.RetryWindow == 0 {
		opts.RetryWindow = time.Millisecond
	}
	e := New(Deps{
		Gateway:   gw,
		Tokens:    tokens,
		Passwords: auth.NewPasswords(bcrypt.MinCost),
		Scheduler: sched,
		Logger:    zerolog.Nop(),
	}, opts)
	t.Cleanup(e.Close)
	return e
}

// newFixture creates a lobby hosted by the first of n seated players.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		gw:     newFlakyGateway(),
		sched:  newManualScheduler(),
		tokens: auth.NewTokens("test-secret", "moonvillage", 0),
	}
	f.e = newEngine(t, f.gw, f.sched, f.tokens, Options{})
	view, err := f.e.CreateSession(f.ctx, "u0", CreateRequest{MaxPlayers: 12})
	if err != nil {
		t.Fatal(err)
	}
	f.sessionID = view.ID
	for i := range n {
		f.players = append(f.players, f.join(fmt.Sprintf("u%d", i), ""))
	}
	return f
}

func (f *fixture) connect(userID string) *player {
	f.t.Helper()
	rec := &recorder{}
	p := &player{userID: userID, name: "name-" + userID, c: NewClient(rec), rec: rec}
	tok, err := f.tokens.Issue(userID, p.name)
	if err != nil {
		f.t.Fatal(err)
	}
	seat, err := f.e.Authenticate(f.ctx, p.c, userID, f.sessionID, tok)
	switch {
	case err == nil:
		p.seatID = seat.ID
	case errors.Is(err, game.ErrPlayerNotFound):
	default:
		f.t.Fatalf("authenticate %s: %v", userID, err)
	}
	return p
}

func (f *fixture) join(userID, password string) *player {
	f.t.Helper()
	p := f.connect(userID)
	seat, err := f.e.Join(f.ctx, p.c, f.sessionID, password)
	if err != nil {
		f.t.Fatalf("join %s: %v", userID, err)
	}
	p.seatID = seat.ID
	return p
}

// otherSession opens a second lobby on the same engine, hosted by the first of n new players.
func (f *fixture) otherSession(n int) *fixture {
	f.t.Helper()
	g := *f
	g.players = nil
	view, err := f.e.CreateSession(f.ctx, "v0", CreateRequest{MaxPlayers: 12})
	if err != nil {
		f.t.Fatal(err)
	}
	g.sessionID = view.ID
	for i := range n {
		g.players = append(g.players, g.join(fmt.Sprintf("v%d", i), ""))
	}
	return &g
}

func (f *fixture) host() *player { return f.players[0] }

func (f *fixture) start() {
	f.t.Helper()
	if err := f.e.Start(f.ctx, f.sessionID, f.host().userID); err != nil {
		f.t.Fatalf("start: %v", err)
	}
}

// state returns a copy of the session runtime.
func (f *fixture) state() (game.Session, []game.Seat, uint64) {
	f.t.Helper()
	r, err := f.e.room(f.ctx, f.sessionID)
	if err != nil {
		f.t.Fatal(err)
	}
	defer r.mu.Unlock()
	return r.session, append([]game.Seat(nil), r.seats...), r.seq
}

func (f *fixture) seat(p *player) game.Seat {
	f.t.Helper()
	_, seats, _ := f.state()
	for _, s := range seats {
		if s.ID == p.seatID {
			return s
		}
	}
	f.t.Fatalf("no seat for %s", p.userID)
	return game.Seat{}
}

// byRole returns the players holding roleID, in seat order.
func (f *fixture) byRole(roleID string) []*player {
	var out []*player
	for _, p := range f.players {
		if f.seat(p).RoleID == roleID {
			out = append(out, p)
		}
	}
	return out
}

func (f *fixture) advance() {
	f.t.Helper()
	if err := f.e.Advance(f.ctx, f.sessionID, f.host().userID); err != nil {
		f.t.Fatalf("advance: %v", err)
	}
}

func (f *fixture) submit(p *player, action game.ActionType, targets ...string) error {
	_, err := f.e.Submit(f.ctx, p.c, action, targets, nil)
	return err
}

func (f *fixture) mustSubmit(p *player, action game.ActionType, targets ...string) {
	f.t.Helper()
	if err := f.submit(p, action, targets...); err != nil {
		f.t.Fatalf("%s %s %v: %v", p.userID, action, targets, err)
	}
}

func (f *fixture) phase() (game.Phase, int) {
	s, _, _ := f.state()
	return s.Phase, s.Day
}
