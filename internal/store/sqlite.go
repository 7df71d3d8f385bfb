package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"moonvillage/internal/game"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS role (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	team TEXT NOT NULL,
	ability TEXT NOT NULL,
	arity TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS game_session (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL DEFAULT 'classic',
	status TEXT NOT NULL DEFAULT 'lobby',
	phase TEXT NOT NULL DEFAULT 'lobby',
	day INTEGER NOT NULL DEFAULT 0,
	max_players INTEGER NOT NULL,
	host_user_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	ended_at TIMESTAMP,
	settings TEXT NOT NULL DEFAULT '{}',
	password_hash TEXT NOT NULL DEFAULT '',
	next_position INTEGER NOT NULL DEFAULT 0,
	winner TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS seat (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	username TEXT NOT NULL,
	position INTEGER NOT NULL,
	alive INTEGER NOT NULL DEFAULT 1,
	role_id TEXT NOT NULL DEFAULT '',
	team TEXT NOT NULL DEFAULT '',
	joined_at TIMESTAMP NOT NULL,
	FOREIGN KEY (session_id) REFERENCES game_session(id),
	UNIQUE(session_id, user_id)
);
CREATE TABLE IF NOT EXISTS game_event (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	initiator TEXT NOT NULL DEFAULT '',
	targets TEXT NOT NULL DEFAULT '[]',
	phase TEXT NOT NULL,
	day INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	public INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (session_id) REFERENCES game_session(id)
);
CREATE INDEX IF NOT EXISTS idx_game_event_session ON game_event(session_id, seq);
CREATE TABLE IF NOT EXISTS vote (
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	day INTEGER NOT NULL,
	voter_id TEXT NOT NULL,
	target_id TEXT,
	change_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(session_id, day, voter_id)
);
CREATE TABLE IF NOT EXISTS message (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	sender_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	recipient_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	censored INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (session_id) REFERENCES game_session(id)
);
CREATE INDEX IF NOT EXISTS idx_message_session ON message(session_id, kind, seq);
CREATE TABLE IF NOT EXISTS message_reaction (
	message_id TEXT NOT NULL,
	reactor_id TEXT NOT NULL,
	reaction TEXT NOT NULL,
	PRIMARY KEY (message_id, reactor_id)
);
`

// SQLite is a gateway over sqlx and go-sqlite3.
type SQLite struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenSQLite connects to dsn, creates the schema and seeds the role table.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	s := &SQLite{db: db, now: time.Now}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// withForeignKeys enables foreign key enforcement on every pooled connection.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	for _, r := range game.DefaultRoles() {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT OR IGNORE INTO role (id, name, team, ability, arity, enabled)
			VALUES (:id, :name, :team, :ability, :arity, :enabled)`, r)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r.ID, err)
		}
	}
	return nil
}

type sessionRow struct {
	game.Session
	SettingsJSON string `db:"settings"`
}

func (s *SQLite) CreateSession(ctx context.Context, sess *game.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	settings, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO game_session (id, mode, status, phase, day, max_players, host_user_id, created_at,
			started_at, ended_at, settings, password_hash, next_position, winner)
		VALUES (:id, :mode, :status, :phase, :day, :max_players, :host_user_id, :created_at,
			:started_at, :ended_at, :settings, :password_hash, :next_position, :winner)`,
		sessionRow{Session: *sess, SettingsJSON: string(settings)})
	return err
}

func (s *SQLite) UpdateSession(ctx context.Context, sess *game.Session) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE game_session SET status = :status, phase = :phase, day = :day, started_at = :started_at,
			ended_at = :ended_at, next_position = MAX(next_position, :next_position), winner = :winner
		WHERE id = :id`, sess)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) GetSessionSnapshot(ctx context.Context, sessionID string) (*game.Snapshot, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, mode, status, phase, day, max_players, host_user_id, created_at, started_at, ended_at,
			settings, password_hash, next_position, winner
		FROM game_session WHERE id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snap := &game.Snapshot{Session: row.Session}
	if err := json.Unmarshal([]byte(row.SettingsJSON), &snap.Session.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	err = s.db.SelectContext(ctx, &snap.Seats, `
		SELECT id, session_id, user_id, username, position, alive, role_id, team, joined_at
		FROM seat WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLite) AddSeat(ctx context.Context, seat *game.Seat) error {
	if seat.ID == "" {
		seat.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO seat (id, session_id, user_id, username, position, alive, role_id, team, joined_at)
		VALUES (:id, :session_id, :user_id, :username, :position, :alive, :role_id, :team, :joined_at)`, seat)
	return err
}

func (s *SQLite) RemoveSeat(ctx context.Context, sessionID, seatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM seat WHERE session_id = ? AND id = ?`, sessionID, seatID)
	return err
}

func (s *SQLite) SetSeatRole(ctx context.Context, sessionID, seatID, roleID string, team game.Team) error {
	return s.execOne(ctx, `UPDATE seat SET role_id = ?, team = ? WHERE session_id = ? AND id = ?`,
		roleID, team, sessionID, seatID)
}

func (s *SQLite) SetSeatAlive(ctx context.Context, sessionID, seatID string, alive bool) error {
	return s.execOne(ctx, `UPDATE seat SET alive = ? WHERE session_id = ? AND id = ?`, alive, sessionID, seatID)
}

func (s *SQLite) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListRoles(ctx context.Context) ([]game.Role, error) {
	var roles []game.Role
	err := s.db.SelectContext(ctx, &roles, `SELECT id, name, team, ability, arity, enabled FROM role ORDER BY rowid`)
	return roles, err
}

type eventRow struct {
	game.Event
	TargetsJSON string `db:"targets"`
	PayloadText string `db:"payload"`
}

func (s *SQLite) AppendEvent(ctx context.Context, sessionID string, ev *game.Event) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	ev.SessionID = sessionID
	targets, err := json.Marshal(ev.Targets)
	if err != nil {
		return "", fmt.Errorf("encode targets: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO game_event (id, session_id, type, payload, initiator, targets, phase, day, created_at, public)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, sessionID, ev.Type, string(ev.Payload), ev.Initiator, string(targets), ev.Phase, ev.Day, ev.CreatedAt, ev.Public)
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (s *SQLite) ListEvents(ctx context.Context, sessionID string) ([]game.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, session_id, type, payload, initiator, targets, phase, day, created_at, public
		FROM game_event WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	events := make([]game.Event, len(rows))
	for i, r := range rows {
		ev := r.Event
		if r.PayloadText != "" {
			ev.Payload = json.RawMessage(r.PayloadText)
		}
		if err := json.Unmarshal([]byte(r.TargetsJSON), &ev.Targets); err != nil {
			return nil, fmt.Errorf("decode targets of %s: %w", r.ID, err)
		}
		events[i] = ev
	}
	return events, nil
}

func (s *SQLite) UpsertVote(ctx context.Context, sessionID string, day int, voterID string, targetID *string) (int, error) {
	var changes int
	err := s.db.GetContext(ctx, &changes, `
		INSERT INTO vote (id, session_id, day, voter_id, target_id, change_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(session_id, day, voter_id)
		DO UPDATE SET target_id = excluded.target_id, change_count = vote.change_count + 1
		RETURNING change_count`,
		uuid.NewString(), sessionID, day, voterID, targetID)
	return changes, err
}

func (s *SQLite) ListVotes(ctx context.Context, sessionID string, day int) ([]game.Vote, error) {
	var votes []game.Vote
	err := s.db.SelectContext(ctx, &votes, `
		SELECT id, session_id, day, voter_id, target_id, change_count
		FROM vote WHERE session_id = ? AND day = ? ORDER BY voter_id`, sessionID, day)
	return votes, err
}

func (s *SQLite) AppendMessage(ctx context.Context, sessionID string, msg *game.Message) (string, time.Time, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	msg.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO message (id, session_id, sender_id, kind, content, recipient_id, created_at, censored)
		VALUES (:id, :session_id, :sender_id, :kind, :content, :recipient_id, :created_at, :censored)`, msg)
	if err != nil {
		return "", time.Time{}, err
	}
	return msg.ID, msg.CreatedAt, nil
}

func (s *SQLite) RecentMessages(ctx context.Context, sessionID string, kind game.MessageKind, limit int) ([]game.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	var msgs []game.Message
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT id, session_id, sender_id, kind, content, recipient_id, created_at, censored FROM (
			SELECT * FROM message WHERE session_id = ? AND kind = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`, sessionID, kind, limit)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		reactions, err := s.reactions(ctx, msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].Reactions = reactions
	}
	return msgs, nil
}

func (s *SQLite) reactions(ctx context.Context, messageID string) (map[string]string, error) {
	var rows []struct {
		Reactor  string `db:"reactor_id"`
		Reaction string `db:"reaction"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT reactor_id, reaction FROM message_reaction WHERE message_id = ?`, messageID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Reactor] = r.Reaction
	}
	return out, nil
}

func (s *SQLite) SetReaction(ctx context.Context, sessionID, messageID, reactorID, reaction string) (map[string]string, error) {
	var exists int
	err := s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM message WHERE session_id = ? AND id = ?`, sessionID, messageID)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message_reaction (message_id, reactor_id, reaction) VALUES (?, ?, ?)
		ON CONFLICT(message_id, reactor_id) DO UPDATE SET reaction = excluded.reaction`,
		messageID, reactorID, reaction)
	if err != nil {
		return nil, err
	}
	return s.reactions(ctx, messageID)
}
