// Package history persists the items each room has played to PostgreSQL.
package history

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/app/notification"
)

// Schema is the DDL for the play_history table.
const Schema = `
CREATE TABLE IF NOT EXISTS play_history (
    id             BIGSERIAL PRIMARY KEY,
    room_id        TEXT NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    url            TEXT NOT NULL DEFAULT '',
    requester_id   TEXT NOT NULL DEFAULT '',
    requester_name TEXT NOT NULL DEFAULT '',
    duration_ms    BIGINT NOT NULL DEFAULT 0,
    played_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_play_history_room ON play_history(room_id, played_at DESC);
`

const (
	defaultBuffer = 128
	writeTimeout  = 5 * time.Second
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Entry is one played item.
type Entry struct {
	ID            int64         `json:"id"`
	RoomID        string        `json:"room_id"`
	Title         string        `json:"title"`
	URL           string        `json:"url"`
	RequesterID   string        `json:"requester_id"`
	RequesterName string        `json:"requester_name"`
	Duration      time.Duration `json:"duration"`
	PlayedAt      time.Time     `json:"played_at"`
}

// Store records item_started notifications and lists them back per room.
// Writes happen on a background worker started by Run.
type Store struct {
	db      DB
	pending chan Entry
}

// Open connects to dsn and applies the schema.
// The returned close function releases the pool.
func Open(ctx context.Context, dsn string) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "history: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "history: ping")
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// New creates a store over db. The caller applies the schema.
func New(db DB) *Store {
	return &Store{
		db:      db,
		pending: make(chan Entry, defaultBuffer),
	}
}

// Migrate creates the play_history table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "history: migrate")
	}
	return nil
}

// Send implements notification.Stream. Only item_started is recorded.
func (s *Store) Send(n *notification.Notification) error {
	if n.Type != notification.TypeItemStarted || n.Item == nil {
		return nil
	}
	it := n.Item
	e := Entry{
		RoomID:        n.RoomID,
		Title:         it.DisplayTitle(),
		URL:           it.WebpageURL,
		RequesterID:   it.Requester.UserID,
		RequesterName: it.Requester.Name,
		Duration:      it.Duration,
		PlayedAt:      n.At,
	}
	if e.URL == "" {
		e.URL = it.Locator
	}
	if e.PlayedAt.IsZero() {
		e.PlayedAt = time.Now()
	}

	select {
	case s.pending <- e:
		return nil
	default:
		return errors.Newf("history: buffer full, dropped entry for room %s", n.RoomID)
	}
}

// Run writes queued entries until ctx is done.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.pending:
			if err := s.Record(ctx, e); err != nil {
				zlog.Warn().Msgf("Failed to record history: room=%s title=%s err=%v", e.RoomID, e.Title, err)
			}
		}
	}
}

// Record inserts one entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	const query = `
		INSERT INTO play_history (room_id, title, url, requester_id, requester_name, duration_ms, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, query,
		e.RoomID, e.Title, e.URL, e.RequesterID, e.RequesterName, e.Duration.Milliseconds(), e.PlayedAt,
	)
	if err != nil {
		return errors.Wrap(err, "history: insert")
	}
	return nil
}

// List returns up to limit entries for roomID, newest first.
func (s *Store) List(ctx context.Context, roomID string, limit int) ([]Entry, error) {
	const query = `
		SELECT id, room_id, title, url, requester_id, requester_name, duration_ms, played_at
		FROM play_history
		WHERE room_id = $1
		ORDER BY played_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "history: list %s", roomID)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Title, &e.URL, &e.RequesterID, &e.RequesterName, &durationMS, &e.PlayedAt); err != nil {
			return nil, errors.Wrap(err, "history: scan")
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "history: rows")
	}
	return entries, nil
}
