package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// payloadTimeFormat matches the timestamps the CMS returns
const payloadTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SQLiteStore keeps chat messages in a local SQLite file. It answers with
// records shaped like the CMS's so clients cannot tell the two apart.
type SQLiteStore struct {
	conn *sql.DB
	log  *zap.Logger
	now  func() time.Time
}

// MessageRow is one stored chat message
type MessageRow struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type messageRecord struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// OpenSQLiteStore opens (or creates) the message database at path
func OpenSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	// Pragmas go in the DSN so every pooled connection gets them
	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Message saves and event batches write from different goroutines;
	// a single connection serializes them.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &SQLiteStore{conn: conn, log: log, now: time.Now}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// migrate creates tables if they don't exist
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

	CREATE TABLE IF NOT EXISTS game_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player_id TEXT NOT NULL,
		name TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		killer TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_game_events_type_score ON game_events(event_type, score);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		s.log.Error("sqlite migration failed", zap.Error(err))
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateMessage inserts a message and returns it as a CMS-style record
func (s *SQLiteStore) CreateMessage(ctx context.Context, sender, content string) (json.RawMessage, error) {
	id := uuid.NewString()
	created := s.now().UTC()

	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages (id, sender, content, created_at) VALUES (?, ?, ?, ?)",
		id, sender, content, created.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert: %v", ErrPersist, err)
	}

	stamp := created.Format(payloadTimeFormat)
	rec, err := json.Marshal(messageRecord{
		ID:        id,
		Sender:    sender,
		Content:   content,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	return rec, nil
}

// RecentMessages returns up to limit messages, newest first
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]MessageRow, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, sender, content, created_at FROM messages ORDER BY created_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var result []MessageRow
	for rows.Next() {
		var (
			r  MessageRow
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.Sender, &r.Content, &ms); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.CreatedAt = time.UnixMilli(ms).UTC()
		result = append(result, r)
	}
	return result, rows.Err()
}

// MessageCount returns the number of stored messages
func (s *SQLiteStore) MessageCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count)
	return count, err
}

// ScoreRow is a finished run from the event log
type ScoreRow struct {
	Name   string    `json:"name"`
	Score  int       `json:"score"`
	DiedAt time.Time `json:"died_at"`
}

// InsertGameEvents writes a batch of game events in one transaction
func (s *SQLiteStore) InsertGameEvents(ctx context.Context, events []GameEvent) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO game_events (event_type, player_id, name, score, killer, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, evt := range events {
		killer := sql.NullString{String: evt.Killer, Valid: evt.Killer != ""}
		if _, err := stmt.ExecContext(ctx, evt.Type, evt.PlayerID, evt.Name, evt.Score, killer, evt.At.UnixMilli()); err != nil {
			return fmt.Errorf("insert %s: %w", evt.Type, err)
		}
	}
	return tx.Commit()
}

// TopScores returns the best scores at death, highest first
func (s *SQLiteStore) TopScores(ctx context.Context, limit int) ([]ScoreRow, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT name, score, created_at FROM game_events WHERE event_type = ? ORDER BY score DESC, created_at ASC LIMIT ?",
		EvtSnakeDeath, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var result []ScoreRow
	for rows.Next() {
		var (
			r  ScoreRow
			ms int64
		)
		if err := rows.Scan(&r.Name, &r.Score, &ms); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		r.DiedAt = time.UnixMilli(ms).UTC()
		result = append(result, r)
	}
	return result, rows.Err()
}
