package sys

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	OutcomePlayed   = "played"
	OutcomeSkipped  = "skipped"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Database stores streaming sessions and per-track outcomes.
type Database struct {
	db *sql.DB
}

// PlayRecord is one row of play history.
type PlayRecord struct {
	SessionID string
	Playlist  string
	Position  int
	Name      string
	Artists   string
	URI       string
	SourceURL string
	Outcome   string
	PlayedAt  time.Time
}

func OpenDatabase(ctx context.Context, path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := db.ExecContext(initCtx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := db.BeginTx(initCtx, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			playlist TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			outcome TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS plays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			artists TEXT NOT NULL,
			uri TEXT,
			source_url TEXT,
			outcome TEXT NOT NULL,
			played_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plays_played_at ON plays(played_at)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// StartSession opens a history session and returns its id.
func (d *Database) StartSession(ctx context.Context, playlist string) (string, error) {
	id := uuid.NewString()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (id, playlist, started_at) VALUES (?, ?, ?)`,
		id, playlist, time.Now().UTC())
	return id, err
}

func (d *Database) EndSession(ctx context.Context, id, outcome string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, outcome = ? WHERE id = ?
	`, time.Now().UTC(), outcome, id)
	return err
}

func (d *Database) RecordPlay(ctx context.Context, sessionID string, position int, t Track, sourceURL, outcome string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO plays (session_id, position, name, artists, uri, source_url, outcome, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, position, t.Name, strings.Join(t.Artists, ", "), t.URI, sourceURL, outcome, time.Now().UTC())
	return err
}

// RecentPlays returns the newest plays first.
func (d *Database) RecentPlays(ctx context.Context, limit int) ([]PlayRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT p.session_id, s.playlist, p.position, p.name, p.artists,
		       COALESCE(p.uri, ''), COALESCE(p.source_url, ''), p.outcome, p.played_at
		FROM plays p JOIN sessions s ON s.id = p.session_id
		ORDER BY p.played_at DESC, p.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayRecord
	for rows.Next() {
		var r PlayRecord
		if err := rows.Scan(&r.SessionID, &r.Playlist, &r.Position, &r.Name, &r.Artists,
			&r.URI, &r.SourceURL, &r.Outcome, &r.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
