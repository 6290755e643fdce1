package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	code       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS room_members (
	room_code TEXT    NOT NULL REFERENCES rooms(code) ON DELETE CASCADE,
	client_id TEXT    NOT NULL,
	position  INTEGER NOT NULL,
	PRIMARY KEY (room_code, client_id)
);
`

// New creates a new SQLite store and ensures the schema exists.
// dbPath is the path to the SQLite database file; ":memory:" works for tests.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the full snapshot. Safe to call repeatedly.
func (s *SQLiteStore) Load(ctx context.Context) (store.Snapshot, error) {
	snap := make(store.Snapshot)

	rows, err := s.db.QueryContext(ctx, `SELECT code, created_at FROM rooms`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var createdAt int64
		if err := rows.Scan(&code, &createdAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		snap[code] = store.RoomState{CreatedAt: time.UnixMilli(createdAt)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}

	memberRows, err := s.db.QueryContext(ctx, `
		SELECT room_code, client_id
		FROM room_members
		ORDER BY room_code, position
	`)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var code, clientID string
		if err := memberRows.Scan(&code, &clientID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		room, ok := snap[code]
		if !ok {
			// Orphaned member row; skip rather than invent a room.
			continue
		}
		room.Members = append(room.Members, clientID)
		snap[code] = room
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return snap, nil
}

// Save replaces the persisted snapshot in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap store.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members`); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms`); err != nil {
		return fmt.Errorf("clear rooms: %w", err)
	}

	for code, room := range snap {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (code, created_at) VALUES (?, ?)`,
			code, room.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert room %s: %w", code, err)
		}
		for pos, clientID := range room.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO room_members (room_code, client_id, position) VALUES (?, ?, ?)`,
				code, clientID, pos,
			); err != nil {
				return fmt.Errorf("insert member %s/%s: %w", code, clientID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Reset wipes all persisted room state.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.Save(ctx, nil)
}
