package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/reforge/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// each :memory: connection is its own database
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS bot_state(
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Load(ctx context.Context) (store.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM bot_state;`)
	if err != nil {
		return store.State{}, err
	}
	defer func() { _ = rows.Close() }()
	pairs := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return store.State{}, err
		}
		pairs[k] = v
	}
	if err := rows.Err(); err != nil {
		return store.State{}, err
	}
	return store.FromPairs(pairs)
}

func (s *DB) Save(ctx context.Context, st store.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for k, v := range st.Pairs() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bot_state(name, value, updated_at) VALUES(?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				value=excluded.value,
				updated_at=excluded.updated_at;`, k, v, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

var _ store.Store = (*DB)(nil)
