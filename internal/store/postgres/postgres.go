package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/reforge/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS bot_state(
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Load(ctx context.Context) (store.State, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name, value FROM bot_state;`)
	if err != nil {
		return store.State{}, err
	}
	defer rows.Close()
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

func (p *DB) Save(ctx context.Context, st store.State) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for k, v := range st.Pairs() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bot_state(name, value, updated_at) VALUES($1,$2,$3)
			ON CONFLICT(name) DO UPDATE SET
				value=EXCLUDED.value,
				updated_at=EXCLUDED.updated_at;`, k, v, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

var _ store.Store = (*DB)(nil)
