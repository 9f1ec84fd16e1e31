package factory

import (
	"strings"

	"github.com/loykin/reforge/internal/store"
	"github.com/loykin/reforge/internal/store/jsonfile"
	pg "github.com/loykin/reforge/internal/store/postgres"
	sq "github.com/loykin/reforge/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:   "sqlite://<path>", ":memory:", or a path ending in .db/.sqlite/.sqlite3
//   - json:     "file://<path>" or any other bare path
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, store.ErrEmptyDSN
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.HasPrefix(ld, "file://"):
		return jsonfile.New(d[len("file://"):])
	case ld == ":memory:", strings.HasSuffix(ld, ".db"), strings.HasSuffix(ld, ".sqlite"), strings.HasSuffix(ld, ".sqlite3"):
		return sq.New(d)
	}
	return jsonfile.New(d)
}
