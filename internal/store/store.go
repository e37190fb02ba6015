package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store provides tenant-scoped access to the gateway's PostgreSQL schema.
// Every query filters by team id; callers never get rows owned by another team.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// nullableRaw returns nil (SQL NULL) if the raw message is nil or empty.
func nullableRaw(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return []byte(v)
}

// rawOrNil turns a scanned JSONB column into a RawMessage, keeping NULL as nil.
func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.RawMessage(b)
}

// IsUniqueViolation reports whether err comes from a unique constraint, such as
// a duplicate tool version or alias.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
