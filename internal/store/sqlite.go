package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wemirror/internal/mirror"
	"wemirror/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements mirror.Store on a single SQLite table. Records are
// keyed by path with their fields stored as a JSON blob, which keeps the
// store schema-free the way the mirror treats document payloads as opaque.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and migrates) a SQLite-backed mirror store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating mirror database: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Wait for locks instead of failing immediately; concurrent trigger
	// invocations share this one connection pool.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Put stores fields at path, replacing any existing record.
func (s *SQLiteStore) Put(ctx context.Context, path string, fields map[string]any) error {
	blob, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding record at %s: %w", path, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (path, fields, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(path) DO UPDATE SET fields = excluded.fields, updated_at = CURRENT_TIMESTAMP`,
		path, string(blob))
	if err != nil {
		return mirror.Transient(fmt.Errorf("writing record at %s: %w", path, err))
	}
	return nil
}

// Delete removes the record at path. Deleting an absent path is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, path)
	if err != nil {
		return mirror.Transient(fmt.Errorf("deleting record at %s: %w", path, err))
	}
	return nil
}

// Get returns the record at path, and whether it exists.
func (s *SQLiteStore) Get(ctx context.Context, path string) (map[string]any, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT fields FROM records WHERE path = ?`, path).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, mirror.Transient(fmt.Errorf("reading record at %s: %w", path, err))
	}

	fields, err := decodeFields(blob)
	if err != nil {
		return nil, false, fmt.Errorf("decoding record at %s: %w", path, err)
	}
	return fields, true, nil
}

// List returns all records whose path starts with prefix, keyed by path.
func (s *SQLiteStore) List(ctx context.Context, prefix string) (map[string]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, fields FROM records WHERE path LIKE ? ESCAPE '\'`,
		escapeLikePrefix(prefix)+"%")
	if err != nil {
		return nil, mirror.Transient(fmt.Errorf("listing records under %s: %w", prefix, err))
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var path, blob string
		if err := rows.Scan(&path, &blob); err != nil {
			return nil, mirror.Transient(fmt.Errorf("scanning record row: %w", err))
		}
		fields, err := decodeFields(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding record at %s: %w", path, err)
		}
		out[path] = fields
	}
	if err := rows.Err(); err != nil {
		return nil, mirror.Transient(fmt.Errorf("iterating record rows: %w", err))
	}
	return out, nil
}

// ValidateSetup verifies the database is reachable and the schema is current.
func (s *SQLiteStore) ValidateSetup(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mirror.Transient(fmt.Errorf("pinging mirror database: %w", err))
	}
	if err := migrations.CheckStatus(s.db); err != nil {
		return fmt.Errorf("mirror database schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeFields(blob string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(blob), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// escapeLikePrefix escapes LIKE metacharacters so a prefix match can't be
// widened by % or _ inside a path.
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}

// Compile-time check that SQLiteStore implements the mirror.Store interface
var _ mirror.Store = (*SQLiteStore)(nil)
