package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var sqliteSchema string

// Schema version tracking:
// 1 - kv table
const sqliteSchemaVersion = 1

// SQLite is a file backed store. WAL mode, one connection.
type SQLite struct {
	db *sql.DB
}

var (
	_ KV      = (*SQLite)(nil)
	_ Batcher = (*SQLite)(nil)
)

// OpenSQLite creates or opens the database at path and applies the schema.
// Safe to call on an existing database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("SQLite store opened")
	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySQLiteSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > sqliteSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, sqliteSchemaVersion)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Iterate reads the whole range before calling fn; the single connection
// would otherwise be held by the open cursor.
func (s *SQLite) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	var (
		rows *sql.Rows
		err  error
	)
	if end := prefixEnd(prefix); end != nil {
		rows, err = s.db.QueryContext(ctx,
			"SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key", prefix, end)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT key, value FROM kv WHERE key >= ? ORDER BY key", prefixOrEmpty(prefix))
	}
	if err != nil {
		return fmt.Errorf("sqlite iterate: %w", err)
	}

	var ops []Op
	for rows.Next() {
		var op Op
		if err := rows.Scan(&op.Key, &op.Value); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite scan: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("sqlite rows: %w", err)
	}
	rows.Close()

	for _, op := range ops {
		if err := fn(op.Key, op.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) WriteBatch(ctx context.Context, ops []Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if op.Value == nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", op.Key)
		} else {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
				op.Key, op.Value)
		}
		if err != nil {
			return fmt.Errorf("sqlite batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// go-sqlite3 binds a nil slice as NULL, which compares as unknown.
func prefixOrEmpty(prefix []byte) []byte {
	if prefix == nil {
		return []byte{}
	}
	return prefix
}
