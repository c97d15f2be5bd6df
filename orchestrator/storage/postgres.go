package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Postgres stores slots in a single bytea keyed table.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ KV      = (*Postgres)(nil)
	_ Batcher = (*Postgres)(nil)
)

// NewPool constructs a pgx connection pool using the provided connection string.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("db: empty connection string")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	return pgxpool.NewWithConfig(ctx, cfg)
}

// OpenPostgres connects to dsn and creates the kv table when missing.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: apply schema: %w", err)
	}
	log.Debug().Msg("Postgres store opened")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, "SELECT value FROM kv WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

const postgresUpsert = `INSERT INTO kv (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

func (p *Postgres) Set(ctx context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := p.pool.Exec(ctx, postgresUpsert, key, value); err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key []byte) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM kv WHERE key = $1", key); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

func (p *Postgres) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	var (
		rows pgx.Rows
		err  error
	)
	if end := prefixEnd(prefix); end != nil {
		rows, err = p.pool.Query(ctx,
			"SELECT key, value FROM kv WHERE key >= $1 AND key < $2 ORDER BY key", prefix, end)
	} else {
		rows, err = p.pool.Query(ctx,
			"SELECT key, value FROM kv WHERE key >= $1 ORDER BY key", prefixOrEmpty(prefix))
	}
	if err != nil {
		return fmt.Errorf("postgres iterate: %w", err)
	}

	ops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Op, error) {
		var op Op
		err := row.Scan(&op.Key, &op.Value)
		return op, err
	})
	if err != nil {
		return fmt.Errorf("postgres rows: %w", err)
	}

	for _, op := range ops {
		if err := fn(op.Key, op.Value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) WriteBatch(ctx context.Context, ops []Op) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, op := range ops {
		if op.Value == nil {
			batch.Queue("DELETE FROM kv WHERE key = $1", op.Key)
		} else {
			batch.Queue(postgresUpsert, op.Key, op.Value)
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

// Truncate clears every slot. Used by integration tests between cases.
func (p *Postgres) Truncate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "TRUNCATE TABLE kv"); err != nil {
		return fmt.Errorf("postgres truncate: %w", err)
	}
	return nil
}
