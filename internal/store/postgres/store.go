// Package postgres implements domain.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/tether/internal/domain"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every repository
// runs unchanged inside and outside Atomic.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates any missing table or index. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func repos(db querier) domain.Repositories {
	return domain.Repositories{
		Policies:   &PolicyRepo{db: db},
		Keys:       &KeyRepo{db: db},
		Agents:     &AgentRepo{db: db},
		Spend:      &SpendRepo{db: db},
		Executions: &ExecutionRepo{db: db},
	}
}

func (s *Store) Repos() domain.Repositories {
	return repos(s.pool)
}

// Atomic runs fn in one transaction holding a transaction-scoped advisory lock
// on policyID, so writers of the same policy serialize across processes.
func (s *Store) Atomic(ctx context.Context, policyID uuid.UUID, fn func(domain.Repositories) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, policyID.String()); err != nil {
			return fmt.Errorf("postgres.Atomic: lock: %w", err)
		}
		return fn(repos(tx))
	})
}
