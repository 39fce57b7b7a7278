package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store wraps a Postgres connection pool and implements CRUD for every
// ContractForge entity.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool against dsn, capped at 20 connections
// unless dsn sets pool_max_conns. DefaultQueryExecMode is pinned to
// DescribeExec rather than pgx's default CacheStatement: a cached plan
// surviving a schema change (a goose migration applied while the pool is
// open) surfaces as a cryptic "cached plan must not change result type"
// error instead of a clean reconnect.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = 20
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewStoreFromPool wraps an already-configured pool, for callers that
// manage pool lifecycle themselves.
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for components (e.g. rag.Retriever) that
// need raw SQL access, such as pgvector similarity queries.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
