// Package postgres persists the known-identity set in PostgreSQL with
// pgvector embeddings.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pavelmac/faceshare/internal/config"
)

// Connect creates a connection pool to PostgreSQL.
func Connect(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Migrate creates the pgvector extension and the identity tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDim int) error {
	_, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createKnownFaces := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS known_faces (
			id              UUID PRIMARY KEY,
			seq             BIGSERIAL,
			display_name    VARCHAR(255) NOT NULL,
			tier            VARCHAR(32) NOT NULL,
			trust_score     REAL NOT NULL,
			external_ref    VARCHAR(255) NOT NULL DEFAULT '',
			family_relation BOOLEAN NOT NULL DEFAULT FALSE,
			embedding       vector(%d) NOT NULL,
			created_at      TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, embeddingDim)

	_, err = pool.Exec(ctx, createKnownFaces)
	if err != nil {
		return fmt.Errorf("failed to create known_faces table: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS known_faces_tier_idx ON known_faces(tier)
	`)
	if err != nil {
		return fmt.Errorf("failed to create known_faces tier index: %w", err)
	}

	return nil
}
