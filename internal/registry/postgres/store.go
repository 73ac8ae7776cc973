package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/pavelmac/faceshare/internal/identity"
)

// Store is a PostgreSQL-backed registry store. Save replaces the whole
// identity set in one transaction so a crash never leaves a partial set.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store on top of an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Load returns all known identities ordered by insertion.
func (s *Store) Load(ctx context.Context) ([]identity.Known, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, display_name, tier, trust_score, external_ref, family_relation, embedding, created_at
		FROM known_faces
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query known faces: %w", err)
	}
	defer rows.Close()

	var faces []identity.Known
	for rows.Next() {
		var f identity.Known
		var tier string
		var vec pgvector.Vector

		if err := rows.Scan(&f.ID, &f.DisplayName, &tier, &f.TrustScore, &f.ExternalRef, &f.FamilyRelation, &vec, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan known face: %w", err)
		}
		if f.Tier, err = identity.ParseTrustTier(tier); err != nil {
			return nil, fmt.Errorf("known face %s: %w", f.ID, err)
		}
		f.Embedding = vec.Slice()
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known faces: %w", err)
	}
	return faces, nil
}

// Save replaces the stored identity set with the given one.
func (s *Store) Save(ctx context.Context, faces []identity.Known) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM known_faces"); err != nil {
		return fmt.Errorf("clear known faces: %w", err)
	}

	for _, f := range faces {
		tier, err := f.Tier.MarshalText()
		if err != nil {
			return fmt.Errorf("known face %s: %w", f.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO known_faces (id, display_name, tier, trust_score, external_ref, family_relation, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, f.ID, f.DisplayName, string(tier), f.TrustScore, f.ExternalRef, f.FamilyRelation, pgvector.NewVector(f.Embedding), f.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert known face %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit known faces: %w", err)
	}
	return nil
}
