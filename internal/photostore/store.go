package photostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store is the PostgreSQL-backed photo and face repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store on top of an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the photo library tables. The pgvector extension is
// assumed present (registry migration creates it).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDim int) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS photos (
			uid        VARCHAR(255) PRIMARY KEY,
			path       TEXT NOT NULL,
			taken_at   TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create photos table: %w", err)
	}

	createFaces := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS photo_faces (
			id          BIGSERIAL PRIMARY KEY,
			photo_uid   VARCHAR(255) NOT NULL REFERENCES photos(uid) ON DELETE CASCADE,
			face_index  INTEGER NOT NULL,
			embedding   vector(%d) NOT NULL,
			bbox        DOUBLE PRECISION[4] NOT NULL,
			det_score   DOUBLE PRECISION NOT NULL,
			person_name VARCHAR(255) NOT NULL DEFAULT '',
			created_at  TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE(photo_uid, face_index)
		)
	`, embeddingDim)

	if _, err := pool.Exec(ctx, createFaces); err != nil {
		return fmt.Errorf("failed to create photo_faces table: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS photo_faces_photo_uid_idx ON photo_faces(photo_uid)
	`)
	if err != nil {
		return fmt.Errorf("failed to create photo_faces index: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS peer_history (
			id         BIGSERIAL PRIMARY KEY,
			peer_name  VARCHAR(255) NOT NULL,
			photo_uid  VARCHAR(255) NOT NULL REFERENCES photos(uid) ON DELETE CASCADE,
			sent_at    TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE(peer_name, photo_uid)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create peer_history table: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS peers (
			name       VARCHAR(255) PRIMARY KEY,
			avatar     BYTEA,
			last_seen  TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create peers table: %w", err)
	}

	return nil
}

// SavePhoto stores a photo and its detected faces in one transaction.
// Saving an already-known photo replaces its faces, so rescans converge.
func (s *Store) SavePhoto(ctx context.Context, photo Photo, faces []StoredFace) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO photos (uid, path, taken_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (uid) DO UPDATE SET path = $2, taken_at = $3
	`, photo.UID, photo.Path, photo.TakenAt)
	if err != nil {
		return fmt.Errorf("insert photo %s: %w", photo.UID, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM photo_faces WHERE photo_uid = $1", photo.UID); err != nil {
		return fmt.Errorf("clear faces for %s: %w", photo.UID, err)
	}

	for _, f := range faces {
		_, err := tx.Exec(ctx, `
			INSERT INTO photo_faces (photo_uid, face_index, embedding, bbox, det_score, person_name)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, photo.UID, f.FaceIndex, pgvector.NewVector(f.Embedding), f.BBox, f.DetScore, f.PersonName)
		if err != nil {
			return fmt.Errorf("insert face %d of %s: %w", f.FaceIndex, photo.UID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit photo %s: %w", photo.UID, err)
	}
	return nil
}

// HasPhoto checks whether a photo has been scanned already.
func (s *Store) HasPhoto(ctx context.Context, uid string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM photos WHERE uid = $1)", uid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check photo exists: %w", err)
	}
	return exists, nil
}

// GetPhoto returns a photo by UID, nil if unknown.
func (s *Store) GetPhoto(ctx context.Context, uid string) (*Photo, error) {
	var p Photo
	err := s.pool.QueryRow(ctx, `
		SELECT uid, path, taken_at, created_at FROM photos WHERE uid = $1
	`, uid).Scan(&p.UID, &p.Path, &p.TakenAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query photo: %w", err)
	}
	return &p, nil
}

// AllFaces returns every stored face, newest photos first. Used to build
// the in-memory index on startup.
func (s *Store) AllFaces(ctx context.Context) ([]StoredFace, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.photo_uid, f.face_index, f.embedding, f.bbox, f.det_score, f.person_name, f.created_at
		FROM photo_faces f
		JOIN photos p ON p.uid = f.photo_uid
		ORDER BY p.taken_at DESC, f.photo_uid, f.face_index
	`)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

// FacesByPhoto returns the faces of one photo ordered by face index.
func (s *Store) FacesByPhoto(ctx context.Context, photoUID string) ([]StoredFace, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, photo_uid, face_index, embedding, bbox, det_score, person_name, created_at
		FROM photo_faces
		WHERE photo_uid = $1
		ORDER BY face_index
	`, photoUID)
	if err != nil {
		return nil, fmt.Errorf("query faces for %s: %w", photoUID, err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

func scanFaces(rows pgx.Rows) ([]StoredFace, error) {
	var faces []StoredFace
	for rows.Next() {
		var f StoredFace
		var vec pgvector.Vector
		if err := rows.Scan(&f.ID, &f.PhotoUID, &f.FaceIndex, &vec, &f.BBox, &f.DetScore, &f.PersonName, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		f.Embedding = vec.Slice()
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

// FindSimilarFaces returns stored faces ordered by cosine distance to the
// query embedding. Used when the in-memory index is cold.
func (s *Store) FindSimilarFaces(ctx context.Context, embedding []float32, limit int) ([]StoredFace, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, photo_uid, face_index, embedding, bbox, det_score, person_name, created_at
		FROM photo_faces
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

// CountPhotos returns the number of scanned photos.
func (s *Store) CountPhotos(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM photos").Scan(&count); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return count, nil
}

// CountFaces returns the number of stored faces.
func (s *Store) CountFaces(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM photo_faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// RecordSent marks a photo as shared with a peer. Recording the same pair
// twice is a no-op.
func (s *Store) RecordSent(ctx context.Context, peerName, photoUID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO peer_history (peer_name, photo_uid)
		VALUES ($1, $2)
		ON CONFLICT (peer_name, photo_uid) DO NOTHING
	`, peerName, photoUID)
	if err != nil {
		return fmt.Errorf("record sent photo: %w", err)
	}
	return nil
}

// SentHistory returns the photos already shared with a peer, most
// recently sent first.
func (s *Store) SentHistory(ctx context.Context, peerName string) ([]SentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT peer_name, photo_uid, sent_at
		FROM peer_history
		WHERE peer_name = $1
		ORDER BY sent_at DESC, id DESC
	`, peerName)
	if err != nil {
		return nil, fmt.Errorf("query sent history: %w", err)
	}
	defer rows.Close()

	var records []SentRecord
	for rows.Next() {
		var r SentRecord
		if err := rows.Scan(&r.PeerName, &r.PhotoUID, &r.SentAt); err != nil {
			return nil, fmt.Errorf("scan sent record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sent history: %w", err)
	}
	return records, nil
}

// PeerInfo is the last-seen record for one peer device.
type PeerInfo struct {
	Name     string
	Avatar   []byte
	LastSeen time.Time
}

// UpsertPeer records a peer sighting. A nil avatar keeps the stored one.
func (s *Store) UpsertPeer(ctx context.Context, name string, avatar []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO peers (name, avatar, last_seen)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name)
		DO UPDATE SET avatar = COALESCE($2, peers.avatar), last_seen = NOW()
	`, name, avatar)
	if err != nil {
		return fmt.Errorf("upsert peer %s: %w", name, err)
	}
	return nil
}

// Peers returns all known peers, most recently seen first.
func (s *Store) Peers(ctx context.Context) ([]PeerInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, avatar, last_seen FROM peers ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var peers []PeerInfo
	for rows.Next() {
		var p PeerInfo
		if err := rows.Scan(&p.Name, &p.Avatar, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return peers, nil
}

// WasSent checks whether a photo was already shared with a peer.
func (s *Store) WasSent(ctx context.Context, peerName, photoUID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM peer_history WHERE peer_name = $1 AND photo_uid = $2)
	`, peerName, photoUID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sent photo: %w", err)
	}
	return exists, nil
}
