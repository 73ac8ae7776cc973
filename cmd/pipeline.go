package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/embedding"
	"github.com/pavelmac/faceshare/internal/match"
	"github.com/pavelmac/faceshare/internal/photostore"
	"github.com/pavelmac/faceshare/internal/registry"
	regpostgres "github.com/pavelmac/faceshare/internal/registry/postgres"
	"github.com/pavelmac/faceshare/internal/similarity"
)

// newExtractor builds the embedding pipeline against the configured
// inference server.
func newExtractor(cfg *config.Config) (*embedding.Extractor, error) {
	model, err := embedding.NewServerModel(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding model: %w", err)
	}
	return embedding.NewExtractor(model, cfg.Calibration.Quality), nil
}

// openRegistry connects the identity registry. With DATABASE_URL set the
// registry is backed by PostgreSQL and preloaded; without it the registry
// lives only in memory. The returned pool is nil in the in-memory case.
func openRegistry(ctx context.Context, cfg *config.Config) (*registry.Registry, *pgxpool.Pool, error) {
	scorer := similarity.NewScorer(cfg.Calibration.Scorer)
	resolver := match.NewResolver(scorer, cfg.Calibration.Match.ConfidenceThreshold)

	if cfg.Database.URL == "" {
		return registry.NewRegistry(nil, resolver, cfg.Calibration.Trust), nil, nil
	}

	pool, err := regpostgres.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := regpostgres.Migrate(ctx, pool, cfg.Model.Dim); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrating identity schema: %w", err)
	}

	reg := registry.NewRegistry(regpostgres.NewStore(pool), resolver, cfg.Calibration.Trust)
	if err := reg.Load(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("loading known faces: %w", err)
	}
	return reg, pool, nil
}

// openPhotoStore prepares the photo store schema on an existing pool.
func openPhotoStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (*photostore.Store, error) {
	if pool == nil {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if err := photostore.Migrate(ctx, pool, cfg.Model.Dim); err != nil {
		return nil, fmt.Errorf("migrating photo schema: %w", err)
	}
	return photostore.NewStore(pool), nil
}

// cropBestFace cuts the strongest detected face out of an image, with a
// center crop when detection finds nothing usable.
func cropBestFace(ctx context.Context, detector detect.Detector, raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	if detector == nil {
		return detect.CenterCrop(img), nil
	}

	detections, err := detector.DetectFaces(ctx, raw)
	if err != nil || len(detections) == 0 {
		return detect.CenterCrop(img), nil
	}

	best := detections[0]
	for _, d := range detections[1:] {
		if d.Score > best.Score {
			best = d
		}
	}

	crop, err := detect.CropFace(img, best.BBox)
	if err != nil {
		return detect.CenterCrop(img), nil
	}
	return crop, nil
}

// registryMatcher adapts the registry to the scanner's name lookup.
type registryMatcher struct {
	reg *registry.Registry
}

func (m registryMatcher) MatchName(emb []float32) string {
	if result := m.reg.FindMatch(emb); result != nil {
		return result.DisplayName
	}
	return ""
}
