// Package scanner runs batch face detection over the photo library and
// fills the photo store with grouped faces.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"go.uber.org/zap"

	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/embedding"
	"github.com/pavelmac/faceshare/internal/grouping"
	"github.com/pavelmac/faceshare/internal/photostore"
)

// defaultBatchLimit caps one scan pass to the newest photos so a scan
// stays interactive even over a large library.
const defaultBatchLimit = 100

// Library lists and reads photos, newest first.
type Library interface {
	ListPhotos(ctx context.Context) ([]photostore.Photo, error)
	ReadPhoto(ctx context.Context, uid string) ([]byte, error)
}

// PhotoSaver is the slice of the photo store the scanner needs.
type PhotoSaver interface {
	HasPhoto(ctx context.Context, uid string) (bool, error)
	SavePhoto(ctx context.Context, photo photostore.Photo, faces []photostore.StoredFace) error
}

// Matcher resolves a face embedding to a display name, empty when
// unknown.
type Matcher interface {
	MatchName(embedding []float32) string
}

// Options tune one scan pass.
type Options struct {
	Concurrency int
	BatchLimit  int
	// OnProgress is called after each processed photo with done and
	// total counts. May be nil.
	OnProgress func(done, total int)
}

// Report summarizes a finished scan.
type Report struct {
	PhotosScanned int `json:"photos_scanned"`
	PhotosSkipped int `json:"photos_skipped"`
	PhotosFailed  int `json:"photos_failed"`
	FacesFound    int `json:"faces_found"`
	GroupsStored  int `json:"groups_stored"`
}

// Scanner wires detection, extraction, grouping and storage into one
// batch pass.
type Scanner struct {
	library   Library
	detector  detect.Detector
	extractor *embedding.Extractor
	engine    *grouping.Engine
	saver     PhotoSaver
	matcher   Matcher
	log       *zap.Logger
}

// New builds a scanner. Matcher may be nil when no identities are
// enrolled yet.
func New(library Library, detector detect.Detector, extractor *embedding.Extractor, engine *grouping.Engine, saver PhotoSaver, matcher Matcher, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{
		library:   library,
		detector:  detector,
		extractor: extractor,
		engine:    engine,
		saver:     saver,
		matcher:   matcher,
		log:       log,
	}
}

type photoFaces struct {
	photo photostore.Photo
	faces []grouping.Face
}

// Scan processes the newest unscanned photos: detect, quality-gated
// extraction, single-link grouping, then persistence of groups of two or
// more. A failing photo is logged and skipped. Cancellation is honored
// between worker chunks and a partial batch is still persisted.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Report, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	limit := opts.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	all, err := s.library.ListPhotos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}

	report := &Report{}

	// Keep only unscanned photos, newest first, up to the batch cap.
	var pending []photostore.Photo
	for _, p := range all {
		if len(pending) >= limit {
			break
		}
		has, err := s.saver.HasPhoto(ctx, p.UID)
		if err != nil {
			return nil, fmt.Errorf("check photo %s: %w", p.UID, err)
		}
		if has {
			report.PhotosSkipped++
			continue
		}
		pending = append(pending, p)
	}

	if len(pending) == 0 {
		return report, nil
	}

	var (
		mu      sync.Mutex
		results = make([]*photoFaces, len(pending))
		done    int
	)

	// Process in chunks of one worker-pool round so cancellation takes
	// effect at chunk boundaries without abandoning in-flight photos.
	for start := 0; start < len(pending); start += concurrency {
		if err := ctx.Err(); err != nil {
			s.log.Warn("scan cancelled", zap.Int("processed", done), zap.Int("pending", len(pending)-done))
			break
		}

		end := start + concurrency
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				pf, err := s.scanPhoto(ctx, pending[idx])

				mu.Lock()
				defer mu.Unlock()
				done++
				if err != nil {
					report.PhotosFailed++
					s.log.Warn("photo scan failed",
						zap.String("uid", pending[idx].UID),
						zap.Error(err))
				} else {
					results[idx] = pf
					report.PhotosScanned++
					report.FacesFound += len(pf.faces)
				}
				if opts.OnProgress != nil {
					opts.OnProgress(done, len(pending))
				}
			}(i)
		}
		wg.Wait()
	}

	// Flatten faces in photo order so grouping stays deterministic.
	var faces []grouping.Face
	photosByUID := make(map[string]photostore.Photo)
	for _, pf := range results {
		if pf == nil {
			continue
		}
		faces = append(faces, pf.faces...)
		photosByUID[pf.photo.UID] = pf.photo
	}

	groups := s.engine.Cluster(faces)
	report.GroupsStored = len(groups)

	if err := s.persistGroups(ctx, groups, photosByUID); err != nil {
		return report, err
	}
	return report, nil
}

// scanPhoto detects and embeds all faces of one photo. Faces failing the
// quality gate are dropped silently; other extraction errors are logged
// and the face skipped.
func (s *Scanner) scanPhoto(ctx context.Context, photo photostore.Photo) (*photoFaces, error) {
	data, err := s.library.ReadPhoto(ctx, photo.UID)
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}

	detections, err := s.detector.DetectFaces(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	pf := &photoFaces{photo: photo}
	if len(detections) == 0 {
		return pf, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}

	for _, d := range detections {
		crop, err := detect.CropFace(img, d.BBox)
		if err != nil {
			s.log.Debug("face crop failed", zap.String("uid", photo.UID), zap.Error(err))
			continue
		}

		emb, err := s.extractor.Extract(ctx, crop)
		if errors.Is(err, embedding.ErrInvalidImage) {
			continue
		}
		if err != nil {
			s.log.Debug("face extraction failed", zap.String("uid", photo.UID), zap.Error(err))
			continue
		}

		pf.faces = append(pf.faces, grouping.Face{
			Crop:      crop,
			PhotoUID:  photo.UID,
			Embedding: emb,
			BBox:      []float64{d.BBox.X, d.BBox.Y, d.BBox.Width, d.BBox.Height},
			DetScore:  d.Score,
		})
	}
	return pf, nil
}

// persistGroups saves grouped faces per photo. Ungrouped faces are not
// stored; a singleton face carries no sharing signal.
func (s *Scanner) persistGroups(ctx context.Context, groups []grouping.Group, photos map[string]photostore.Photo) error {
	facesByPhoto := make(map[string][]photostore.StoredFace)
	faceIndexInPhoto := make(map[string]int)

	for _, g := range groups {
		for _, f := range g.Faces {
			idx := faceIndexInPhoto[f.PhotoUID]
			faceIndexInPhoto[f.PhotoUID] = idx + 1

			stored := photostore.StoredFace{
				PhotoUID:  f.PhotoUID,
				FaceIndex: idx,
				Embedding: f.Embedding,
				BBox:      f.BBox,
				DetScore:  f.DetScore,
			}
			if s.matcher != nil {
				stored.PersonName = s.matcher.MatchName(f.Embedding)
			}
			facesByPhoto[f.PhotoUID] = append(facesByPhoto[f.PhotoUID], stored)
		}
	}

	for uid, faces := range facesByPhoto {
		photo, ok := photos[uid]
		if !ok {
			continue
		}
		if err := s.saver.SavePhoto(ctx, photo, faces); err != nil {
			return fmt.Errorf("save photo %s: %w", uid, err)
		}
	}
	return nil
}
