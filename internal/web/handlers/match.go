package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/embedding"
	"github.com/pavelmac/faceshare/internal/identity"
)

// Registry is the slice of the identity registry the API needs.
type Registry interface {
	KnownFaces() []identity.Known
	FindMatch(probe []float32) *identity.MatchResult
	Clear()
	Persist(ctx context.Context) error
}

// Embedder turns a face crop into an embedding.
type Embedder interface {
	Extract(ctx context.Context, img image.Image) ([]float32, error)
}

// MatchHandler resolves an uploaded photo against the known identities.
type MatchHandler struct {
	registry Registry
	embedder Embedder
	detector detect.Detector
	log      *zap.Logger
}

// NewMatchHandler creates a match handler. Detector may be nil; a center
// crop is used instead of face detection.
func NewMatchHandler(registry Registry, embedder Embedder, detector detect.Detector, log *zap.Logger) *MatchHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MatchHandler{
		registry: registry,
		embedder: embedder,
		detector: detector,
		log:      log,
	}
}

// matchedIdentity is the JSON shape of a resolved identity.
type matchedIdentity struct {
	DisplayName string  `json:"display_name"`
	Confidence  float64 `json:"confidence"`
	Tier        string  `json:"tier"`
}

// MatchResponse is the response for POST /match. Match is null when no
// identity clears the confidence threshold.
type MatchResponse struct {
	Match *matchedIdentity `json:"match"`
}

// Match handles POST /match: multipart "image" in, best identity out.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported image format")
		return
	}

	crop := h.cropFace(r.Context(), raw, img)

	emb, err := h.embedder.Extract(r.Context(), crop)
	if errors.Is(err, embedding.ErrInvalidImage) {
		respondError(w, http.StatusUnprocessableEntity, "image quality too low")
		return
	}
	if err != nil {
		h.log.Warn("embedding extraction failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to process image")
		return
	}

	resp := MatchResponse{}
	if m := h.registry.FindMatch(emb); m != nil {
		resp.Match = &matchedIdentity{
			DisplayName: m.DisplayName,
			Confidence:  m.Confidence,
			Tier:        m.Tier.String(),
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// cropFace picks the strongest detected face, falling back to a center
// crop when detection is unavailable or finds nothing.
func (h *MatchHandler) cropFace(ctx context.Context, raw []byte, img image.Image) image.Image {
	if h.detector == nil {
		return detect.CenterCrop(img)
	}

	detections, err := h.detector.DetectFaces(ctx, raw)
	if err != nil {
		h.log.Warn("face detection failed", zap.Error(err))
		return detect.CenterCrop(img)
	}
	if len(detections) == 0 {
		return detect.CenterCrop(img)
	}

	best := detections[0]
	for _, d := range detections[1:] {
		if d.Score > best.Score {
			best = d
		}
	}

	crop, err := detect.CropFace(img, best.BBox)
	if err != nil {
		return detect.CenterCrop(img)
	}
	return crop
}
