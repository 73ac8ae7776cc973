package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// FacesHandler exposes the known-identity list.
type FacesHandler struct {
	registry Registry
	log      *zap.Logger
}

// NewFacesHandler creates a faces handler.
func NewFacesHandler(registry Registry, log *zap.Logger) *FacesHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FacesHandler{registry: registry, log: log}
}

// knownFace is the JSON shape of one registered identity. Embeddings are
// deliberately not exposed.
type knownFace struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	Tier           string    `json:"tier"`
	TrustScore     float32   `json:"trust_score"`
	FamilyRelation bool      `json:"family_relation,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// List handles GET /faces.
func (h *FacesHandler) List(w http.ResponseWriter, r *http.Request) {
	known := h.registry.KnownFaces()
	faces := make([]knownFace, 0, len(known))
	for _, k := range known {
		faces = append(faces, knownFace{
			ID:             k.ID.String(),
			DisplayName:    k.DisplayName,
			Tier:           k.Tier.String(),
			TrustScore:     k.TrustScore,
			FamilyRelation: k.FamilyRelation,
			CreatedAt:      k.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count": len(faces),
		"faces": faces,
	})
}

// Clear handles DELETE /faces: drops all known identities and persists
// the empty set.
func (h *FacesHandler) Clear(w http.ResponseWriter, r *http.Request) {
	cleared := len(h.registry.KnownFaces())
	h.registry.Clear()
	if err := h.registry.Persist(r.Context()); err != nil {
		h.log.Warn("failed to persist cleared registry", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to persist registry")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}
