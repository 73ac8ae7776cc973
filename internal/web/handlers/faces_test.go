package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pavelmac/faceshare/internal/identity"
)

func TestListFaces(t *testing.T) {
	registry := &fakeRegistry{faces: []identity.Known{
		{
			ID:          uuid.New(),
			DisplayName: "me",
			Tier:        identity.SelfProfile,
			TrustScore:  1.0,
			CreatedAt:   time.Now().UTC(),
		},
		{
			ID:             uuid.New(),
			DisplayName:    "Marta Novak",
			Tier:           identity.Contact,
			TrustScore:     0.9,
			FamilyRelation: true,
			CreatedAt:      time.Now().UTC(),
		},
	}}
	h := NewFacesHandler(registry, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faces", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Count int         `json:"count"`
		Faces []knownFace `json:"faces"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Faces) != 2 {
		t.Fatalf("expected 2 faces, got count=%d len=%d", resp.Count, len(resp.Faces))
	}
	if resp.Faces[0].Tier != "selfProfile" || resp.Faces[0].TrustScore != 1.0 {
		t.Errorf("unexpected first face %+v", resp.Faces[0])
	}
	if !resp.Faces[1].FamilyRelation {
		t.Error("expected family relation carried through")
	}
}

func TestListFacesEmpty(t *testing.T) {
	h := NewFacesHandler(&fakeRegistry{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faces", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var resp struct {
		Count int         `json:"count"`
		Faces []knownFace `json:"faces"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 0 || resp.Faces == nil {
		t.Errorf("expected empty list, got %+v", resp)
	}
}

func TestClearFaces(t *testing.T) {
	registry := &fakeRegistry{faces: []identity.Known{
		{ID: uuid.New(), DisplayName: "a", Tier: identity.Peer},
		{ID: uuid.New(), DisplayName: "b", Tier: identity.Peer},
	}}
	h := NewFacesHandler(registry, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/faces", nil)
	rec := httptest.NewRecorder()
	h.Clear(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if registry.clearCalls != 1 || registry.persistCalls != 1 {
		t.Errorf("clear=%d persist=%d, want 1/1", registry.clearCalls, registry.persistCalls)
	}

	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["cleared"] != 2 {
		t.Errorf("cleared = %d, want 2", resp["cleared"])
	}
}

func TestClearFacesPersistError(t *testing.T) {
	registry := &fakeRegistry{persistErr: errors.New("db down")}
	h := NewFacesHandler(registry, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/faces", nil)
	rec := httptest.NewRecorder()
	h.Clear(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
