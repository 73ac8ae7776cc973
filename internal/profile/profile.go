// Package profile persists the device owner's enrolled face profile.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned when no profile has been enrolled yet.
var ErrNotFound = errors.New("no user profile enrolled")

// Profile is the owner's identity: display name plus the reference
// embedding extracted from their profile photo.
type Profile struct {
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding"`
	ImagePath string    `json:"image_path,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes the profile file. Passed explicitly to every
// consumer instead of living in package state, so tests can run isolated
// stores side by side.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the enrolled profile. Returns ErrNotFound when the file does
// not exist.
func (s *Store) Load() (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if p.Name == "" || len(p.Embedding) == 0 {
		return nil, fmt.Errorf("profile file %s is incomplete", s.path)
	}
	return &p, nil
}

// Save writes the profile atomically via a temp file rename, so a crash
// mid-write never corrupts the enrolled profile.
func (s *Store) Save(p *Profile) error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	if len(p.Embedding) == 0 {
		return errors.New("profile embedding is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp profile: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

// Exists reports whether a profile has been enrolled.
func (s *Store) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path)
	return err == nil
}

// Delete removes the enrolled profile. Deleting a missing profile is not
// an error.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}
