// Package photostore persists the scanned photo library and its detected
// faces, with an in-memory HNSW index for fast person lookup.
package photostore

import "time"

// Photo is one scanned library photo.
type Photo struct {
	UID       string
	Path      string
	TakenAt   time.Time
	CreatedAt time.Time
}

// StoredFace is one detected face within a photo.
type StoredFace struct {
	ID         int64
	PhotoUID   string
	FaceIndex  int
	Embedding  []float32
	BBox       []float64 // [x, y, width, height] in raw pixel coordinates
	DetScore   float64
	PersonName string // resolved identity, empty if unmatched
	CreatedAt  time.Time
}

// SentRecord tracks one photo shared with a peer, so the same photo is
// never offered twice.
type SentRecord struct {
	PeerName string
	PhotoUID string
	SentAt   time.Time
}
