// Package peer exchanges profile embeddings and photos with nearby
// devices over a message channel.
package peer

import (
	"context"
	"encoding/json"
	"time"
)

// EventType tags a channel event.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventPayload
)

// Event is one occurrence on the transport: a peer appearing,
// disappearing, or sending a payload.
type Event struct {
	Type        EventType
	PeerID      string
	DisplayName string // advertised name, connect events only
	Payload     []byte
}

// Channel is the transport the coordinator runs on. Implementations
// deliver events until closed; Send to an unknown peer returns an error.
type Channel interface {
	Send(ctx context.Context, peerID string, payload []byte) error
	Broadcast(ctx context.Context, payload []byte) error
	Events() <-chan Event
	Close() error
}

// ProfileInfo is the identity card a device sends on connect.
type ProfileInfo struct {
	Name            string    `json:"name"`
	Embedding       []float32 `json:"embedding"`
	HasProfileImage bool      `json:"has_profile_image"`
}

// Peer is the coordinator's view of one connected device.
type Peer struct {
	ID              string
	AdvertisedName  string
	ResolvedName    string // contact name when recognized, else advertised
	Embedding       []float32
	HasProfileImage bool
	ConnectedAt     time.Time
}

// Payload classification. An embedding travels as a bare JSON float
// array, a profile as a JSON object, and photo bytes as-is.
type payloadKind int

const (
	payloadEmbedding payloadKind = iota
	payloadProfile
	payloadPhoto
)

func classifyPayload(data []byte) payloadKind {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return payloadEmbedding
		case '{':
			return payloadProfile
		default:
			return payloadPhoto
		}
	}
	return payloadPhoto
}

func decodeEmbedding(data []byte) ([]float32, error) {
	var emb []float32
	if err := json.Unmarshal(data, &emb); err != nil {
		return nil, err
	}
	return emb, nil
}

func decodeProfile(data []byte) (*ProfileInfo, error) {
	var info ProfileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
