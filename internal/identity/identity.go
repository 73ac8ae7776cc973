// Package identity defines the known-identity model shared by the registry,
// the resolver and the peer exchange.
package identity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelmac/faceshare/internal/config"
)

// TrustTier classifies how an identity was sourced. SelfProfile and Contact
// come from locally-verified sources; Peer arrives over unverified network
// exchange.
type TrustTier int

const (
	SelfProfile TrustTier = iota
	Contact
	Peer
)

var tierNames = map[TrustTier]string{
	SelfProfile: "selfProfile",
	Contact:     "contact",
	Peer:        "peer",
}

func (t TrustTier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TrustTier(%d)", int(t))
}

// MarshalText serializes the tier as its canonical string tag.
func (t TrustTier) MarshalText() ([]byte, error) {
	s, ok := tierNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown trust tier %d", int(t))
	}
	return []byte(s), nil
}

// UnmarshalText parses a tier tag strictly: malformed persisted data fails
// load instead of silently dropping records.
func (t *TrustTier) UnmarshalText(text []byte) error {
	parsed, err := ParseTrustTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTrustTier maps a string tag to its tier.
func ParseTrustTier(s string) (TrustTier, error) {
	for tier, name := range tierNames {
		if name == s {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("unknown trust tier %q", s)
}

// TrustScore returns the fixed per-tier confidence multiplier.
func (t TrustTier) TrustScore(cal config.TrustCalibration, familyRelation bool) float32 {
	switch t {
	case SelfProfile:
		return cal.SelfProfile
	case Contact:
		if familyRelation {
			return cal.ContactFamily
		}
		return cal.Contact
	default:
		return cal.Peer
	}
}

// Known is a registered identity with its reference embedding.
// Embeddings are immutable after creation; an update creates a fresh
// identity and removes the stale one.
type Known struct {
	ID             uuid.UUID
	Embedding      []float32
	DisplayName    string
	Tier           TrustTier
	TrustScore     float32
	ExternalRef    string // opaque address-book linkage, consumed by collaborators only
	FamilyRelation bool
	CreatedAt      time.Time
}

// MatchResult is the outcome of one match attempt. Consumed immediately by
// the caller, never persisted.
type MatchResult struct {
	DisplayName string
	Confidence  float64
	Tier        TrustTier
}
