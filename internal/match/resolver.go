// Package match resolves a probe embedding against the known-identity set.
package match

import (
	"github.com/pavelmac/faceshare/internal/identity"
)

// Scorer computes raw similarity between two embeddings in [0, 1].
type Scorer interface {
	Score(a, b []float32) float64
}

// Resolver combines raw similarity with per-identity trust to produce a
// final confidence. Stateless apart from its scorer and threshold.
type Resolver struct {
	scorer    Scorer
	threshold float64
}

// NewResolver builds a resolver. The threshold is the global confidence
// floor below which every candidate is rejected.
func NewResolver(scorer Scorer, threshold float64) *Resolver {
	return &Resolver{scorer: scorer, threshold: threshold}
}

// Threshold reports the configured confidence floor.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve scores the probe against every candidate and returns the best one
// whose trust-weighted confidence clears the threshold, or nil when none
// does. Candidates must be ordered oldest first; ties on confidence keep
// the earliest-registered identity.
func (r *Resolver) Resolve(probe []float32, candidates []identity.Known) *identity.MatchResult {
	var best *identity.MatchResult
	for _, c := range candidates {
		score := r.scorer.Score(probe, c.Embedding)
		confidence := score * float64(c.TrustScore)
		if confidence <= r.threshold {
			continue
		}
		if best == nil || confidence > best.Confidence {
			best = &identity.MatchResult{
				DisplayName: c.DisplayName,
				Confidence:  confidence,
				Tier:        c.Tier,
			}
		}
	}
	return best
}
