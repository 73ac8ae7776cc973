// Package grouping clusters detected faces by identity without any prior
// enrollment.
package grouping

import (
	"image"
)

// Scorer computes raw similarity between two embeddings in [0, 1].
type Scorer interface {
	Score(a, b []float32) float64
}

// Face is one detected face crop with its embedding and the photo it
// came from.
type Face struct {
	Crop      image.Image
	PhotoUID  string
	Embedding []float32
	BBox      []float64 // [x, y, width, height] in source photo pixels
	DetScore  float64
}

// Group is one cluster of faces believed to be the same person. The first
// face is the cluster seed.
type Group struct {
	Faces []Face
}

// Seed returns the face the cluster was grown from.
func (g Group) Seed() Face {
	return g.Faces[0]
}

// Engine groups faces by greedy single-link clustering against each
// cluster's seed face.
type Engine struct {
	scorer    Scorer
	threshold float64
}

// NewEngine builds a grouping engine. Threshold is the minimum raw
// similarity for two faces to share a cluster.
func NewEngine(scorer Scorer, threshold float64) *Engine {
	return &Engine{scorer: scorer, threshold: threshold}
}

// Cluster partitions faces into groups of two or more. Singleton clusters
// are dropped since a group of one carries no sharing signal. The result
// is deterministic for a given input order: each unassigned face in turn
// seeds a cluster and claims every later unassigned face scoring above
// the threshold against the seed.
func (e *Engine) Cluster(faces []Face) []Group {
	assigned := make([]bool, len(faces))
	var groups []Group

	for i, seed := range faces {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []Face{seed}

		for j := i + 1; j < len(faces); j++ {
			if assigned[j] {
				continue
			}
			if e.scorer.Score(seed.Embedding, faces[j].Embedding) >= e.threshold {
				assigned[j] = true
				members = append(members, faces[j])
			}
		}

		if len(members) >= 2 {
			groups = append(groups, Group{Faces: members})
		}
	}

	return groups
}
