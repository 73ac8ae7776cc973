package photostore

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW index parameters for face embeddings.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	hnswMaxNeighbors = 16

	// hnswSearchMultiplier requests extra candidates so enough survive
	// the distance filter.
	hnswSearchMultiplier = 3
)

// Index is an in-memory HNSW index over stored face embeddings. It
// answers "which photos show this person" without touching the database.
type Index struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[int64]
	idToFace map[int64]*StoredFace
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{idToFace: make(map[int64]*StoredFace)}
}

// Build replaces the index contents with the given faces.
func (ix *Index) Build(faces []StoredFace) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(faces) == 0 {
		ix.graph = nil
		ix.idToFace = make(map[int64]*StoredFace)
		return nil
	}

	g := hnsw.NewGraph[int64]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	ix.idToFace = make(map[int64]*StoredFace, len(faces))
	for i := range faces {
		face := &faces[i]
		if len(face.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(face.ID, face.Embedding))
		ix.idToFace[face.ID] = face
	}

	ix.graph = g
	return nil
}

// Add inserts a single face into the index.
func (ix *Index) Add(face *StoredFace) error {
	if len(face.Embedding) == 0 {
		return errors.New("face has no embedding")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.graph == nil {
		g := hnsw.NewGraph[int64]()
		g.M = hnswMaxNeighbors
		g.Ml = 1.0 / float64(hnswMaxNeighbors)
		g.Distance = hnsw.CosineDistance
		ix.graph = g
	}

	ix.graph.Add(hnsw.MakeNode(face.ID, face.Embedding))
	ix.idToFace[face.ID] = face
	return nil
}

// Len returns the number of indexed faces.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.idToFace)
}

// Neighbor is one index hit with its cosine similarity to the query.
type Neighbor struct {
	Face       *StoredFace
	Similarity float64
}

// Search returns up to k faces nearest to the query by cosine similarity.
func (ix *Index) Search(query []float32, k int) ([]Neighbor, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil {
		return nil, nil
	}

	nodes := ix.graph.Search(query, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		face, ok := ix.idToFace[n.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{
			Face:       face,
			Similarity: 1 - float64(hnsw.CosineDistance(query, n.Value)),
		})
	}
	return out, nil
}

// PhotosOfPerson returns the UIDs of photos containing a face whose
// cosine similarity to the query clears the threshold. Each photo appears
// once, nearest hit first.
func (ix *Index) PhotosOfPerson(query []float32, threshold float64, limit int) ([]string, error) {
	neighbors, err := ix.Search(query, limit*hnswSearchMultiplier)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var uids []string
	for _, n := range neighbors {
		if n.Similarity < threshold {
			continue
		}
		if seen[n.Face.PhotoUID] {
			continue
		}
		seen[n.Face.PhotoUID] = true
		uids = append(uids, n.Face.PhotoUID)
		if len(uids) >= limit {
			break
		}
	}
	return uids, nil
}
