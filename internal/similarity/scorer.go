// Package similarity computes a calibrated similarity score between two
// face embeddings by fusing eight distance and correlation metrics.
//
// No single metric separates same/different identity reliably under varying
// lighting and pose, so the score is a weighted ensemble followed by a
// logistic sharpening step and band reshaping. The constants live in
// calibration.yaml and must stay in sync with the resolver thresholds.
package similarity

import (
	"math"

	"github.com/pavelmac/faceshare/internal/config"
)

// Scorer fuses component metrics into a single score in [0, 1].
// Stateless and safe for concurrent use.
type Scorer struct {
	cal config.ScorerCalibration
}

// NewScorer creates a scorer with the given calibration.
func NewScorer(cal config.ScorerCalibration) *Scorer {
	return &Scorer{cal: cal}
}

// NewDefaultScorer creates a scorer with the embedded calibration constants.
func NewDefaultScorer() *Scorer {
	return NewScorer(config.DefaultCalibration().Scorer)
}

// Score returns the calibrated similarity between two embeddings.
// A dimension mismatch yields 0 rather than an error so the matching
// pipeline stays total.
func (s *Scorer) Score(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	pa := s.preprocess(a)
	pb := s.preprocess(b)

	w := s.cal.Weights
	weightedSum := w.Cosine*cosineSimilarity(pa, pb) +
		w.Euclidean*euclideanSimilarity(pa, pb) +
		w.Manhattan*manhattanSimilarity(pa, pb) +
		w.Pearson*pearsonSimilarity(pa, pb) +
		w.Mahalanobis*mahalanobisSimilarity(pa, pb) +
		w.Jaccard*jaccardSimilarity(pa, pb) +
		w.Chebyshev*chebyshevSimilarity(pa, pb) +
		w.Canberra*canberraSimilarity(pa, pb)

	return s.reshape(s.sharpen(weightedSum))
}

// preprocess re-normalizes, smooths extraction noise with a moving average
// and boosts the leading dimensions, which carry the strongest identity
// signal for the reference model.
func (s *Scorer) preprocess(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		out[i] = float64(x)
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range out {
			out[i] /= norm
		}
	}

	out = smooth(out, s.cal.SmoothingRadius)

	boost := min(s.cal.BoostDims, len(out))
	for i := 0; i < boost; i++ {
		out[i] *= s.cal.BoostFactor
	}
	return out
}

// smooth applies a windowed moving average with the given radius.
// Windows narrow at the boundaries.
func smooth(v []float64, radius int) []float64 {
	if radius <= 0 {
		return v
	}
	out := make([]float64, len(v))
	for i := range v {
		lo := max(0, i-radius)
		hi := min(len(v)-1, i+radius)
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += v[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// sharpen applies a logistic function centered at 0.5 to exaggerate the
// separation between same-person and different-person scores.
func (s *Scorer) sharpen(x float64) float64 {
	return 1 / (1 + math.Exp(-s.cal.SigmoidSteepness*(x-0.5)))
}

// reshape pushes confident matches toward 1 and compresses confident
// non-matches toward 0, leaving the ambiguous band untouched.
func (s *Scorer) reshape(x float64) float64 {
	switch {
	case x > s.cal.HighBand:
		return 0.9 + (x-s.cal.HighBand)*0.5
	case x < s.cal.LowBand:
		return x * 0.5
	default:
		return x
	}
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func euclideanSimilarity(a, b []float64) float64 {
	var sumSq float64
	for i := range a {
		d := a[i] - b[i]
		sumSq += d * d
	}
	maxDistance := math.Sqrt(float64(len(a)))
	return 1 - math.Sqrt(sumSq)/maxDistance
}

func manhattanSimilarity(a, b []float64) float64 {
	var sumAbs float64
	for i := range a {
		sumAbs += math.Abs(a[i] - b[i])
	}
	return 1 - sumAbs/float64(len(a))
}

// pearsonSimilarity is the Pearson correlation rescaled from [-1, 1] to [0, 1].
func pearsonSimilarity(a, b []float64) float64 {
	n := float64(len(a))
	var sumA, sumB, sumASq, sumBSq, pSum float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
		sumASq += a[i] * a[i]
		sumBSq += b[i] * b[i]
		pSum += a[i] * b[i]
	}
	num := pSum - sumA*sumB/n
	den := math.Sqrt((sumASq - sumA*sumA/n) * (sumBSq - sumB*sumB/n))
	if den == 0 {
		return 0
	}
	return (num/den + 1) / 2
}

// mahalanobisSimilarity is a simplified Mahalanobis-like similarity that
// normalizes the squared difference by the mean per-dimension energy.
func mahalanobisSimilarity(a, b []float64) float64 {
	var sumSqDiff, sumVariance float64
	for i := range a {
		d := a[i] - b[i]
		sumSqDiff += d * d
		sumVariance += (a[i]*a[i] + b[i]*b[i]) / 2
	}
	if sumVariance <= 0 {
		return 0
	}
	return 1 / (1 + math.Sqrt(sumSqDiff/sumVariance))
}

func jaccardSimilarity(a, b []float64) float64 {
	var intersection, union float64
	for i := range a {
		intersection += math.Min(a[i], b[i])
		union += math.Max(a[i], b[i])
	}
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func chebyshevSimilarity(a, b []float64) float64 {
	var maxDiff float64
	for i := range a {
		maxDiff = math.Max(maxDiff, math.Abs(a[i]-b[i]))
	}
	return 1 / (1 + maxDiff)
}

func canberraSimilarity(a, b []float64) float64 {
	var sum float64
	for i := range a {
		den := math.Abs(a[i]) + math.Abs(b[i])
		if den > 0 {
			sum += math.Abs(a[i]-b[i]) / den
		}
	}
	return 1 / (1 + sum)
}
