// Package embedding turns a cropped face image into a normalized embedding
// vector through a quality gate, preprocessing and a swappable model.
package embedding

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/pavelmac/faceshare/internal/config"
)

// Extractor produces L2-normalized embeddings from face crops.
// Pure apart from the model call; safe for concurrent use when the model is.
type Extractor struct {
	model Model
	cal   config.QualityCalibration
}

// NewExtractor creates an extractor over the given model.
func NewExtractor(model Model, cal config.QualityCalibration) *Extractor {
	return &Extractor{model: model, cal: cal}
}

// Extract computes the embedding for a face crop.
//
// The crop must already be a face region; the extractor does not re-detect.
// Low-quality input fails with ErrInvalidImage before inference is attempted,
// which keeps unreliable vectors out of the registry at the cost of dropping
// some poorly-lit but matchable faces. Retry policy belongs to the caller.
func (e *Extractor) Extract(ctx context.Context, faceImage image.Image) ([]float32, error) {
	if faceImage == nil || faceImage.Bounds().Empty() {
		return nil, ErrInvalidImage
	}

	metrics := ComputeQuality(faceImage, e.cal.BlurThreshold)
	if metrics.Quality < e.cal.MinQuality {
		return nil, fmt.Errorf("%w: quality %.2f below %.2f (brightness %.2f, contrast %.2f)",
			ErrInvalidImage, metrics.Quality, e.cal.MinQuality, metrics.Brightness, metrics.Contrast)
	}

	input := e.preprocess(faceImage)

	raw, err := e.model.Infer(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessing, err)
	}

	out, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// preprocess scales the crop to the model input resolution and normalizes
// channel values into [-1, 1].
func (e *Extractor) preprocess(img image.Image) *Input {
	size := e.model.InputSize()
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	data := make([]float32, size*size*3)
	i := 0
	for y := range size {
		for x := range size {
			o := dst.PixOffset(x, y)
			data[i] = float32(dst.Pix[o])/255.0*2.0 - 1.0
			data[i+1] = float32(dst.Pix[o+1])/255.0*2.0 - 1.0
			data[i+2] = float32(dst.Pix[o+2])/255.0*2.0 - 1.0
			i += 3
		}
	}

	return &Input{Size: size, Data: data}
}

// Normalize scales a vector to unit L2 norm. A zero-magnitude vector is a
// processing failure, never a valid embedding.
func Normalize(v []float32) ([]float32, error) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, fmt.Errorf("%w: zero-norm embedding", ErrProcessing)
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}
