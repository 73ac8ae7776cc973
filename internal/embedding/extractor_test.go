package embedding

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/pavelmac/faceshare/internal/config"
)

// fakeModel returns a fixed raw vector and records whether it was called.
type fakeModel struct {
	out    []float32
	err    error
	called bool
}

func (m *fakeModel) Name() string   { return "fake" }
func (m *fakeModel) InputSize() int { return 160 }
func (m *fakeModel) Dim() int       { return len(m.out) }

func (m *fakeModel) Infer(ctx context.Context, input *Input) ([]float32, error) {
	m.called = true
	if m.err != nil {
		return nil, m.err
	}
	return m.out, nil
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

// gradientImage has full luma range and decent mean brightness, so it
// passes the quality gate.
func gradientImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8(64 + x*191/(w-1))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func testCalibration() config.QualityCalibration {
	return config.DefaultCalibration().Quality
}

func TestExtractQualityGateBlocksInference(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
	}{
		{"all black", solidImage(64, 64, color.Black)},
		{"dark low contrast", solidImage(64, 64, color.RGBA{40, 40, 40, 255})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			model := &fakeModel{out: []float32{1, 0, 0}}
			ex := NewExtractor(model, testCalibration())

			_, err := ex.Extract(context.Background(), tc.img)
			if !errors.Is(err, ErrInvalidImage) {
				t.Fatalf("Extract error = %v; want ErrInvalidImage", err)
			}
			if model.called {
				t.Error("model must not be invoked for rejected input")
			}
		})
	}
}

func TestExtractNormalizesOutput(t *testing.T) {
	model := &fakeModel{out: []float32{3, 4, 0, 0}}
	ex := NewExtractor(model, testCalibration())

	emb, err := ex.Extract(context.Background(), gradientImage(64, 64))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !model.called {
		t.Fatal("model was not invoked")
	}

	var norm float64
	for _, x := range emb {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-6 {
		t.Errorf("embedding norm = %v; want 1.0", math.Sqrt(norm))
	}
	if math.Abs(float64(emb[0])-0.6) > 1e-6 || math.Abs(float64(emb[1])-0.8) > 1e-6 {
		t.Errorf("embedding = %v; want [0.6 0.8 0 0]", emb)
	}
}

func TestExtractZeroNormEmbedding(t *testing.T) {
	model := &fakeModel{out: []float32{0, 0, 0, 0}}
	ex := NewExtractor(model, testCalibration())

	_, err := ex.Extract(context.Background(), gradientImage(64, 64))
	if !errors.Is(err, ErrProcessing) {
		t.Fatalf("Extract error = %v; want ErrProcessing", err)
	}
}

func TestExtractModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("boom")}
	ex := NewExtractor(model, testCalibration())

	_, err := ex.Extract(context.Background(), gradientImage(64, 64))
	if !errors.Is(err, ErrProcessing) {
		t.Fatalf("Extract error = %v; want ErrProcessing", err)
	}
}

func TestExtractNilImage(t *testing.T) {
	ex := NewExtractor(&fakeModel{out: []float32{1}}, testCalibration())
	if _, err := ex.Extract(context.Background(), nil); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("Extract(nil) error = %v; want ErrInvalidImage", err)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	v := []float32{0.5, -1.5, 2.0, 0.25}

	once, err := Normalize(v)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	twice, err := Normalize(once)
	if err != nil {
		t.Fatalf("second Normalize failed: %v", err)
	}

	for i := range once {
		if math.Abs(float64(once[i]-twice[i])) > 1e-6 {
			t.Errorf("element %d: %v != %v", i, once[i], twice[i])
		}
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	if _, err := Normalize(make([]float32, 8)); !errors.Is(err, ErrProcessing) {
		t.Fatalf("Normalize(zero) error = %v; want ErrProcessing", err)
	}
}

func TestPreprocessRange(t *testing.T) {
	model := &fakeModel{out: []float32{1}}
	ex := NewExtractor(model, testCalibration())

	input := ex.preprocess(gradientImage(300, 200))
	if input.Size != 160 {
		t.Fatalf("input size = %d; want 160", input.Size)
	}
	if len(input.Data) != 160*160*3 {
		t.Fatalf("input length = %d; want %d", len(input.Data), 160*160*3)
	}
	for i, v := range input.Data {
		if v < -1 || v > 1 {
			t.Fatalf("value %d = %v outside [-1, 1]", i, v)
		}
	}
}

func TestComputeQuality(t *testing.T) {
	tests := []struct {
		name       string
		img        image.Image
		minQuality float64
		maxQuality float64
	}{
		{"all black", solidImage(32, 32, color.Black), 0, 0.49},
		{"all white", solidImage(32, 32, color.White), 0, 0.7},
		{"gradient", gradientImage(32, 32), 0.99, 1.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := ComputeQuality(tc.img, 0.1)
			if m.Quality < tc.minQuality || m.Quality > tc.maxQuality {
				t.Errorf("quality = %v; want in [%v, %v]", m.Quality, tc.minQuality, tc.maxQuality)
			}
		})
	}
}
