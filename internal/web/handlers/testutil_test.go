package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"sync"
	"testing"

	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/identity"
	"github.com/pavelmac/faceshare/internal/scanner"
)

// fakeRegistry is an in-memory Registry for handler tests.
type fakeRegistry struct {
	faces      []identity.Known
	match      *identity.MatchResult
	persistErr error

	clearCalls   int
	persistCalls int
}

func (f *fakeRegistry) KnownFaces() []identity.Known { return f.faces }

func (f *fakeRegistry) FindMatch(probe []float32) *identity.MatchResult { return f.match }

func (f *fakeRegistry) Clear() {
	f.clearCalls++
	f.faces = nil
}

func (f *fakeRegistry) Persist(ctx context.Context) error {
	f.persistCalls++
	return f.persistErr
}

// fakeEmbedder records the crop it received and returns a fixed result.
type fakeEmbedder struct {
	embedding []float32
	err       error
	gotCrop   image.Image
}

func (f *fakeEmbedder) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	f.gotCrop = img
	if f.err != nil {
		return nil, f.err
	}
	return f.embedding, nil
}

// fakeDetector returns a fixed detection set.
type fakeDetector struct {
	detections []detect.Detection
	err        error
}

func (f *fakeDetector) DetectFaces(ctx context.Context, imageData []byte) ([]detect.Detection, error) {
	return f.detections, f.err
}

// fakeRunner blocks until released, so tests can observe a running scan.
type fakeRunner struct {
	mu      sync.Mutex
	report  *scanner.Report
	err     error
	release chan struct{}
	calls   int
}

func (f *fakeRunner) Scan(ctx context.Context) (*scanner.Report, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.report, f.err
}

// testImage is a flat gray square, bright enough to pass quality gates.
func testImage(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 180, B: 180, A: 255})
		}
	}
	return img
}

// multipartImage builds a multipart body with one PNG under the given
// field name.
func multipartImage(t *testing.T, field string, img image.Image) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, "face.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if err := png.Encode(part, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}
