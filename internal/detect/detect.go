// Package detect locates faces in photos via the model server and crops
// them for embedding extraction.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// BBox is a face bounding box in pixel coordinates of the original image.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one detected face.
type Detection struct {
	BBox  BBox    `json:"bbox"`
	Score float64 `json:"score"`
}

// Detector finds face bounding boxes in encoded image data.
type Detector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]Detection, error)
}

// Client talks to the model server's face detection endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a detection client against the model server.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

type detectResponse struct {
	Faces []Detection `json:"faces"`
	Model string      `json:"model"`
}

// DetectFaces posts the image and returns all detected faces. An empty
// slice means the detector ran fine and found nothing.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) ([]Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect/faces", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var detResp detectResponse
	if err := json.Unmarshal(body, &detResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return detResp.Faces, nil
}

// paddingFraction widens each crop so the embedding model sees some
// context around the detected box.
const paddingFraction = 0.2

// CropFace cuts the padded bounding box out of the image. The padded
// rectangle is clamped to the image bounds, so boxes at the edge produce
// asymmetric padding rather than failing.
func CropFace(img image.Image, box BBox) (image.Image, error) {
	bounds := img.Bounds()

	padX := box.Width * paddingFraction
	padY := box.Height * paddingFraction

	rect := image.Rect(
		int(box.X-padX),
		int(box.Y-padY),
		int(box.X+box.Width+padX),
		int(box.Y+box.Height+padY),
	).Intersect(bounds)

	if rect.Empty() {
		return nil, fmt.Errorf("bounding box %+v outside image bounds %v", box, bounds)
	}

	return cropRect(img, rect), nil
}

// centerCropFraction is the share of the shorter image side used when no
// face box is available and the subject is assumed centered.
const centerCropFraction = 0.6

// CenterCrop returns the central square covering 60 percent of the
// shorter side. Used as a fallback for profile photos where detection
// found nothing.
func CenterCrop(img image.Image) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	side := w
	if h < side {
		side = h
	}
	side = int(float64(side) * centerCropFraction)
	if side < 1 {
		side = 1
	}

	x0 := bounds.Min.X + (w-side)/2
	y0 := bounds.Min.Y + (h-side)/2
	return cropRect(img, image.Rect(x0, y0, x0+side, y0+side))
}

// subImager is implemented by the stdlib image types.
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func cropRect(img image.Image, rect image.Rectangle) image.Image {
	if sub, ok := img.(subImager); ok {
		return sub.SubImage(rect)
	}

	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}
