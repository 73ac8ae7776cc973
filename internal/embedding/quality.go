package embedding

import (
	"image"
	"math"
)

// QualityMetrics are derived attributes of a candidate face crop, computed
// once right before extraction and never persisted.
type QualityMetrics struct {
	Brightness float64 // mean BT.601 luma in [0, 1]
	Contrast   float64 // max-min luma in [0, 1]
	Blurred    bool    // mean Laplacian magnitude below threshold
	Quality    float64 // composite score in [0, 1]
}

// ComputeQuality derives the quality metrics for an image. The composite
// score starts at 1.0 and takes multiplicative penalties for low brightness
// and low contrast. Blur is detected and reported but carries no penalty;
// the Laplacian estimate proved too noisy on small crops to gate on.
func ComputeQuality(img image.Image, blurThreshold float64) QualityMetrics {
	luma := lumaGrid(img)

	var m QualityMetrics
	m.Brightness = meanLuma(luma)
	m.Contrast = lumaRange(luma)
	m.Blurred = detectBlur(luma, blurThreshold)

	m.Quality = 1.0
	switch {
	case m.Brightness < 0.3:
		m.Quality *= 0.7
	case m.Brightness < 0.5:
		m.Quality *= 0.85
	}
	switch {
	case m.Contrast < 0.3:
		m.Quality *= 0.7
	case m.Contrast < 0.5:
		m.Quality *= 0.85
	}

	return m
}

// lumaGrid converts an image to BT.601 luma values in [0, 1], indexed [y][x].
func lumaGrid(img image.Image) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	grid := make([][]float64, h)
	for y := range h {
		grid[y] = make([]float64, w)
		for x := range w {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			grid[y][x] = (0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)) / 255.0
		}
	}
	return grid
}

func meanLuma(grid [][]float64) float64 {
	var sum float64
	var count int
	for _, row := range grid {
		for _, v := range row {
			sum += v
		}
		count += len(row)
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func lumaRange(grid [][]float64) float64 {
	minV, maxV := 1.0, 0.0
	for _, row := range grid {
		for _, v := range row {
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}
	}
	if maxV < minV {
		return 0
	}
	return maxV - minV
}

// detectBlur estimates focus from the mean 4-neighbour Laplacian magnitude.
func detectBlur(grid [][]float64, threshold float64) bool {
	h := len(grid)
	if h < 3 {
		return true
	}
	w := len(grid[0])
	if w < 3 {
		return true
	}

	var total float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := math.Abs(4*grid[y][x] - grid[y-1][x] - grid[y+1][x] - grid[y][x-1] - grid[y][x+1])
			total += lap
		}
	}

	avg := total / float64((w-2)*(h-2))
	return avg < threshold
}
