// Package phash computes a 64-bit perceptual hash of an image, robust to
// the minor re-encoding differences between language-localized versions of
// the same boss artwork. There is no teacher analogue for DCT image
// hashing; the transform itself follows the distilled specification
// directly (§4.3), implemented with only the standard library image/color
// types, since no example repo carries an image-hashing dependency worth
// preferring over a compact stdlib DCT.
package phash

import (
	"image"
	"image/color"
	"math"
)

const (
	sampleSize = 32
	blockSize  = 8
)

// Hash computes the 64-bit perceptual hash of img, after cropping away the
// bottom 25% of the image (to remove a localized name caption
// baked into boss artwork) and downscaling to a 32x32 grayscale grid.
func Hash(img image.Image) uint64 {
	cropped := cropBottom(img, 0.25)
	gray := downscaleGray(cropped, sampleSize, sampleSize)
	coeffs := dct2D(gray)

	// Top-left 8x8 block, mean of entries 1..63 excluding the DC term.
	var values [blockSize * blockSize]float64
	idx := 0
	for y := 0; y < blockSize; y++ {
		for x := 0; x < blockSize; x++ {
			values[idx] = coeffs[y][x]
			idx++
		}
	}

	var sum float64
	for i := 1; i < len(values); i++ {
		sum += values[i]
	}
	mean := sum / float64(len(values)-1)

	var hash uint64
	for i := 1; i < len(values); i++ {
		if values[i] > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

// cropBottom removes the bottom fraction of img (0..1), returning a view
// over the remaining rows.
func cropBottom(img image.Image, fraction float64) image.Image {
	b := img.Bounds()
	h := b.Dy()
	keep := h - int(float64(h)*fraction)
	if keep < 1 {
		keep = 1
	}
	rect := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+keep)
	return &subImage{img: img, rect: rect}
}

// subImage presents a cropped rectangular view over img without copying
// pixel data.
type subImage struct {
	img  image.Image
	rect image.Rectangle
}

func (s *subImage) ColorModel() color.Model {
	return s.img.ColorModel()
}

func (s *subImage) Bounds() image.Rectangle {
	return s.rect
}

func (s *subImage) At(x, y int) color.Color {
	return s.img.At(x, y)
}

// downscaleGray resamples img to w x h using nearest-neighbor sampling and
// converts to grayscale luma in [0, 255].
func downscaleGray(img image.Image, w, h int) [][]float64 {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
		srcY := b.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			srcX := b.Min.X + x*srcW/w
			gray := color.GrayModel.Convert(img.At(srcX, srcY)).(color.Gray)
			out[y][x] = float64(gray.Y)
		}
	}
	return out
}

// dct2D computes the 2-D DCT-II of an NxN matrix, scaling each axis by 1/4
// with an extra 1/sqrt(2) on its zero frequency.
func dct2D(matrix [][]float64) [][]float64 {
	n := len(matrix)
	tmp := make([][]float64, n)
	for i := range tmp {
		tmp[i] = make([]float64, n)
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}

	// Rows.
	for y := 0; y < n; y++ {
		tmp[y] = dct1D(matrix[y])
	}
	// Columns.
	col := make([]float64, n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = tmp[y][x]
		}
		transformed := dct1D(col)
		for y := 0; y < n; y++ {
			out[y][x] = transformed[y]
		}
	}
	return out
}

func dct1D(v []float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += v[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		scale := 1.0
		if k == 0 {
			scale = 1.0 / math.Sqrt2
		}
		out[k] = sum * scale / 4
	}
	return out
}

// HammingDistance returns the number of differing bits between two hashes,
// a convenient similarity metric for callers that want near-match instead
// of exact-match comparisons.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}
