package imagestore

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/face"
)

// Annotator draws a face box onto a copy of the source image and encodes it as JPEG.
type Annotator struct {
	LineWidth int
	Color     color.RGBA
	Quality   int
	// MaxSize scales the annotated image down to fit in a MaxSize square. Zero keeps the original size.
	MaxSize int
}

// DefaultAnnotator draws a 4px azure box at JPEG quality 90.
func DefaultAnnotator() Annotator {
	return Annotator{
		LineWidth: constants.AnnotationLineWidth,
		Color:     color.RGBA{R: 0, G: 176, B: 255, A: 255},
		Quality:   constants.AnnotationQuality,
	}
}

// Decode decodes a JPEG, PNG, GIF, BMP or WebP image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Annotate returns the JPEG encoding of img with box drawn on it.
// The box is in pixel coordinates of img.
func (a Annotator) Annotate(img image.Image, box face.BBox) ([]byte, error) {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)

	r := box.Ints()
	x1, y1, x2, y2 := r[0], r[1], r[2], r[3]
	for w := range max(a.LineWidth, 1) {
		drawHLine(dst, x1, x2, y1+w, a.Color)
		drawHLine(dst, x1, x2, y2-w, a.Color)
		drawVLine(dst, y1, y2, x1+w, a.Color)
		drawVLine(dst, y1, y2, x2-w, a.Color)
	}

	out := fitWithin(dst, a.MaxSize)

	quality := a.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin resizes an image to fit within maxSize while maintaining aspect ratio.
func fitWithin(img *image.RGBA, maxSize int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(height*maxSize/width, 1)
	} else {
		newHeight = maxSize
		newWidth = max(width*maxSize/height, 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// drawHLine draws a horizontal line on the image.
func drawHLine(dst *image.RGBA, x1, x2, y int, c color.RGBA) {
	bounds := dst.Bounds()
	if y < 0 || y >= bounds.Dy() {
		return
	}
	for x := x1; x <= x2; x++ {
		if x >= 0 && x < bounds.Dx() {
			dst.SetRGBA(x, y, c)
		}
	}
}

// drawVLine draws a vertical line on the image.
func drawVLine(dst *image.RGBA, y1, y2, x int, c color.RGBA) {
	bounds := dst.Bounds()
	if x < 0 || x >= bounds.Dx() {
		return
	}
	for y := y1; y <= y2; y++ {
		if y >= 0 && y < bounds.Dy() {
			dst.SetRGBA(x, y, c)
		}
	}
}
