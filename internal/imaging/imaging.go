// Package imaging loads page images and cuts detected regions out of them.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/note2tex/internal/entity"
)

// Load decodes a png, jpeg, webp, bmp or tiff page image.
func Load(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Clamp intersects box with the image bounds.
func Clamp(box entity.BoundingBox, bounds image.Rectangle) entity.BoundingBox {
	r := image.Rect(box.X1, box.Y1, box.X2, box.Y2).Intersect(bounds)
	return entity.BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Crop copies the part of img inside box into a new RGBA image with origin (0,0).
func Crop(img image.Image, box entity.BoundingBox) (*image.RGBA, error) {
	b := Clamp(box, img.Bounds())
	if !b.Valid() {
		return nil, fmt.Errorf("region %s lies outside the image", box)
	}
	r := image.Rect(b.X1, b.Y1, b.X2, b.Y2)
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

// Fit scales img down so its longer side is at most maxSide. Smaller images
// and maxSide <= 0 return img unchanged.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	longer := max(b.Dx(), b.Dy())
	if maxSide <= 0 || longer <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(longer)
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodePNG serializes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Region crops box out of img, fits it to maxSide and returns PNG bytes.
func Region(img image.Image, box entity.BoundingBox, maxSide int) ([]byte, error) {
	c, err := Crop(img, box)
	if err != nil {
		return nil, err
	}
	return EncodePNG(Fit(c, maxSide))
}

// Pad grows box by frac of its longer side on every edge, clamped to bounds.
func Pad(box entity.BoundingBox, frac float64, bounds image.Rectangle) entity.BoundingBox {
	if frac <= 0 {
		return Clamp(box, bounds)
	}
	px := int(float64(max(box.X2-box.X1, box.Y2-box.Y1)) * frac)
	return Clamp(entity.BoundingBox{
		X1: box.X1 - px,
		Y1: box.Y1 - px,
		X2: box.X2 + px,
		Y2: box.Y2 + px,
	}, bounds)
}
