package imaging

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

var (
	formulaColor = color.RGBA{R: 0, G: 170, B: 0, A: 255}
	textColor    = color.RGBA{R: 0, G: 0, B: 220, A: 255}
)

// Overlay draws every block's box and "idx:kind" label over a copy of img.
func Overlay(img image.Image, blocks []entity.ContentBlock) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	for _, blk := range blocks {
		c := textColor
		if blk.Kind == constants.BlockFormula {
			c = formulaColor
		}
		box := Clamp(blk.Box, dst.Bounds())
		if !box.Valid() {
			continue
		}
		strokeRect(dst, image.Rect(box.X1, box.Y1, box.X2, box.Y2), c, 2)

		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(c),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(box.X1, max(basicfont.Face7x13.Ascent, box.Y1-4)),
		}
		d.DrawString(fmt.Sprintf("%d:%s", blk.Index, blk.Kind))
	}
	return dst
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color, width int) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), u, image.Point{}, draw.Src)
	}
}
