package entity

import (
	"fmt"

	"github.com/joseph-ayodele/note2tex/constants"
)

// BoundingBox is an axis-aligned pixel rectangle (x1<x2, y1<y2).
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Height is never below 1 so ratios against it stay finite.
func (b BoundingBox) Height() int {
	return max(1, b.Y2-b.Y1)
}

func (b BoundingBox) Width() int {
	return max(1, b.X2-b.X1)
}

// CenterY is the vertical midpoint.
func (b BoundingBox) CenterY() float64 {
	return float64(b.Y1+b.Y2) / 2.0
}

// Valid reports whether the box has positive extent on both axes.
func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("x=%d..%d y=%d..%d", b.X1, b.X2, b.Y1, b.Y2)
}

// ContentBlock is one detected region on a page with its recognized content.
type ContentBlock struct {
	Index      int                 `json:"idx"`
	Box        BoundingBox         `json:"bbox"`
	Kind       constants.BlockKind `json:"kind"`
	Content    string              `json:"content"`
	Confidence *float32            `json:"confidence,omitempty"`
}

// Line is an ordered run of blocks sharing one visual text line.
type Line []ContentBlock

// Top is the smallest y1 among members.
func (l Line) Top() int {
	if len(l) == 0 {
		return 0
	}
	top := l[0].Box.Y1
	for _, b := range l[1:] {
		top = min(top, b.Box.Y1)
	}
	return top
}

// Left is the smallest x1 among members.
func (l Line) Left() int {
	if len(l) == 0 {
		return 0
	}
	left := l[0].Box.X1
	for _, b := range l[1:] {
		left = min(left, b.Box.X1)
	}
	return left
}
