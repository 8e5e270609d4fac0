// Package models holds the detector and recognizer capabilities used by the
// pipeline, with HTTP and local adapters.
package models

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

// Detection is one classified region reported by a Detector.
type Detection struct {
	Index      int
	Box        entity.BoundingBox
	Kind       constants.BlockKind
	Confidence float32
}

// Region is a cropped block image handed to a recognizer.
type Region struct {
	Index int
	Kind  constants.BlockKind
	Box   entity.BoundingBox
	PNG   []byte
}

// Detector finds formula and text regions on a page image. Results carry only
// formula/text kinds, are indexed from 1 in reading order, and exclude
// low-confidence text lines.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Detection, error)
}

// FormulaRecognizer turns a formula region into LaTeX.
type FormulaRecognizer interface {
	RecognizeFormula(ctx context.Context, region Region) (string, error)
}

// TextRecognizer turns a text-line region into a string and a confidence in [0,1].
type TextRecognizer interface {
	RecognizeText(ctx context.Context, region Region) (string, float32, error)
}

// Handles bundles the model capabilities. Build it once at startup and share it.
type Handles struct {
	Detector Detector
	Formula  FormulaRecognizer
	Text     TextRecognizer
}

// Validate reports a missing capability.
func (h Handles) Validate() error {
	switch {
	case h.Detector == nil:
		return errors.New("models: detector is not configured")
	case h.Formula == nil:
		return errors.New("models: formula recognizer is not configured")
	case h.Text == nil:
		return errors.New("models: text recognizer is not configured")
	}
	return nil
}

// Recognition is the outcome of recognizing one block: content and confidence
// on success, or the failure reason in Err.
type Recognition struct {
	Index      int
	Kind       constants.BlockKind
	Content    string
	Confidence float32
	Err        error
}

// OK reports success.
func (r Recognition) OK() bool {
	return r.Err == nil
}

// ErrNotEnabled is returned by adapters compiled out of this build.
var ErrNotEnabled = errors.New("models: backend not enabled in this build")
