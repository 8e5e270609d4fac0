//go:build !tesseract

package models

import (
	"context"
	"log/slog"
)

// TesseractRecognizer is unavailable without the tesseract build tag.
type TesseractRecognizer struct{}

func NewTesseractRecognizer(string, *slog.Logger) (*TesseractRecognizer, error) {
	return nil, ErrNotEnabled
}

func (*TesseractRecognizer) Close() error { return nil }

func (*TesseractRecognizer) RecognizeText(context.Context, Region) (string, float32, error) {
	return "", 0, ErrNotEnabled
}
