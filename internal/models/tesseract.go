//go:build tesseract

package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// TesseractRecognizer reads text lines locally through libtesseract. A single
// engine is shared, so calls are serialized.
type TesseractRecognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
	logger *slog.Logger
}

// NewTesseractRecognizer creates a recognizer for lang (e.g. "eng" or "eng+deu").
// Close it when done.
func NewTesseractRecognizer(lang string, logger *slog.Logger) (*TesseractRecognizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gosseract.NewClient()
	if lang != "" {
		if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("tesseract language: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tesseract page seg mode: %w", err)
	}
	return &TesseractRecognizer{client: client, logger: logger}, nil
}

func (t *TesseractRecognizer) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

func (t *TesseractRecognizer) RecognizeText(ctx context.Context, region Region) (string, float32, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(region.PNG); err != nil {
		return "", 0, fmt.Errorf("tesseract set image #%d: %w", region.Index, err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("tesseract #%d: %w", region.Index, err)
	}

	// mean word confidence, 0..100 from tesseract
	var conf float32
	if boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(boxes) > 0 {
		var sum float64
		for _, b := range boxes {
			sum += b.Confidence
		}
		conf = float32(sum / float64(len(boxes)) / 100.0)
	} else if err != nil {
		t.logger.Warn("models.tesseract.confidence_error", "idx", region.Index, "error", err)
	}
	return strings.TrimSpace(text), min(max(conf, 0), 1), nil
}
