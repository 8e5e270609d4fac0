package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/imaging"
	"github.com/joseph-ayodele/note2tex/internal/models"
)

// RecognizeStage detects regions on a page and recognizes each one.
type RecognizeStage struct {
	handles       models.Handles
	concurrency   int
	maxRegionSide int
	logger        *slog.Logger
}

func NewRecognizeStage(handles models.Handles, concurrency, maxRegionSide int, logger *slog.Logger) *RecognizeStage {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &RecognizeStage{handles: handles, concurrency: concurrency, maxRegionSide: maxRegionSide, logger: logger}
}

// Run detects and recognizes blocks on the page at imagePath. Detection errors
// are returned; a failed block is kept with empty content and zero confidence.
// The decoded page is returned for preview rendering.
func (s *RecognizeStage) Run(ctx context.Context, imagePath string) ([]entity.ContentBlock, image.Image, error) {
	page, _, err := imaging.Load(imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("decode page: %w", err)
	}

	log := s.logger.With(common.LogAttrs(ctx)...)
	if pid := common.ProjectIDFromContext(ctx); pid != "" {
		log = log.With("project_id", pid)
	}

	start := time.Now()
	dets, err := s.handles.Detector.Detect(ctx, imagePath)
	if err != nil {
		return nil, page, fmt.Errorf("detect: %w", err)
	}
	log.Info("pipeline.detect.ok", "detections", len(dets), "duration_ms", time.Since(start).Milliseconds())
	if len(dets) == 0 {
		return nil, page, nil
	}

	results := s.recognizeAll(ctx, page, dets)
	if err := ctx.Err(); err != nil {
		return nil, page, err
	}

	blocks := make([]entity.ContentBlock, len(dets))
	failed := 0
	for i, d := range dets {
		r := results[i]
		if !r.OK() {
			failed++
			log.Warn("pipeline.recognize.block_failed", "idx", d.Index, "kind", d.Kind, "error", r.Err)
		}
		blk := entity.ContentBlock{Index: d.Index, Box: d.Box, Kind: d.Kind, Content: r.Content}
		if d.Kind == constants.BlockText {
			conf := r.Confidence
			blk.Confidence = &conf
		}
		blocks[i] = blk
	}
	log.Info("pipeline.recognize.ok", "blocks", len(blocks), "failed", failed, "duration_ms", time.Since(start).Milliseconds())
	return blocks, page, nil
}

// recognizeAll runs one recognition per detection with bounded concurrency.
// Results are index-aligned with dets.
func (s *RecognizeStage) recognizeAll(ctx context.Context, page image.Image, dets []models.Detection) []models.Recognition {
	results := make([]models.Recognition, len(dets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, d := range dets {
		g.Go(func() error {
			results[i] = s.recognizeOne(gctx, page, d)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *RecognizeStage) recognizeOne(ctx context.Context, page image.Image, d models.Detection) (rec models.Recognition) {
	rec = models.Recognition{Index: d.Index, Kind: d.Kind}
	defer func() {
		if r := recover(); r != nil {
			rec.Content, rec.Confidence = "", 0
			rec.Err = fmt.Errorf("recognizer panic: %v", r)
		}
	}()

	png, err := imaging.Region(page, d.Box, s.maxRegionSide)
	if err != nil {
		rec.Err = fmt.Errorf("crop: %w", err)
		return rec
	}
	region := models.Region{Index: d.Index, Kind: d.Kind, Box: d.Box, PNG: png}

	switch d.Kind {
	case constants.BlockFormula:
		rec.Content, rec.Err = s.handles.Formula.RecognizeFormula(ctx, region)
	case constants.BlockText:
		rec.Content, rec.Confidence, rec.Err = s.handles.Text.RecognizeText(ctx, region)
	default:
		rec.Err = fmt.Errorf("unsupported block kind %q", d.Kind)
	}
	if rec.Err != nil {
		rec.Content, rec.Confidence = "", 0
	}
	return rec
}
