package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Compiler turns LaTeX source into PDF bytes.
type Compiler interface {
	Compile(ctx context.Context, tex string) ([]byte, error)
}

// Converter turns LaTeX source into DOCX bytes.
type Converter interface {
	ToDocx(ctx context.Context, tex string) ([]byte, error)
}

// RenderStage produces the PDF and DOCX outputs. Both are optional: failures
// are logged and the output is left nil.
type RenderStage struct {
	compiler  Compiler
	converter Converter
	logger    *slog.Logger
}

func NewRenderStage(compiler Compiler, converter Converter, logger *slog.Logger) *RenderStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderStage{compiler: compiler, converter: converter, logger: logger}
}

type Rendered struct {
	PDF  []byte
	Docx []byte
}

func (s *RenderStage) Run(ctx context.Context, tex string) Rendered {
	var out Rendered

	if s.compiler != nil {
		start := time.Now()
		pdf, err := s.compiler.Compile(ctx, tex)
		if err != nil {
			s.logger.Warn("pipeline.compile.failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		} else {
			out.PDF = pdf
			s.logger.Info("pipeline.compile.ok", "bytes", len(pdf), "duration_ms", time.Since(start).Milliseconds())
		}
	}

	if s.converter != nil && ctx.Err() == nil {
		docx, err := s.converter.ToDocx(ctx, tex)
		if err != nil {
			s.logger.Warn("pipeline.convert.failed", "error", err)
		} else {
			out.Docx = docx
		}
	}
	return out
}
