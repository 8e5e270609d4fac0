// Package pipeline turns a project's page image into LaTeX, PDF, DOCX and a
// detection preview, and records the outcome on the project.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/async"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/imaging"
	"github.com/joseph-ayodele/note2tex/internal/latex"
	"github.com/joseph-ayodele/note2tex/internal/layout"
	"github.com/joseph-ayodele/note2tex/internal/repository"
	"github.com/joseph-ayodele/note2tex/internal/storage"
)

// ErrFetchImage means the project's source image could not be retrieved.
var ErrFetchImage = errors.New("fetch source image")

// Processor runs infer and rebuild jobs. It implements async.Handler.
type Processor struct {
	logger    *slog.Logger
	projects  repository.ProjectRepository
	store     storage.ObjectStore
	recognize *RecognizeStage
	render    *RenderStage
	clusterer *layout.Clusterer
	assembler *latex.Assembler
	workDir   string
}

func NewProcessor(
	logger *slog.Logger,
	projects repository.ProjectRepository,
	store storage.ObjectStore,
	recognize *RecognizeStage,
	render *RenderStage,
	clusterer *layout.Clusterer,
	assembler *latex.Assembler,
	workDir string,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if clusterer == nil {
		clusterer = layout.NewClusterer()
	}
	if assembler == nil {
		assembler = latex.NewAssembler()
	}
	return &Processor{
		logger:    logger,
		projects:  projects,
		store:     store,
		recognize: recognize,
		render:    render,
		clusterer: clusterer,
		assembler: assembler,
		workDir:   workDir,
	}
}

var _ async.Handler = (*Processor)(nil)

// Infer runs the full recognition pipeline for a project in processing status.
func (p *Processor) Infer(ctx context.Context, projectID uuid.UUID) error {
	start := time.Now()
	log := p.logger.With("project_id", projectID, "job", "infer")

	proj, err := p.projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	ctx = common.WithUserID(ctx, proj.UserID.String())
	log = log.With(common.LogAttrs(ctx)...)
	if proj.ImageKey == nil {
		return fmt.Errorf("%w: project has no image", ErrFetchImage)
	}

	dir, err := os.MkdirTemp(p.workDir, "note2tex-job-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	imgPath := filepath.Join(dir, "page"+path.Ext(*proj.ImageKey))
	if err := p.store.Fetch(ctx, *proj.ImageKey, imgPath); err != nil {
		return fmt.Errorf("%w: %w", ErrFetchImage, err)
	}

	blocks, page, err := p.recognize.Run(ctx, imgPath)
	if err != nil {
		return err
	}

	kept, excluded := layout.Filter(blocks)
	lines := p.clusterer.Cluster(kept)
	tex := p.assembler.Assemble(lines, proj.Title)
	log.Info("pipeline.assemble.ok", "blocks", len(blocks), "excluded", len(excluded), "lines", len(lines), "tex_bytes", len(tex))

	rendered := p.render.Run(ctx, tex)

	outputs := map[string][]byte{
		constants.ArtifactTex:  []byte(tex),
		constants.ArtifactPDF:  rendered.PDF,
		constants.ArtifactDocx: rendered.Docx,
	}
	if preview, err := imaging.EncodePNG(imaging.Overlay(page, blocks)); err != nil {
		log.Warn("pipeline.preview.failed", "error", err)
	} else {
		outputs[constants.ArtifactPreview] = preview
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	artifacts, uploaded, err := p.publish(ctx, proj, outputs, true)
	if err != nil {
		return err
	}
	if err := p.finish(ctx, proj, artifacts, uploaded); err != nil {
		return err
	}
	log.Info("pipeline.infer.ok", "duration_ms", time.Since(start).Milliseconds(),
		"pdf", artifacts.PDFKey != nil, "docx", artifacts.DocxKey != nil)
	return nil
}

// Rebuild recompiles a project from tex supplied by its owner. The detection
// preview of the last inference is kept.
func (p *Processor) Rebuild(ctx context.Context, projectID uuid.UUID, tex string) error {
	start := time.Now()
	log := p.logger.With("project_id", projectID, "job", "rebuild")

	proj, err := p.projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	ctx = common.WithUserID(ctx, proj.UserID.String())
	log = log.With(common.LogAttrs(ctx)...)

	doc := p.assembler.WrapIfNeeded(tex, proj.Title)
	rendered := p.render.Run(ctx, doc)
	if err := ctx.Err(); err != nil {
		return err
	}

	artifacts, uploaded, err := p.publish(ctx, proj, map[string][]byte{
		constants.ArtifactTex:  []byte(doc),
		constants.ArtifactPDF:  rendered.PDF,
		constants.ArtifactDocx: rendered.Docx,
	}, false)
	if err != nil {
		return err
	}
	artifacts.PreviewKey = proj.PreviewKey

	if err := p.finish(ctx, proj, artifacts, uploaded); err != nil {
		return err
	}
	log.Info("pipeline.rebuild.ok", "duration_ms", time.Since(start).Milliseconds(),
		"pdf", artifacts.PDFKey != nil, "docx", artifacts.DocxKey != nil)
	return nil
}

// Fail records cause on a processing project. Projects that already reached a
// terminal status are left alone.
func (p *Processor) Fail(ctx context.Context, projectID uuid.UUID, cause error) {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	if err := p.projects.MarkFailed(ctx, projectID, reason); err != nil {
		if errors.Is(err, common.ErrConflict) {
			p.logger.Warn("pipeline.fail.skipped", "project_id", projectID, "error", err)
			return
		}
		p.logger.Error("pipeline.fail.error", "project_id", projectID, "cause", reason, "error", err)
	}
}

// publish uploads the non-empty outputs under a fresh attempt prefix. With
// strict set any upload failure aborts the attempt and removes what it wrote;
// otherwise only the tex upload is mandatory and other failures drop that output.
func (p *Processor) publish(ctx context.Context, proj *entity.Project, outputs map[string][]byte, strict bool) (entity.Artifacts, []string, error) {
	attempt := uuid.NewString()
	var (
		artifacts entity.Artifacts
		uploaded  []string
	)
	slots := map[string]**string{
		constants.ArtifactTex:     &artifacts.TexKey,
		constants.ArtifactPDF:     &artifacts.PDFKey,
		constants.ArtifactDocx:    &artifacts.DocxKey,
		constants.ArtifactPreview: &artifacts.PreviewKey,
	}

	for _, name := range []string{constants.ArtifactTex, constants.ArtifactPDF, constants.ArtifactDocx, constants.ArtifactPreview} {
		data := outputs[name]
		if len(data) == 0 {
			continue
		}
		key := storage.ArtifactKey(proj.UserID, proj.ID, attempt, name)
		if _, err := p.store.PutBytes(ctx, data, key); err != nil {
			if strict || name == constants.ArtifactTex {
				p.discard(uploaded)
				return entity.Artifacts{}, nil, fmt.Errorf("upload %s: %w", name, err)
			}
			p.logger.Warn("pipeline.upload.skipped", "project_id", proj.ID, "artifact", name, "error", err)
			continue
		}
		uploaded = append(uploaded, key)
		k := key
		*slots[name] = &k
	}
	return artifacts, uploaded, nil
}

// finish marks the project ready and removes objects it no longer references.
// If the project can no longer be finished, this attempt's uploads are removed.
func (p *Processor) finish(ctx context.Context, proj *entity.Project, artifacts entity.Artifacts, uploaded []string) error {
	if err := p.projects.FinishReady(ctx, proj.ID, artifacts); err != nil {
		p.discard(uploaded)
		return fmt.Errorf("finish project: %w", err)
	}

	keep := make(map[string]bool)
	for _, k := range artifacts.Keys() {
		keep[k] = true
	}
	var stale []string
	for _, k := range proj.Artifacts().Keys() {
		if !keep[k] {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		if err := p.store.Delete(ctx, stale...); err != nil {
			p.logger.Warn("pipeline.cleanup.failed", "project_id", proj.ID, "keys", len(stale), "error", err)
		}
	}
	return nil
}

// discard removes keys with a context of its own, since the job context may be done.
func (p *Processor) discard(keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.store.Delete(ctx, keys...); err != nil {
		p.logger.Warn("pipeline.discard.failed", "keys", len(keys), "error", err)
	}
}
