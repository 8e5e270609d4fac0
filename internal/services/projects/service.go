// Package projects is the project workflow used by the CLI and the inbox:
// admission, image intake, job submission and artifact lookup.
package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/quota"
	"github.com/joseph-ayodele/note2tex/internal/repository"
	"github.com/joseph-ayodele/note2tex/internal/storage"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

var untitledRx = regexp.MustCompile(`(?i)^untitled(\d+)$`)

// Submitter enqueues project jobs.
type Submitter interface {
	SubmitInfer(ctx context.Context, projectID uuid.UUID) error
	SubmitRebuild(ctx context.Context, projectID uuid.UUID, tex string) error
}

// Service handles project business logic.
type Service struct {
	users    repository.UserRepository
	projects repository.ProjectRepository
	ratings  repository.RatingRepository
	gate     *quota.Gate
	store    storage.ObjectStore
	queue    Submitter
	logger   *slog.Logger
}

// NewService creates a new project service.
func NewService(
	users repository.UserRepository,
	projects repository.ProjectRepository,
	ratings repository.RatingRepository,
	gate *quota.Gate,
	store storage.ObjectStore,
	queue Submitter,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, projects: projects, ratings: ratings, gate: gate, store: store, queue: queue, logger: logger}
}

// CreateRequest represents project creation parameters.
type CreateRequest struct {
	UserID      uuid.UUID
	ImagePath   string
	Title       string
	Description string
}

// View is a project with download URLs for its stored objects.
type View struct {
	*entity.Project
	ImageURL   string `json:"image_url,omitempty"`
	TexURL     string `json:"tex_url,omitempty"`
	PDFURL     string `json:"pdf_url,omitempty"`
	DocxURL    string `json:"docx_url,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// Create admits, stores and enqueues a new one-page project. Usage is charged
// only once the job is enqueued.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*entity.Project, error) {
	validator := common.NewValidator()
	validator.Field("image_path", req.ImagePath, common.Required)
	validator.Field("title", req.Title, common.MaxLengthRule(maxTitleLength))
	validator.Field("description", req.Description, common.MaxLengthRule(maxDescriptionLength))
	ext := constants.NormalizeExt(filepath.Ext(req.ImagePath))
	if req.ImagePath != "" && !constants.IsAllowedImage(ext) {
		validator.Field("image_path", req.ImagePath, func(field string, v interface{}) *common.ValidationError {
			return &common.ValidationError{Field: field, Value: v, Message: "unsupported image format"}
		})
	}
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Admit(ctx, user, 1, true); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		if title, err = s.nextUntitledTitle(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	var desc *string
	if d := strings.TrimSpace(req.Description); d != "" {
		desc = &d
	}

	p, err := s.projects.Create(ctx, user.ID, title, desc, 1)
	if err != nil {
		return nil, err
	}

	key := storage.ImageKey(user.ID, p.ID, ext)
	if _, err := s.store.Put(ctx, req.ImagePath, key); err != nil {
		s.abandon(p.ID, err)
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if err := s.projects.SetImageKey(ctx, p.ID, key); err != nil {
		s.abandon(p.ID, err)
		return nil, err
	}
	p.ImageKey = &key

	if err := s.queue.SubmitInfer(ctx, p.ID); err != nil {
		s.abandon(p.ID, err)
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	s.consume(ctx, user, p.ID)

	s.logger.Info("project created", "project_id", p.ID, "user_id", user.ID, "title", title)
	return p, nil
}

// Reprocess runs inference again on a ready or failed project. It passes
// admission and is charged like a new page.
func (s *Service) Reprocess(ctx context.Context, userID, projectID uuid.UUID) (*entity.Project, error) {
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if p.Status == constants.ProjectStatusProcessing {
		return nil, alreadyProcessing(projectID)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Admit(ctx, user, 1, false); err != nil {
		return nil, err
	}
	if err := s.restart(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.queue.SubmitInfer(ctx, projectID); err != nil {
		s.abandon(projectID, err)
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	s.consume(ctx, user, projectID)

	s.logger.Info("project reprocess queued", "project_id", projectID, "user_id", userID)
	return s.projects.GetByID(ctx, projectID)
}

// UpdateTex replaces the project's LaTeX and rebuilds its outputs. No
// recognition runs, so usage is not charged.
func (s *Service) UpdateTex(ctx context.Context, userID, projectID uuid.UUID, tex string) (*entity.Project, error) {
	validator := common.NewValidator()
	validator.Field("tex", tex, common.Required)
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if p.Status == constants.ProjectStatusProcessing {
		return nil, alreadyProcessing(projectID)
	}
	if err := s.restart(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.queue.SubmitRebuild(ctx, projectID, tex); err != nil {
		s.abandon(projectID, err)
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	s.logger.Info("project rebuild queued", "project_id", projectID, "user_id", userID, "tex_bytes", len(tex))
	return s.projects.GetByID(ctx, projectID)
}

// Update changes title and/or description. Nil leaves a field unchanged.
func (s *Service) Update(ctx context.Context, userID, projectID uuid.UUID, title, description *string) (*entity.Project, error) {
	validator := common.NewValidator()
	if title != nil {
		validator.Field("title", *title, common.Required, common.MaxLengthRule(maxTitleLength))
	}
	validator.Field("description", description, common.MaxLengthRule(maxDescriptionLength))
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	if _, err := s.owned(ctx, userID, projectID); err != nil {
		return nil, err
	}
	if title != nil {
		t := strings.TrimSpace(*title)
		title = &t
	}
	if err := s.projects.UpdateDetails(ctx, projectID, title, description); err != nil {
		return nil, err
	}
	return s.projects.GetByID(ctx, projectID)
}

func (s *Service) Get(ctx context.Context, userID, projectID uuid.UUID) (*View, error) {
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, p), nil
}

// List returns the user's projects, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*View, error) {
	rows, err := s.projects.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*View, 0, len(rows))
	for _, p := range rows {
		out = append(out, s.view(ctx, p))
	}
	return out, nil
}

// Delete removes the project's stored objects, then its row.
func (s *Service) Delete(ctx context.Context, userID, projectID uuid.UUID) error {
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return err
	}
	keys := p.Artifacts().Keys()
	if p.ImageKey != nil {
		keys = append(keys, *p.ImageKey)
	}
	if len(keys) > 0 {
		if err := s.store.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
	}
	return s.projects.Delete(ctx, projectID)
}

func (s *Service) owned(ctx context.Context, userID, projectID uuid.UUID) (*entity.Project, error) {
	p, err := s.projects.GetOwned(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewAppError(common.CodeNotFound, "project not found", err)
		}
		return nil, err
	}
	return p, nil
}

// restart moves a terminal project back to processing.
func (s *Service) restart(ctx context.Context, projectID uuid.UUID) error {
	if err := s.projects.MarkProcessing(ctx, projectID); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return alreadyProcessing(projectID)
		}
		return err
	}
	return nil
}

// consume charges one page. The job is already queued, so a failure here is
// logged rather than returned.
func (s *Service) consume(ctx context.Context, user *entity.User, projectID uuid.UUID) {
	if err := s.gate.Consume(ctx, user, 1); err != nil {
		s.logger.Error("failed to record usage", "user_id", user.ID, "project_id", projectID, "error", err)
	}
}

// abandon fails a project whose job could not be started.
func (s *Service) abandon(projectID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.projects.MarkFailed(ctx, projectID, cause.Error()); err != nil {
		s.logger.Error("failed to mark project failed", "project_id", projectID, "error", err)
	}
}

func (s *Service) nextUntitledTitle(ctx context.Context, userID uuid.UUID) (string, error) {
	titles, err := s.projects.TitlesByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return NextUntitledTitle(titles), nil
}

// NextUntitledTitle returns "untitledN" with N one past the highest existing number.
func NextUntitledTitle(titles []string) string {
	maxN := 0
	for _, t := range titles {
		m := untitledRx.FindStringSubmatch(strings.TrimSpace(t))
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxN {
			maxN = n
		}
	}
	return "untitled" + strconv.Itoa(maxN+1)
}

func (s *Service) view(ctx context.Context, p *entity.Project) *View {
	v := &View{Project: p}
	for _, f := range []struct {
		key *string
		dst *string
	}{
		{p.ImageKey, &v.ImageURL},
		{p.TexKey, &v.TexURL},
		{p.PDFKey, &v.PDFURL},
		{p.DocxKey, &v.DocxURL},
		{p.PreviewKey, &v.PreviewURL},
	} {
		if f.key == nil {
			continue
		}
		u, err := s.store.URL(ctx, *f.key)
		if err != nil {
			s.logger.Warn("failed to build download url", "project_id", p.ID, "key", *f.key, "error", err)
			continue
		}
		*f.dst = u
	}
	return v
}

func alreadyProcessing(projectID uuid.UUID) error {
	return common.NewAppError(common.CodeAlreadyProcessing,
		fmt.Sprintf("project %s is already processing", projectID), common.ErrConflict)
}
