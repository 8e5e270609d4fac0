package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

const projectsTable = "projects"

var projectColumns = []string{
	"id", "user_id", "title", "description", "status", "page_count",
	"image_key", "tex_key", "pdf_key", "docx_key", "preview_key", "last_error",
	"created_at", "updated_at",
}

type ProjectRepository interface {
	// Create inserts a project in processing status.
	Create(ctx context.Context, userID uuid.UUID, title string, description *string, pageCount int) (*entity.Project, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Project, error)
	// GetOwned is GetByID restricted to projects owned by userID.
	GetOwned(ctx context.Context, id, userID uuid.UUID) (*entity.Project, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.Project, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
	CountByStatus(ctx context.Context, userID uuid.UUID) (map[constants.ProjectStatus]int, error)
	TitlesByUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, title, description *string) error
	SetImageKey(ctx context.Context, id uuid.UUID, key string) error

	// MarkProcessing moves a ready or failed project back to processing.
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	// FinishReady moves a processing project to ready and replaces its artifact keys.
	FinishReady(ctx context.Context, id uuid.UUID, artifacts entity.Artifacts) error
	// MarkFailed moves a processing project to failed, recording reason.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	Delete(ctx context.Context, id uuid.UUID) error
}

type projectRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewProjectRepository(db *DB, logger *slog.Logger) ProjectRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &projectRepo{db: db, logger: logger}
}

func (r *projectRepo) Create(ctx context.Context, userID uuid.UUID, title string, description *string, pageCount int) (*entity.Project, error) {
	if pageCount <= 0 {
		pageCount = 1
	}
	now := time.Now().UTC()
	p := &entity.Project{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Status:      constants.ProjectStatusProcessing,
		PageCount:   pageCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	query, args := r.db.builder().Insert(projectsTable).
		Columns("id", "user_id", "title", "description", "status", "page_count", "created_at", "updated_at").
		Values(p.ID, p.UserID, p.Title, nullString(p.Description), string(p.Status), p.PageCount, p.CreatedAt, p.UpdatedAt).
		Query()
	if _, err := r.db.SQL().ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to create project", "user_id", userID, "error", err)
		return nil, fmt.Errorf("create project: %w", err)
	}
	r.logger.Info("project created", "project_id", p.ID, "user_id", userID)
	return p, nil
}

func (r *projectRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Project, error) {
	return r.getOne(ctx, entsql.EQ("id", id), id)
}

func (r *projectRepo) GetOwned(ctx context.Context, id, userID uuid.UUID) (*entity.Project, error) {
	return r.getOne(ctx, entsql.And(entsql.EQ("id", id), entsql.EQ("user_id", userID)), id)
}

func (r *projectRepo) getOne(ctx context.Context, pred *entsql.Predicate, id uuid.UUID) (*entity.Project, error) {
	b := r.db.builder()
	query, args := b.Select(projectColumns...).From(b.Table(projectsTable)).Where(pred).Query()
	p, err := scanProject(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get project", "project_id", id, "error", err)
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (r *projectRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.Project, error) {
	b := r.db.builder()
	query, args := b.Select(projectColumns...).
		From(b.Table(projectsTable)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("created_at")).
		Query()
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list projects", "user_id", userID, "error", err)
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*entity.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *projectRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	b := r.db.builder()
	query, args := b.Select(entsql.Count("*")).
		From(b.Table(projectsTable)).
		Where(entsql.EQ("user_id", userID)).
		Query()
	var n int
	if err := r.db.SQL().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		r.logger.Error("failed to count projects", "user_id", userID, "error", err)
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

func (r *projectRepo) CountByStatus(ctx context.Context, userID uuid.UUID) (map[constants.ProjectStatus]int, error) {
	b := r.db.builder()
	query, args := b.Select("status", entsql.Count("*")).
		From(b.Table(projectsTable)).
		Where(entsql.EQ("user_id", userID)).
		GroupBy("status").
		Query()
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to count projects by status", "user_id", userID, "error", err)
		return nil, fmt.Errorf("count projects by status: %w", err)
	}
	defer rows.Close()

	out := make(map[constants.ProjectStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[constants.ProjectStatus(status)] = n
	}
	return out, rows.Err()
}

func (r *projectRepo) TitlesByUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	b := r.db.builder()
	query, args := b.Select("title").
		From(b.Table(projectsTable)).
		Where(entsql.EQ("user_id", userID)).
		Query()
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *projectRepo) UpdateDetails(ctx context.Context, id uuid.UUID, title, description *string) error {
	u := r.db.builder().Update(projectsTable).Set("updated_at", time.Now().UTC())
	if title != nil {
		u.Set("title", *title)
	}
	if description != nil {
		u.Set("description", *description)
	}
	query, args := u.Where(entsql.EQ("id", id)).Query()
	return r.execOne(ctx, "update project details", id, query, args)
}

func (r *projectRepo) SetImageKey(ctx context.Context, id uuid.UUID, key string) error {
	query, args := r.db.builder().Update(projectsTable).
		Set("image_key", key).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id)).
		Query()
	return r.execOne(ctx, "set image key", id, query, args)
}

func (r *projectRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query, args := r.db.builder().Update(projectsTable).
		Set("status", string(constants.ProjectStatusProcessing)).
		SetNull("last_error").
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			fromStatuses(constants.ProjectStatusProcessing),
		)).
		Query()
	if err := r.transition(ctx, id, constants.ProjectStatusProcessing, query, args); err != nil {
		return err
	}
	r.logger.Info("project processing", "project_id", id)
	return nil
}

func (r *projectRepo) FinishReady(ctx context.Context, id uuid.UUID, a entity.Artifacts) error {
	query, args := r.db.builder().Update(projectsTable).
		Set("status", string(constants.ProjectStatusReady)).
		Set("tex_key", nullString(a.TexKey)).
		Set("pdf_key", nullString(a.PDFKey)).
		Set("docx_key", nullString(a.DocxKey)).
		Set("preview_key", nullString(a.PreviewKey)).
		SetNull("last_error").
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			fromStatuses(constants.ProjectStatusReady),
		)).
		Query()
	if err := r.transition(ctx, id, constants.ProjectStatusReady, query, args); err != nil {
		return err
	}
	r.logger.Info("project ready", "project_id", id,
		"tex", a.TexKey != nil, "pdf", a.PDFKey != nil, "docx", a.DocxKey != nil)
	return nil
}

func (r *projectRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query, args := r.db.builder().Update(projectsTable).
		Set("status", string(constants.ProjectStatusFailed)).
		Set("last_error", truncate(reason, 2000)).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			fromStatuses(constants.ProjectStatusFailed),
		)).
		Query()
	if err := r.transition(ctx, id, constants.ProjectStatusFailed, query, args); err != nil {
		return err
	}
	r.logger.Warn("project failed", "project_id", id, "error", reason)
	return nil
}

func (r *projectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query, args := r.db.builder().Delete(projectsTable).Where(entsql.EQ("id", id)).Query()
	if err := r.execOne(ctx, "delete project", id, query, args); err != nil {
		return err
	}
	r.logger.Info("project deleted", "project_id", id)
	return nil
}

// transition runs a guarded status update. Zero affected rows means the project
// is missing or not in a state that allows moving to next.
func (r *projectRepo) transition(ctx context.Context, id uuid.UUID, next constants.ProjectStatus, query string, args []any) error {
	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to update project status", "project_id", id, "to", next, "error", err)
		return fmt.Errorf("update project status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status.CanTransition(next) {
		// the row left the source status between the update and this read
		return common.NewAppError(common.CodeStatusChanged,
			fmt.Sprintf("project %s changed status while moving to %s", id, next), common.ErrConflict)
	}
	return common.NewAppError(common.CodeIllegalTransition,
		fmt.Sprintf("project %s cannot move from %s to %s", id, cur.Status, next), common.ErrConflict)
}

// fromStatuses matches rows whose status may move to next.
func fromStatuses(next constants.ProjectStatus) *entsql.Predicate {
	var from []any
	for _, s := range constants.Predecessors(next) {
		from = append(from, string(s))
	}
	return entsql.In("status", from...)
}

func (r *projectRepo) execOne(ctx context.Context, op string, id uuid.UUID, query string, args []any) error {
	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to "+op, "project_id", id, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func scanProject(s scanner) (*entity.Project, error) {
	var (
		p                                    entity.Project
		status                               string
		desc, image, tex, pdf, docx, preview sql.NullString
		lastErr                              sql.NullString
	)
	err := s.Scan(&p.ID, &p.UserID, &p.Title, &desc, &status, &p.PageCount,
		&image, &tex, &pdf, &docx, &preview, &lastErr,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = constants.ProjectStatus(status)
	p.Description = strPtr(desc)
	p.ImageKey = strPtr(image)
	p.TexKey = strPtr(tex)
	p.PDFKey = strPtr(pdf)
	p.DocxKey = strPtr(docx)
	p.PreviewKey = strPtr(preview)
	p.LastError = strPtr(lastErr)
	return &p, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
