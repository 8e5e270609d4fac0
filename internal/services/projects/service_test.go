package projects

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/quota"
	"github.com/joseph-ayodele/note2tex/internal/repository"
	"github.com/joseph-ayodele/note2tex/internal/storage"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeQueue struct {
	mu       sync.Mutex
	infers   []uuid.UUID
	rebuilds map[uuid.UUID]string
	err      error
}

func (q *fakeQueue) SubmitInfer(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.infers = append(q.infers, id)
	return nil
}

func (q *fakeQueue) SubmitRebuild(_ context.Context, id uuid.UUID, tex string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.rebuilds == nil {
		q.rebuilds = map[uuid.UUID]string{}
	}
	q.rebuilds[id] = tex
	return nil
}

type env struct {
	svc      *Service
	queue    *fakeQueue
	users    repository.UserRepository
	projects repository.ProjectRepository
	usage    repository.UsageRepository
	gate     *quota.Gate
	root     string
	user     *entity.User
	image    string
}

func newEnv(t *testing.T, cfg quota.Config) *env {
	t.Helper()
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, "", quiet())
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, quiet()))
	t.Cleanup(func() { repository.Close(db, quiet()) })

	users := repository.NewUserRepository(db, quiet())
	projects := repository.NewProjectRepository(db, quiet())
	usage := repository.NewUsageRepository(db, quiet())
	ratings := repository.NewRatingRepository(db, quiet())
	user, err := users.Create(ctx, "student@example.com", constants.PlanFree, nil)
	require.NoError(t, err)

	root := t.TempDir()
	store, err := storage.NewLocalStore(root, "http://files.local", quiet())
	require.NoError(t, err)

	image := filepath.Join(t.TempDir(), "page.JPG")
	require.NoError(t, os.WriteFile(image, []byte("jpeg bytes"), 0o644))

	gate := quota.NewGate(usage, projects, cfg, quiet())
	q := &fakeQueue{}
	return &env{
		svc:      NewService(users, projects, ratings, gate, store, q, quiet()),
		queue:    q,
		users:    users,
		projects: projects,
		usage:    usage,
		gate:     gate,
		root:     root,
		user:     user,
		image:    image,
	}
}

func (e *env) pagesUsed(t *testing.T) int {
	t.Helper()
	n, err := e.usage.PagesUsed(context.Background(), e.user.ID, e.gate.CurrentMonth())
	require.NoError(t, err)
	return n
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.Config{FreeMonthlyPages: 5, FreeMaxProjects: 5})

	p, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)
	assert.Equal(t, "untitled1", p.Title)
	assert.Equal(t, constants.ProjectStatusProcessing, p.Status)
	require.NotNil(t, p.ImageKey)
	assert.Equal(t, storage.ImageKey(e.user.ID, p.ID, "jpg"), *p.ImageKey)
	assert.FileExists(t, filepath.Join(e.root, filepath.FromSlash(*p.ImageKey)))
	assert.Equal(t, []uuid.UUID{p.ID}, e.queue.infers)
	assert.Equal(t, 1, e.pagesUsed(t))

	p2, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)
	assert.Equal(t, "untitled2", p2.Title)
}

func TestCreate_Validation(t *testing.T) {
	e := newEnv(t, quota.DefaultConfig())

	_, err := e.svc.Create(context.Background(), CreateRequest{UserID: e.user.ID, ImagePath: "notes.pdf"})
	require.Error(t, err)
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))

	_, err = e.svc.Create(context.Background(), CreateRequest{UserID: e.user.ID})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCreate_MonthlyQuota(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.Config{FreeMonthlyPages: 1, FreeMaxProjects: 10})

	_, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image, Title: "a"})
	require.NoError(t, err)

	_, err = e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image, Title: "b"})
	require.ErrorIs(t, err, common.ErrAdmissionDenied)
	assert.Equal(t, common.CodeMonthlyQuota, common.ErrorCode(err))
	assert.Len(t, e.queue.infers, 1)

	n, err := e.projects.CountByUser(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreate_ProjectCap(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.Config{FreeMonthlyPages: 10, FreeMaxProjects: 1})

	_, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	assert.Equal(t, common.CodeProjectCapExceeded, common.ErrorCode(err))
}

func TestCreate_EnqueueFailureDoesNotCharge(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.DefaultConfig())
	e.queue.err = errors.New("job queue is shut down")

	_, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image, Title: "x"})
	require.Error(t, err)
	assert.Equal(t, 0, e.pagesUsed(t))

	rows, err := e.projects.ListByUser(ctx, e.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, constants.ProjectStatusFailed, rows[0].Status)
}

func TestReprocess(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.Config{FreeMonthlyPages: 2, FreeMaxProjects: 5})

	p, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)

	_, err = e.svc.Reprocess(ctx, e.user.ID, p.ID)
	assert.Equal(t, common.CodeAlreadyProcessing, common.ErrorCode(err))

	require.NoError(t, e.projects.MarkFailed(ctx, p.ID, "boom"))
	got, err := e.svc.Reprocess(ctx, e.user.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ProjectStatusProcessing, got.Status)
	assert.Nil(t, got.LastError)
	assert.Equal(t, 2, e.pagesUsed(t))

	// out of pages now
	require.NoError(t, e.projects.MarkFailed(ctx, p.ID, "boom"))
	_, err = e.svc.Reprocess(ctx, e.user.ID, p.ID)
	assert.ErrorIs(t, err, common.ErrAdmissionDenied)
}

func TestUpdateTex_NotCharged(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.DefaultConfig())

	p, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)
	require.NoError(t, e.projects.FinishReady(ctx, p.ID, entity.Artifacts{}))

	_, err = e.svc.UpdateTex(ctx, e.user.ID, p.ID, `\section{A}`)
	require.NoError(t, err)
	assert.Equal(t, `\section{A}`, e.queue.rebuilds[p.ID])
	assert.Equal(t, 1, e.pagesUsed(t))

	_, err = e.svc.UpdateTex(ctx, e.user.ID, p.ID, "again")
	assert.Equal(t, common.CodeAlreadyProcessing, common.ErrorCode(err))

	_, err = e.svc.UpdateTex(ctx, e.user.ID, p.ID, "  ")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.DefaultConfig())
	p, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = e.svc.Get(ctx, stranger, p.ID)
	assert.Equal(t, common.CodeNotFound, common.ErrorCode(err))
	assert.ErrorIs(t, e.svc.Delete(ctx, stranger, p.ID), common.ErrNotFound)
}

func TestUpdateGetListDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.DefaultConfig())
	p, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)

	title, desc := "  Calculus  ", "week 3"
	got, err := e.svc.Update(ctx, e.user.ID, p.ID, &title, &desc)
	require.NoError(t, err)
	assert.Equal(t, "Calculus", got.Title)
	require.NotNil(t, got.Description)
	assert.Equal(t, "week 3", *got.Description)

	empty := " "
	_, err = e.svc.Update(ctx, e.user.ID, p.ID, &empty, nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	view, err := e.svc.Get(ctx, e.user.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://files.local/"+*p.ImageKey, view.ImageURL)
	assert.Empty(t, view.PDFURL)

	list, err := e.svc.List(ctx, e.user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, e.svc.Delete(ctx, e.user.ID, p.ID))
	assert.NoFileExists(t, filepath.Join(e.root, filepath.FromSlash(*p.ImageKey)))
	_, err = e.svc.Get(ctx, e.user.ID, p.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestNextUntitledTitle(t *testing.T) {
	assert.Equal(t, "untitled1", NextUntitledTitle(nil))
	assert.Equal(t, "untitled8", NextUntitledTitle([]string{"Untitled7", "untitled2", "untitled", "my untitled9", "untitled x"}))
}
