package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

const ratingsTable = "project_ratings"

var ratingColumns = []string{"id", "user_id", "project_id", "value", "comment", "created_at", "updated_at"}

type RatingRepository interface {
	// Upsert stores the user's rating of a project, replacing value and comment
	// of an earlier one.
	Upsert(ctx context.Context, userID, projectID uuid.UUID, value int, comment *string) (*entity.Rating, error)
	Get(ctx context.Context, userID, projectID uuid.UUID) (*entity.Rating, error)
}

type ratingRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewRatingRepository(db *DB, logger *slog.Logger) RatingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ratingRepo{db: db, logger: logger}
}

func (r *ratingRepo) Upsert(ctx context.Context, userID, projectID uuid.UUID, value int, comment *string) (*entity.Rating, error) {
	now := time.Now().UTC()
	query, args := r.db.builder().Insert(ratingsTable).
		Columns(ratingColumns...).
		Values(uuid.New(), userID, projectID, value, nullString(comment), now, now).
		OnConflict(
			entsql.ConflictColumns("user_id", "project_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("value")
				u.SetExcluded("comment")
				u.SetExcluded("updated_at")
			}),
		).
		Query()

	var out *entity.Rating
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert rating: %w", err)
		}
		got, err := r.get(ctx, tx, userID, projectID)
		if err != nil {
			return err
		}
		out = got
		return nil
	})
	if err != nil {
		r.logger.Error("failed to upsert rating", "user_id", userID, "project_id", projectID, "error", err)
		return nil, err
	}
	r.logger.Info("project rated", "user_id", userID, "project_id", projectID, "value", value)
	return out, nil
}

func (r *ratingRepo) Get(ctx context.Context, userID, projectID uuid.UUID) (*entity.Rating, error) {
	return r.get(ctx, r.db.SQL(), userID, projectID)
}

func (r *ratingRepo) get(ctx context.Context, q queryRower, userID, projectID uuid.UUID) (*entity.Rating, error) {
	b := r.db.builder()
	query, args := b.Select(ratingColumns...).
		From(b.Table(ratingsTable)).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.EQ("project_id", projectID))).
		Query()
	var (
		rt      entity.Rating
		comment sql.NullString
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(&rt.ID, &rt.UserID, &rt.ProjectID, &rt.Value, &comment, &rt.CreatedAt, &rt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rating of project %s: %w", projectID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get rating: %w", err)
	}
	rt.Comment = strPtr(comment)
	return &rt, nil
}
