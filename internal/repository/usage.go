package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/internal/entity"
)

const usageTable = "monthly_usage"

type UsageRepository interface {
	// PagesUsed returns the counter for (userID, monthKey); a missing row reads as 0.
	PagesUsed(ctx context.Context, userID uuid.UUID, monthKey string) (int, error)
	// Increment atomically adds pages to the counter, creating it on first use, and
	// returns the new value.
	Increment(ctx context.Context, userID uuid.UUID, monthKey string, pages int) (int, error)
	ListByMonth(ctx context.Context, monthKey string) ([]*entity.MonthlyUsage, error)
}

type usageRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewUsageRepository(db *DB, logger *slog.Logger) UsageRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &usageRepo{db: db, logger: logger}
}

func (r *usageRepo) PagesUsed(ctx context.Context, userID uuid.UUID, monthKey string) (int, error) {
	return r.pagesUsed(ctx, r.db.SQL(), userID, monthKey)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *usageRepo) pagesUsed(ctx context.Context, q queryRower, userID uuid.UUID, monthKey string) (int, error) {
	b := r.db.builder()
	query, args := b.Select("pages_used").
		From(b.Table(usageTable)).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.EQ("month_key", monthKey))).
		Query()
	var used int
	err := q.QueryRowContext(ctx, query, args...).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		r.logger.Error("failed to read monthly usage", "user_id", userID, "month", monthKey, "error", err)
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return used, nil
}

func (r *usageRepo) Increment(ctx context.Context, userID uuid.UUID, monthKey string, pages int) (int, error) {
	query, args := r.db.builder().Insert(usageTable).
		Columns("user_id", "month_key", "pages_used").
		Values(userID, monthKey, pages).
		OnConflict(
			entsql.ConflictColumns("user_id", "month_key"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.Add("pages_used", pages)
			}),
		).
		Query()

	var total int
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert usage: %w", err)
		}
		n, err := r.pagesUsed(ctx, tx, userID, monthKey)
		if err != nil {
			return err
		}
		total = n
		return nil
	})
	if err != nil {
		r.logger.Error("failed to increment monthly usage", "user_id", userID, "month", monthKey, "error", err)
		return 0, err
	}
	r.logger.Info("monthly usage incremented", "user_id", userID, "month", monthKey, "pages", pages, "total", total)
	return total, nil
}

func (r *usageRepo) ListByMonth(ctx context.Context, monthKey string) ([]*entity.MonthlyUsage, error) {
	b := r.db.builder()
	query, args := b.Select("user_id", "month_key", "pages_used").
		From(b.Table(usageTable)).
		Where(entsql.EQ("month_key", monthKey)).
		OrderBy(entsql.Desc("pages_used")).
		Query()
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list monthly usage", "month", monthKey, "error", err)
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []*entity.MonthlyUsage
	for rows.Next() {
		var u entity.MonthlyUsage
		if err := rows.Scan(&u.UserID, &u.MonthKey, &u.PagesUsed); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
