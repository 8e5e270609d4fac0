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

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

const usersTable = "users"

var userColumns = []string{"id", "email", "plan", "plan_expires_at", "created_at"}

type UserRepository interface {
	Create(ctx context.Context, email string, plan constants.Plan, planExpiresAt *time.Time) (*entity.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	SetPlan(ctx context.Context, id uuid.UUID, plan constants.Plan, planExpiresAt *time.Time) error
	List(ctx context.Context) ([]*entity.User, error)
}

type userRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewUserRepository(db *DB, logger *slog.Logger) UserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &userRepo{db: db, logger: logger}
}

func (r *userRepo) Create(ctx context.Context, email string, plan constants.Plan, planExpiresAt *time.Time) (*entity.User, error) {
	if plan == "" {
		plan = constants.PlanFree
	}
	u := &entity.User{
		ID:            uuid.New(),
		Email:         email,
		Plan:          plan,
		PlanExpiresAt: utcPtr(planExpiresAt),
		CreatedAt:     time.Now().UTC(),
	}
	query, args := r.db.builder().Insert(usersTable).
		Columns(userColumns...).
		Values(u.ID, u.Email, string(u.Plan), nullTime(u.PlanExpiresAt), u.CreatedAt).
		Query()
	if _, err := r.db.SQL().ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to create user", "email", email, "error", err)
		return nil, fmt.Errorf("create user: %w", err)
	}
	r.logger.Info("user created", "user_id", u.ID, "plan", u.Plan)
	return u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return r.getOne(ctx, entsql.EQ("id", id), id.String())
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, entsql.EQ("email", email), email)
}

func (r *userRepo) getOne(ctx context.Context, pred *entsql.Predicate, ref string) (*entity.User, error) {
	b := r.db.builder()
	query, args := b.Select(userColumns...).From(b.Table(usersTable)).Where(pred).Query()
	u, err := scanUser(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", ref, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get user", "ref", ref, "error", err)
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepo) SetPlan(ctx context.Context, id uuid.UUID, plan constants.Plan, planExpiresAt *time.Time) error {
	query, args := r.db.builder().Update(usersTable).
		Set("plan", string(plan)).
		Set("plan_expires_at", nullTime(utcPtr(planExpiresAt))).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to set plan", "user_id", id, "error", err)
		return fmt.Errorf("set plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, common.ErrNotFound)
	}
	r.logger.Info("user plan updated", "user_id", id, "plan", plan)
	return nil
}

func (r *userRepo) List(ctx context.Context) ([]*entity.User, error) {
	b := r.db.builder()
	query, args := b.Select(userColumns...).From(b.Table(usersTable)).OrderBy("email").Query()
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list users", "error", err)
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(s scanner) (*entity.User, error) {
	var (
		u       entity.User
		plan    string
		expires sql.NullTime
	)
	if err := s.Scan(&u.ID, &u.Email, &plan, &expires, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Plan = constants.Plan(plan)
	u.PlanExpiresAt = timePtr(expires)
	return &u, nil
}
