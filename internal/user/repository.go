package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

var ErrUserNotFound = errors.New("user not found")

type Repository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListAccounts(ctx context.Context, userID string) ([]Account, error)
}

type repository struct {
	gw *tenancy.Gateway
}

func NewRepository(gw *tenancy.Gateway) Repository {
	return &repository{gw: gw}
}

func (r *repository) find(ctx context.Context, where tenancy.Where) (*User, error) {
	var u User
	err := r.gw.Global().Get(ctx, &u, "users", where, tenancy.Columns("id", "name", "email", "created_at"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.find(ctx, tenancy.Where{"id": id})
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.find(ctx, tenancy.Where{"email": email})
}

func (r *repository) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	accounts := []Account{}
	err := r.gw.Global().Select(ctx, &accounts, "accounts",
		tenancy.Where{"user_id": userID},
		tenancy.OrderBy("created_at"),
	)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
