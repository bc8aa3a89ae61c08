package services

import (
	"context"
	"errors"

	"github.com/tryhardly/apiserver/internal/store"
	"github.com/tryhardly/apiserver/types"
)

// UserRepository defines persistence operations for users. Create must
// enforce email and username uniqueness atomically and report violations as
// store.ErrConflict.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (types.User, error)
	FindByEmail(ctx context.Context, email string) (types.User, error)
	FindByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// UserService encapsulates user read use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// GetPublic returns the public projection of the user with the given id.
// A missing user is reported as ErrUnauthorized: callers reach this with an
// identity taken from a token, and the account behind it is gone.
func (s *UserService) GetPublic(ctx context.Context, id string) (types.PublicUser, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.PublicUser{}, ErrUnauthorized
		}
		return types.PublicUser{}, err
	}
	return user.Public(), nil
}
