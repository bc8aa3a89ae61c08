// Package memory implements an in-memory user repository for development and testing.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/tryhardly/apiserver/internal/store"
	"github.com/tryhardly/apiserver/types"
)

// UserRepository keeps users in maps guarded by a single mutex, so the
// uniqueness check and the insert in Create happen atomically.
type UserRepository struct {
	mu         sync.RWMutex
	byID       map[string]types.User
	byEmail    map[string]string
	byUsername map[string]string
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[string]types.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := r.byID[user.ID]; ok {
		return types.User{}, store.ErrConflict
	}
	if _, ok := r.byEmail[email]; ok {
		return types.User{}, store.ErrConflict
	}
	if _, ok := r.byUsername[user.Username]; ok {
		return types.User{}, store.ErrConflict
	}

	r.byID[user.ID] = user
	r.byEmail[email] = user.ID
	r.byUsername[user.Username] = user.ID
	return user, nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
