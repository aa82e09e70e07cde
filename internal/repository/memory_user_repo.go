package repository

import (
	"context"
	"sync"
	"time"

	"go-identity-service/internal/model"
)

// MemoryUserRepository keeps users in process memory. It enforces the same
// case-insensitive uniqueness as the PostgreSQL schema and is meant for
// development and tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]model.User
	byName  map[string]string
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]model.User),
		byName:  make(map[string]string),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepository) GetByUsername(_ context.Context, username string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[model.UsernameKey(username)]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byName[model.UsernameKey(username)]
	return ok, nil
}

func (r *MemoryUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byEmail[model.NormalizeEmail(email)]
	return ok, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nameKey := model.UsernameKey(u.Username)
	emailKey := model.NormalizeEmail(u.Email)
	if _, ok := r.byName[nameKey]; ok {
		return &model.ConflictError{Field: "username"}
	}
	if _, ok := r.byEmail[emailKey]; ok {
		return &model.ConflictError{Field: "email"}
	}

	u.Email = emailKey
	r.byID[u.ID] = u
	r.byName[nameKey] = u.ID
	r.byEmail[emailKey] = u.ID
	return nil
}

func (r *MemoryUserRepository) UpdateProfile(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[u.ID]
	if !ok {
		return model.ErrUserNotFound
	}

	emailKey := model.NormalizeEmail(u.Email)
	if owner, taken := r.byEmail[emailKey]; taken && owner != u.ID {
		return &model.ConflictError{Field: "email"}
	}

	delete(r.byEmail, current.Email)
	current.Email = emailKey
	current.Nickname = u.Nickname
	current.FirstName = u.FirstName
	current.LastName = u.LastName
	current.Birthday = u.Birthday
	current.UpdatedAt = u.UpdatedAt
	r.byID[u.ID] = current
	r.byEmail[emailKey] = u.ID
	return nil
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, userID string, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	current.PasswordHash = passwordHash
	current.UpdatedAt = time.Now().UTC()
	r.byID[userID] = current
	return nil
}

func (r *MemoryUserRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID), nil
}

func (r *MemoryUserRepository) Ping(context.Context) error {
	return nil
}
