package repositories

import (
	"context"
	"strings"
	"sync"

	"github.com/campusfriends/backend/internal/models"
)

// InMemoryUserRepository implements UserRepository for tests and the memory store driver.
type InMemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewInMemoryUserRepository returns an empty repository.
func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{users: make(map[string]models.User)}
}

// Create stores user, rejecting duplicate ids, emails, or usernames.
func (r *InMemoryUserRepository) Create(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.collides(user) {
		return ErrConflict
	}
	if _, exists := r.users[user.ID]; exists {
		return ErrConflict
	}
	r.users[user.ID] = user
	return nil
}

// FindByEmail looks a user up by case-insensitive email.
func (r *InMemoryUserRepository) FindByEmail(_ context.Context, email string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

// FindByID looks a user up by id.
func (r *InMemoryUserRepository) FindByID(_ context.Context, id string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// Update replaces an existing user.
func (r *InMemoryUserRepository) Update(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return ErrNotFound
	}
	if r.collides(user) {
		return ErrConflict
	}
	r.users[user.ID] = user
	return nil
}

// collides reports whether another user already holds user's email or username.
func (r *InMemoryUserRepository) collides(user models.User) bool {
	for id, existing := range r.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(existing.Email, user.Email) || existing.Username == user.Username {
			return true
		}
	}
	return false
}

var _ UserRepository = (*InMemoryUserRepository)(nil)
