// Package userstore persists user accounts in memory or in redis.
package userstore

import (
	"context"
	"log/slog"
	"sync"

	"vidgrab/internal/entity"
	"vidgrab/internal/errs"

	"github.com/google/uuid"
)

// Storer defines the interface for user persistence.
type Storer interface {
	// Create stores u. The username must be free.
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	// Update replaces the stored user with the same ID.
	Update(ctx context.Context, u *entity.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

type memory struct {
	log *slog.Logger

	mu     sync.RWMutex
	users  map[uuid.UUID]entity.User // user ID : user
	byName map[string]uuid.UUID      // username : user ID
}

// NewMemory creates an in-memory store. Users are lost on restart.
func NewMemory(log *slog.Logger) Storer {
	return &memory{
		log:    log.With(slog.String("package", "userstore"), slog.String("store", "memory")),
		users:  make(map[uuid.UUID]entity.User),
		byName: make(map[string]uuid.UUID),
	}
}

func (stg *memory) Create(ctx context.Context, u *entity.User) error {
	if u == nil {
		return errs.ErrUserNil
	}

	stg.mu.Lock()
	defer stg.mu.Unlock()

	if _, taken := stg.byName[u.Username]; taken {
		return errs.ErrUserExists
	}

	if _, taken := stg.users[u.ID]; taken {
		return errs.ErrUserExists
	}

	stg.users[u.ID] = *u
	stg.byName[u.Username] = u.ID

	stg.log.DebugContext(ctx, "user stored", slog.Any("user", u))

	return nil
}

func (stg *memory) GetByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	u, ok := stg.users[id]
	if !ok {
		return nil, errs.ErrUserNotFound
	}

	return &u, nil
}

func (stg *memory) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	stg.mu.RLock()
	id, ok := stg.byName[username]
	stg.mu.RUnlock()

	if !ok {
		return nil, errs.ErrUserNotFound
	}

	return stg.GetByID(ctx, id)
}

func (stg *memory) Update(ctx context.Context, u *entity.User) error {
	if u == nil {
		return errs.ErrUserNil
	}

	stg.mu.Lock()
	defer stg.mu.Unlock()

	old, ok := stg.users[u.ID]
	if !ok {
		return errs.ErrUserNotFound
	}

	if old.Username != u.Username {
		if _, taken := stg.byName[u.Username]; taken {
			return errs.ErrUserExists
		}

		delete(stg.byName, old.Username)
		stg.byName[u.Username] = u.ID
	}

	stg.users[u.ID] = *u

	stg.log.DebugContext(ctx, "user updated", slog.Any("user", u))

	return nil
}

func (stg *memory) Delete(_ context.Context, id uuid.UUID) error {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	u, ok := stg.users[id]
	if !ok {
		return errs.ErrUserNotFound
	}

	delete(stg.users, id)
	delete(stg.byName, u.Username)

	return nil
}

func (stg *memory) Ping(context.Context) error {
	return nil
}

func (stg *memory) Close() error {
	return nil
}
