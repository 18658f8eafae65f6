package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"vidgrab/internal/config"
	"vidgrab/internal/entity"
	"vidgrab/internal/errs"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	log    *slog.Logger
	client *redis.Client
	prefix string
}

// NewRedis connects to cfg.RedisAddr and checks the connection.
func NewRedis(ctx context.Context, log *slog.Logger, cfg config.Store) (Storer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	stg := &redisStore{
		log:    log.With(slog.String("package", "userstore"), slog.String("store", "redis")),
		client: client,
		prefix: cfg.KeyPrefix,
	}

	if err := stg.Ping(ctx); err != nil {
		client.Close()

		return nil, err
	}

	stg.log.InfoContext(ctx, "connected to redis", slog.String("addr", cfg.RedisAddr), slog.Int("db", cfg.RedisDB))

	return stg, nil
}

func (stg *redisStore) idKey(id uuid.UUID) string {
	return stg.prefix + ":user:id:" + id.String()
}

func (stg *redisStore) nameKey(username string) string {
	return stg.prefix + ":user:name:" + username
}

func (stg *redisStore) Create(ctx context.Context, u *entity.User) error {
	if u == nil {
		return errs.ErrUserNil
	}

	data, err := json.Marshal(u.Stored())
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	claimed, err := stg.client.SetNX(ctx, stg.nameKey(u.Username), u.ID.String(), 0).Result()
	if err != nil {
		return unavailable(err)
	}

	if !claimed {
		return errs.ErrUserExists
	}

	created, err := stg.client.SetNX(ctx, stg.idKey(u.ID), data, 0).Result()
	if err != nil || !created {
		stg.client.Del(context.WithoutCancel(ctx), stg.nameKey(u.Username))

		if err != nil {
			return unavailable(err)
		}

		return errs.ErrUserExists
	}

	stg.log.DebugContext(ctx, "user stored", slog.Any("user", u))

	return nil
}

func (stg *redisStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	data, err := stg.client.Get(ctx, stg.idKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrUserNotFound
	}

	if err != nil {
		return nil, unavailable(err)
	}

	var stored entity.StoredUser
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", id, err)
	}

	u := stored.Unwrap()

	return &u, nil
}

func (stg *redisStore) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	raw, err := stg.client.Get(ctx, stg.nameKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrUserNotFound
	}

	if err != nil {
		return nil, unavailable(err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse user id for %q: %w", username, err)
	}

	return stg.GetByID(ctx, id)
}

func (stg *redisStore) Update(ctx context.Context, u *entity.User) error {
	if u == nil {
		return errs.ErrUserNil
	}

	old, err := stg.GetByID(ctx, u.ID)
	if err != nil {
		return err
	}

	if old.Username != u.Username {
		claimed, err := stg.client.SetNX(ctx, stg.nameKey(u.Username), u.ID.String(), 0).Result()
		if err != nil {
			return unavailable(err)
		}

		if !claimed {
			return errs.ErrUserExists
		}

		if err := stg.client.Del(ctx, stg.nameKey(old.Username)).Err(); err != nil {
			return unavailable(err)
		}
	}

	data, err := json.Marshal(u.Stored())
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	if err := stg.client.Set(ctx, stg.idKey(u.ID), data, 0).Err(); err != nil {
		return unavailable(err)
	}

	stg.log.DebugContext(ctx, "user updated", slog.Any("user", u))

	return nil
}

func (stg *redisStore) Delete(ctx context.Context, id uuid.UUID) error {
	u, err := stg.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = stg.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, stg.idKey(id))
		pipe.Del(ctx, stg.nameKey(u.Username))

		return nil
	})
	if err != nil {
		return unavailable(err)
	}

	return nil
}

func (stg *redisStore) Ping(ctx context.Context) error {
	if err := stg.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}

	return nil
}

func (stg *redisStore) Close() error {
	return stg.client.Close()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", errs.ErrStoreUnavailable, err)
}
