package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ipx/internal/registration/models"
	id "ipx/pkg/domain"
)

const (
	registrationKeyPrefix = "ipx:registration:"
	maxWatchRetries       = 8
)

// RedisStore keeps each registration as a JSON value. Update uses
// WATCH/MULTI so a concurrent writer forces a retry instead of a lost update.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a store; a zero ttl keeps registrations forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func registrationKey(regID id.RegistrationID) string {
	return registrationKeyPrefix + regID.String()
}

func (s *RedisStore) Create(ctx context.Context, reg *models.Registration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	ok, err := s.client.SetNX(ctx, registrationKey(reg.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, regID id.RegistrationID) (*models.Registration, error) {
	return s.load(ctx, s.client, regID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, regID id.RegistrationID) (*models.Registration, error) {
	raw, err := c.Get(ctx, registrationKey(regID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	var reg models.Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	return &reg, nil
}

func (s *RedisStore) Update(ctx context.Context, regID id.RegistrationID, fn UpdateFunc) (*models.Registration, error) {
	key := registrationKey(regID)
	var updated *models.Registration

	txf := func(tx *redis.Tx) error {
		reg, err := s.load(ctx, tx, regID)
		if err != nil {
			return err
		}
		if err := fn(reg); err != nil {
			return err
		}
		data, err := json.Marshal(reg)
		if err != nil {
			return fmt.Errorf("encode registration: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = reg
		return nil
	}

	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrContention
}

func (s *RedisStore) Delete(ctx context.Context, regID id.RegistrationID, guard UpdateFunc) error {
	key := registrationKey(regID)
	txf := func(tx *redis.Tx) error {
		reg, err := s.load(ctx, tx, regID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(reg); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
