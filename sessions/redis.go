package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
)

const defaultRedisPrefix = "idynic:auth:"

var _ Store = (*RedisStore)(nil)

// RedisStore keeps the session as one JSON value under a single key, so every
// write is a single SET.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, key: prefix + "session"}
}

func (rs *RedisStore) Read(ctx context.Context) (*Session, error) {
	val, err := rs.client.Get(ctx, rs.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, autherrors.Wrapf(err, "[RedisStore.Read] get %s", rs.key)
	}

	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("[RedisStore.Read] %v: %w", err, ErrUnreadable)
	}
	return &s, nil
}

func (rs *RedisStore) Write(ctx context.Context, s *Session) error {
	if s == nil {
		return ErrNilSession
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("[RedisStore.Write] marshal session: %w", err)
	}
	if err := rs.client.Set(ctx, rs.key, b, 0).Err(); err != nil {
		return autherrors.Wrapf(err, "[RedisStore.Write] set %s", rs.key)
	}
	return nil
}

func (rs *RedisStore) Clear(ctx context.Context) error {
	if err := rs.client.Del(ctx, rs.key).Err(); err != nil {
		return autherrors.Wrapf(err, "[RedisStore.Clear] del %s", rs.key)
	}
	return nil
}
