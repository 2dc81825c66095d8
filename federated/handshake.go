package federated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atriumn/idynic-web-sub000/oauthmodel"
)

// Handshake binds one federated login attempt to its callback.
type Handshake struct {
	Provider    oauthmodel.Provider `json:"provider"`
	Nonce       string              `json:"nonce"`
	RedirectURI string              `json:"redirect_uri"`
	CreatedAt   time.Time           `json:"created_at"`
}

// HandshakeRepo holds at most one handshake.
type HandshakeRepo interface {
	// Put replaces any current handshake with h.
	Put(ctx context.Context, h *Handshake) error

	// Take removes and returns the current handshake, or nil when there is none.
	Take(ctx context.Context) (*Handshake, error)

	// Discard removes the current handshake.
	Discard(ctx context.Context) error
}

var _ HandshakeRepo = (*MemoryHandshakeRepo)(nil)

type MemoryHandshakeRepo struct {
	current *Handshake
	lock    sync.Mutex
}

func NewMemoryHandshakeRepo() *MemoryHandshakeRepo {
	return &MemoryHandshakeRepo{}
}

func (m *MemoryHandshakeRepo) Put(_ context.Context, h *Handshake) error {
	c := *h
	m.lock.Lock()
	defer m.lock.Unlock()
	m.current = &c
	return nil
}

func (m *MemoryHandshakeRepo) Take(_ context.Context) (*Handshake, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	h := m.current
	m.current = nil
	return h, nil
}

func (m *MemoryHandshakeRepo) Discard(_ context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.current = nil
	return nil
}

var _ HandshakeRepo = (*RedisHandshakeRepo)(nil)

// RedisHandshakeRepo stores the handshake under one key that expires after
// ttl. Take uses GETDEL so a handshake is consumed at most once even across
// processes.
type RedisHandshakeRepo struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewRedisHandshakeRepo(client redis.Cmdable, prefix string, ttl time.Duration) *RedisHandshakeRepo {
	return &RedisHandshakeRepo{client: client, key: prefix + "handshake", ttl: ttl}
}

func (r *RedisHandshakeRepo) Put(ctx context.Context, h *Handshake) error {
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("[RedisHandshakeRepo.Put] marshal handshake: %w", err)
	}
	if err := r.client.Set(ctx, r.key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("[RedisHandshakeRepo.Put] store handshake: %w", err)
	}
	return nil
}

func (r *RedisHandshakeRepo) Take(ctx context.Context) (*Handshake, error) {
	val, err := r.client.GetDel(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisHandshakeRepo.Take] %w", err)
	}

	var h Handshake
	if err := json.Unmarshal(val, &h); err != nil {
		return nil, fmt.Errorf("[RedisHandshakeRepo.Take] unmarshal handshake: %w", err)
	}
	return &h, nil
}

func (r *RedisHandshakeRepo) Discard(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("[RedisHandshakeRepo.Discard] %w", err)
	}
	return nil
}
