package sessions_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/atriumn/idynic-web-sub000/sessions"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	_, rdb := newRedis(t)
	storeContract(t, sessions.NewRedisStore(rdb, "test:"))
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	require.NoError(t, sessions.NewRedisStore(rdb, "").Write(ctx, testSession("A1", "R1")))
	require.True(t, mr.Exists("idynic:auth:session"))

	raw, err := mr.Get("idynic:auth:session")
	require.NoError(t, err)
	require.Contains(t, raw, `"refresh_token":"R1"`)
}

func TestRedisStore_Unreadable(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("test:session", "garbage"))

	_, err := sessions.NewRedisStore(rdb, "test:").Read(context.Background())
	require.ErrorIs(t, err, sessions.ErrUnreadable)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	store := sessions.NewRedisStore(rdb, "test:")
	_, err = store.Read(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, sessions.ErrUnreadable)
	require.Contains(t, err.Error(), "[RedisStore.Read] get test:session: ")

	err = store.Write(context.Background(), testSession("A1", "R1"))
	require.Contains(t, err.Error(), "[RedisStore.Write] set test:session: ")

	err = store.Clear(context.Background())
	require.Contains(t, err.Error(), "[RedisStore.Clear] del test:session: ")
}
