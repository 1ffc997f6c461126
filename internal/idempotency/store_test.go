package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/partnerhub/model"
)

func decisionResponse() Response {
	return Response{
		Status:      200,
		ContentType: "application/json",
		Body:        []byte(`{"request":{"id":"req-1","status":"approved"}}`),
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// storeCases runs a test against every Store implementation.
func storeCases(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("redis", func(t *testing.T) {
		_, client := newTestRedis(t)
		fn(t, NewRedisStore(client))
	})
}

func TestStore_checkNotFound(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		resp, found, err := store.Check(context.Background(), "idem:u:r:k", "hash-abc")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, resp)
	})
}

func TestStore_saveAndCheck(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		key := FormatKey("user-1", "/api/v1/approvals/{requestId}/decision", "k-1")

		require.NoError(t, store.Save(ctx, key, "hash-abc", decisionResponse(), 5*time.Minute))

		resp, found, err := store.Check(ctx, key, "hash-abc")
		require.NoError(t, err)
		require.True(t, found)
		require.NotNil(t, resp)
		assert.Equal(t, decisionResponse(), *resp)
	})
}

func TestStore_conflictOnHashMismatch(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		key := "idem:user-1:route:k-1"

		require.NoError(t, store.Save(ctx, key, "hash-abc", decisionResponse(), 5*time.Minute))

		_, found, err := store.Check(ctx, key, "hash-different")
		assert.True(t, found)
		assert.True(t, model.IsCode(err, model.ErrConflict), "error = %v", err)
	})
}

func TestStore_overwrite(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		key := "idem:user-1:route:k-1"

		require.NoError(t, store.Save(ctx, key, "hash-1", Response{Status: 201, Body: []byte(`"first"`)}, 5*time.Minute))
		require.NoError(t, store.Save(ctx, key, "hash-2", Response{Status: 200, Body: []byte(`"second"`)}, 5*time.Minute))

		resp, found, err := store.Check(ctx, key, "hash-2")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, `"second"`, string(resp.Body))
	})
}

func TestStore_reserveIsExclusive(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		key := "idem:user-1:route:k-1"

		ok, err := store.Reserve(ctx, key, "hash-abc", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Reserve(ctx, key, "hash-abc", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "second reservation of the same key")

		resp, found, err := store.Check(ctx, key, "hash-abc")
		assert.True(t, found)
		assert.Nil(t, resp)
		assert.True(t, model.IsCode(err, model.ErrConflict), "error = %v", err)
	})
}

func TestStore_saveCompletesReservation(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		key := "idem:user-1:route:k-1"

		_, err := store.Reserve(ctx, key, "hash-abc", time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, key, "hash-abc", decisionResponse(), 5*time.Minute))

		resp, found, err := store.Check(ctx, key, "hash-abc")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 200, resp.Status)

		ok, err := store.Reserve(ctx, key, "hash-abc", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "reserved a key holding a response")
	})
}

func TestStore_release(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		reserved, saved := "idem:user-1:route:k-1", "idem:user-1:route:k-2"

		_, err := store.Reserve(ctx, reserved, "hash-abc", time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.Release(ctx, reserved, "hash-other"))
		_, found, _ := store.Check(ctx, reserved, "hash-abc")
		assert.True(t, found, "released with a different input hash")

		require.NoError(t, store.Release(ctx, reserved, "hash-abc"))
		_, found, err = store.Check(ctx, reserved, "hash-abc")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, store.Save(ctx, saved, "hash-abc", decisionResponse(), 5*time.Minute))
		require.NoError(t, store.Release(ctx, saved, "hash-abc"))
		resp, found, err := store.Check(ctx, saved, "hash-abc")
		require.NoError(t, err)
		require.True(t, found, "release dropped a stored response")
		assert.Equal(t, 200, resp.Status)
	})
}

func TestMemoryStore_expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", "hash", decisionResponse(), time.Minute))
	now = now.Add(2 * time.Minute)

	_, found, err := store.Check(ctx, "k", "hash")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_reservationExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "k", "hash", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	now = now.Add(2 * time.Minute)

	ok, err = store.Reserve(ctx, "k", "hash", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_responsesAreCopied(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	resp := decisionResponse()

	require.NoError(t, store.Save(ctx, "k", "hash", resp, time.Minute))
	resp.Body[0] = 'X'

	got, _, err := store.Check(ctx, "k", "hash")
	require.NoError(t, err)
	assert.Equal(t, byte('{'), got.Body[0])
}

func TestRedisStore_expiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", "hash", decisionResponse(), time.Second))
	mr.FastForward(2 * time.Second)

	_, found, err := store.Check(ctx, "k", "hash")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_reservationTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)

	ok, err := store.Reserve(context.Background(), "k", "hash", ReservationTTL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ReservationTTL, mr.TTL("k"))
}

func TestRedisStore_healthCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)

	require.NoError(t, store.HealthCheck(context.Background()))
	mr.Close()
	assert.Error(t, store.HealthCheck(context.Background()))
}

func TestFormatKey(t *testing.T) {
	got := FormatKey("user-1", "/api/v1/partners/{partnerId}/stage", "key/with/slashes")
	assert.Equal(t, "idem:user-1:/api/v1/partners/{partnerId}/stage:key/with/slashes", got)
}

func TestHashInput(t *testing.T) {
	a := HashInput("POST", "/api/v1/partners/p-1/stage", []byte(`{"stage":"kyc"}`))
	b := HashInput("POST", "/api/v1/partners/p-1/stage", []byte(`{"stage":"kyc"}`))
	c := HashInput("POST", "/api/v1/partners/p-2/stage", []byte(`{"stage":"kyc"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
