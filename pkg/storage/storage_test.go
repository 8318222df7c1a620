package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisclient "github.com/richxcame/driver-agent/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreGetSetDelete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(redisclient.Wrap(db), "driver-agent")
	ctx := context.Background()

	mock.ExpectSet("driver-agent:auth_token", "tok", 0).SetVal("OK")
	require.NoError(t, store.Set(ctx, "auth_token", "tok", 0))

	mock.ExpectGet("driver-agent:auth_token").SetVal("tok")
	value, err := store.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "tok", value)

	mock.ExpectGet("driver-agent:missing").RedisNil()
	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectDel("driver-agent:auth_token", "driver-agent:prefs").SetVal(2)
	require.NoError(t, store.Delete(ctx, "auth_token", "prefs"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorePropagatesErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(redisclient.Wrap(db), "")

	mock.ExpectGet("k").SetErr(errors.New("connection refused"))
	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreJSONHelpers(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(redisclient.Wrap(db), "p")
	ctx := context.Background()

	type prefs struct {
		Sound bool `json:"sound"`
	}

	mock.ExpectSet("p:prefs", `{"sound":true}`, time.Hour).SetVal("OK")
	require.NoError(t, SetJSON(ctx, store, "prefs", prefs{Sound: true}, time.Hour))

	mock.ExpectGet("p:prefs").SetVal(`{"sound":true}`)
	var got prefs
	require.NoError(t, GetJSON(ctx, store, "prefs", &got))
	assert.True(t, got.Sound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "stats", "cached", time.Minute))
	require.NoError(t, store.Set(ctx, "token", "tok", 0))

	value, err := store.Get(ctx, "stats")
	require.NoError(t, err)
	assert.Equal(t, "cached", value)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "stats")
	assert.ErrorIs(t, err, ErrNotFound)

	value, err = store.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "tok", value)

	require.NoError(t, store.Delete(ctx, "token"))
	_, err = store.Get(ctx, "token")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Ping(ctx))
}
