package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("LABKEYS_TEST_REDIS")
	if addr == "" {
		t.Skip("LABKEYS_TEST_REDIS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 14})
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestOperatorSessions(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	s := NewOperatorSessions(rdb, time.Minute)

	require.NoError(t, s.Create(ctx, "s1", "op-1"))
	require.NoError(t, s.Create(ctx, "s2", "op-1"))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", got.OperatorID)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, s.RevokeAll(ctx, "op-1"))
	_, err = s.Get(ctx, "s2")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestCeremonyIsSingleUse(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	c := NewCeremonies(rdb, time.Minute)

	require.NoError(t, c.Save(ctx, Login, "sid", &webauthn.SessionData{Challenge: "abc"}))
	sd, err := c.Take(ctx, Login, "sid")
	require.NoError(t, err)
	assert.Equal(t, "abc", sd.Challenge)

	_, err = c.Take(ctx, Login, "sid")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestCeremonyKeysAreSeparated(t *testing.T) {
	assert.NotEqual(t, ceremonyKey(Registration, "x"), ceremonyKey(Invite, "x"))
	assert.Equal(t, "labkeys:webauthn:auth:x", ceremonyKey(Login, "x"))
}
