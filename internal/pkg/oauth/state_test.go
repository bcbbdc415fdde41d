package oauth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStateStore(t *testing.T) (*StateStore, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return NewStateStore(client), cleanup
}

func TestStateStore_GenerateAndValidate(t *testing.T) {
	store, cleanup := setupStateStore(t)
	defer cleanup()

	ctx := context.Background()

	state, err := store.GenerateState(ctx, "gaiya://oauth/done")
	require.NoError(t, err)
	assert.Len(t, state, 64) // 32 字节 hex

	redirectURI, err := store.ValidateState(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, "gaiya://oauth/done", redirectURI)
}

func TestStateStore_StateIsSingleUse(t *testing.T) {
	store, cleanup := setupStateStore(t)
	defer cleanup()

	ctx := context.Background()

	state, err := store.GenerateState(ctx, "gaiya://oauth/done")
	require.NoError(t, err)

	_, err = store.ValidateState(ctx, state)
	require.NoError(t, err)

	// 第二次校验必须失败
	_, err = store.ValidateState(ctx, state)
	assert.Error(t, err)
}

func TestStateStore_InvalidState(t *testing.T) {
	store, cleanup := setupStateStore(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		_, err := store.ValidateState(ctx, "")
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := store.ValidateState(ctx, "deadbeef")
		assert.Error(t, err)
	})
}

func TestStateStore_UniqueStates(t *testing.T) {
	store, cleanup := setupStateStore(t)
	defer cleanup()

	ctx := context.Background()

	s1, err := store.GenerateState(ctx, "a")
	require.NoError(t, err)
	s2, err := store.GenerateState(ctx, "b")
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
}
