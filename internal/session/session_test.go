package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) (map[string]Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(time.Hour),
		"redis":  NewRedisStore(client, "", time.Hour),
	}, mr
}

func TestStore_Transitions(t *testing.T) {
	ctx := context.Background()
	all, _ := stores(t)

	for name, store := range all {
		t.Run(name, func(t *testing.T) {
			state, err := store.Get(ctx, 1)
			require.NoError(t, err)
			assert.True(t, state.IsIdle(), "unknown users start idle")

			require.NoError(t, store.Set(ctx, 1, NewTaskState()))
			state, err = store.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, AwaitingNewTask, state.Kind)
			assert.Zero(t, state.TaskID)

			require.NoError(t, store.Set(ctx, 1, EditState(9)))
			state, err = store.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, AwaitingEditDescription, state.Kind, "edit replaces add, never both")
			assert.Equal(t, uint(9), state.TaskID)

			other, err := store.Get(ctx, 2)
			require.NoError(t, err)
			assert.True(t, other.IsIdle(), "sessions are per user")

			require.NoError(t, store.Clear(ctx, 1))
			state, err = store.Get(ctx, 1)
			require.NoError(t, err)
			assert.True(t, state.IsIdle())

			require.NoError(t, store.Set(ctx, 1, NewTaskState()))
			require.NoError(t, store.Set(ctx, 1, State{Kind: Idle}))
			state, err = store.Get(ctx, 1)
			require.NoError(t, err)
			assert.True(t, state.IsIdle(), "setting idle clears the session")
		})
	}
}

func TestMemoryStore_Expires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, 1, NewTaskState()))
	now = now.Add(2 * time.Minute)

	state, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, state.IsIdle())
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "bot:session:", 30*time.Minute)
	require.NoError(t, store.Set(ctx, 77, EditState(3)))

	require.True(t, mr.Exists("bot:session:77"))
	assert.Equal(t, 30*time.Minute, mr.TTL("bot:session:77"))

	mr.FastForward(31 * time.Minute)
	state, err := store.Get(ctx, 77)
	require.NoError(t, err)
	assert.True(t, state.IsIdle())
}

func TestRedisStore_CorruptValue(t *testing.T) {
	ctx := context.Background()
	all, mr := stores(t)

	require.NoError(t, mr.Set("session:5", "not-json"))
	_, err := all["redis"].Get(ctx, 5)
	assert.Error(t, err)
}
