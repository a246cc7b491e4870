package repository

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningSet_AddRemoveCount(t *testing.T) {
	withRunningSet(t, func(r *RedisRunningSet) {
		now := time.Now()
		require.NoError(t, r.Add(submission("a", "alice", 0), now))
		require.NoError(t, r.Add(submission("b", "bob", 0), now))

		count, err := r.Count()
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		sub, err := r.Remove("a")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "alice", sub.Owner)

		count, err = r.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestRunningSet_RemoveUnknownIsNoOp(t *testing.T) {
	withRunningSet(t, func(r *RedisRunningSet) {
		sub, err := r.Remove("missing")
		require.NoError(t, err)
		assert.Nil(t, sub)
	})
}

func withRunningSet(t *testing.T, action func(r *RedisRunningSet)) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer db.Close()

	action(NewRedisRunningSet(db))
}
