package repository

import (
	"sync"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

func TestReserveRelease(t *testing.T) {
	withLedger(t, nil, func(l *RedisQuotaLedger) {
		require.NoError(t, l.SetLimits("alice", map[string]int64{workflow.ResourceConcurrentJobs: 2}))

		require.NoError(t, l.Reserve("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))
		require.NoError(t, l.Reserve("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))

		account, err := l.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(2), account.Used[workflow.ResourceConcurrentJobs])

		require.NoError(t, l.Release("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))
		account, err = l.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestReserve_DeniedAtLimit(t *testing.T) {
	withLedger(t, nil, func(l *RedisQuotaLedger) {
		require.NoError(t, l.SetLimits("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))
		require.NoError(t, l.Reserve("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))

		err := l.Reserve("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1})
		var quotaErr *schedulererrors.ErrQuotaExceeded
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, "alice", quotaErr.Owner)
		assert.Equal(t, workflow.ResourceConcurrentJobs, quotaErr.Resource)
		assert.Equal(t, int64(1), quotaErr.Used)
		assert.Equal(t, int64(1), quotaErr.Limit)

		// The denied reservation left no partial state behind.
		account, err := l.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestReserve_AllOrNothing(t *testing.T) {
	withLedger(t, nil, func(l *RedisQuotaLedger) {
		require.NoError(t, l.SetLimits("alice", map[string]int64{
			workflow.ResourceConcurrentJobs: 10,
			workflow.ResourceDiskBytes:      100,
		}))
		require.NoError(t, l.Reserve("alice", map[string]int64{workflow.ResourceDiskBytes: 100}))

		// Disk is exhausted, so the concurrent-jobs delta must not apply either.
		err := l.Reserve("alice", map[string]int64{
			workflow.ResourceConcurrentJobs: 1,
			workflow.ResourceDiskBytes:      1,
		})
		var quotaErr *schedulererrors.ErrQuotaExceeded
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, workflow.ResourceDiskBytes, quotaErr.Resource)

		account, err := l.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestReserve_ZeroDeltaAssertsHeadroom(t *testing.T) {
	withLedger(t, nil, func(l *RedisQuotaLedger) {
		require.NoError(t, l.SetLimits("alice", map[string]int64{
			workflow.ResourceConcurrentJobs: 10,
			workflow.ResourceCpuSeconds:     100,
		}))
		require.NoError(t, l.Reserve("alice", map[string]int64{workflow.ResourceCpuSeconds: 100}))

		err := l.Reserve("alice", map[string]int64{
			workflow.ResourceConcurrentJobs: 1,
			workflow.ResourceCpuSeconds:     0,
		})
		var quotaErr *schedulererrors.ErrQuotaExceeded
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, workflow.ResourceCpuSeconds, quotaErr.Resource)
	})
}

func TestReserve_UnlimitedKindIsNotEnforced(t *testing.T) {
	withLedger(t, nil, func(l *RedisQuotaLedger) {
		require.NoError(t, l.Reserve("bob", map[string]int64{workflow.ResourceConcurrentJobs: 100}))

		account, err := l.GetAccount("bob")
		require.NoError(t, err)
		assert.Equal(t, int64(100), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestReserve_SeedsDefaultLimits(t *testing.T) {
	defaults := map[string]int64{workflow.ResourceConcurrentJobs: 1}
	withLedger(t, defaults, func(l *RedisQuotaLedger) {
		require.NoError(t, l.Reserve("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))
		err := l.Reserve("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1})
		var quotaErr *schedulererrors.ErrQuotaExceeded
		require.ErrorAs(t, err, &quotaErr)

		// Explicit limits stay authoritative over the defaults.
		require.NoError(t, l.SetLimits("carol", map[string]int64{workflow.ResourceConcurrentJobs: 5}))
		for i := 0; i < 5; i++ {
			require.NoError(t, l.Reserve("carol", map[string]int64{workflow.ResourceConcurrentJobs: 1}))
		}
	})
}

func TestRelease_ClampsAtZero(t *testing.T) {
	withLedger(t, nil, func(l *RedisQuotaLedger) {
		require.NoError(t, l.SetLimits("alice", map[string]int64{workflow.ResourceConcurrentJobs: 5}))
		require.NoError(t, l.Reserve("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))

		require.NoError(t, l.Release("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))
		require.NoError(t, l.Release("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}))

		account, err := l.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestReserve_ConcurrentReservationsNeverExceedLimit(t *testing.T) {
	withLedger(t, nil, func(l *RedisQuotaLedger) {
		require.NoError(t, l.SetLimits("alice", map[string]int64{workflow.ResourceConcurrentJobs: 5}))

		var wg sync.WaitGroup
		granted := make(chan struct{}, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Reserve("alice", map[string]int64{workflow.ResourceConcurrentJobs: 1}) == nil {
					granted <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(granted)

		assert.Len(t, granted, 5)
		account, err := l.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(5), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func withLedger(t *testing.T, defaults map[string]int64, action func(l *RedisQuotaLedger)) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer db.Close()

	action(NewRedisQuotaLedger(db, defaults))
}
