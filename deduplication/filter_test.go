package deduplication

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"newsindex/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func article(source, native string) *types.Article {
	key := IdentityKey(native, "")
	return &types.Article{ID: types.GenerateID(source, key), SourceName: source, NativeID: key}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "test"),
	}
}

func TestAdmitTrueThenFalse(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := NewFilter(s, FilterConfig{}, nil)
			a := article("wire", "1")

			ok, err := f.Admit(ctx, a)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = f.Admit(ctx, a)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = f.Admit(ctx, article("wire", "1"))
			require.NoError(t, err)
			assert.False(t, ok, "a re-fetched copy has the same fingerprint")
		})
	}
}

func TestCommitReleaseLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run1 := NewFilter(s, FilterConfig{Owner: "run-1"}, nil)
			indexed, failed, orphaned := article("wire", "a"), article("wire", "b"), article("wire", "c")

			for _, a := range []*types.Article{indexed, failed, orphaned} {
				ok, err := run1.Admit(ctx, a)
				require.NoError(t, err)
				require.True(t, ok)
			}
			require.NoError(t, run1.Commit(ctx, []*types.Article{indexed}))
			require.NoError(t, run1.Release(ctx, []*types.Article{failed}))

			ok, err := run1.Admit(ctx, failed)
			require.NoError(t, err)
			assert.True(t, ok, "released fingerprints are admitted again")

			// A restarted process takes over claims a crashed run left pending
			// but still drops committed work.
			run2 := NewFilter(s, FilterConfig{Owner: "run-2"}, nil)
			ok, err = run2.Admit(ctx, indexed)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = run2.Admit(ctx, orphaned)
			require.NoError(t, err)
			assert.True(t, ok)

			// run-1 can no longer release what run-2 now owns.
			require.NoError(t, run1.Release(ctx, []*types.Article{orphaned}))
			ok, err = run2.Admit(ctx, orphaned)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestConcurrentAdmitSingleWinner(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := NewFilter(s, FilterConfig{}, nil)

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := f.Admit(ctx, article("wire", "shared"))
					assert.NoError(t, err)
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestPruneRetention(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			clock := now.Add(-40 * 24 * time.Hour)
			f := NewFilter(s, FilterConfig{Now: func() time.Time { return clock }}, nil)

			old := article("wire", "old")
			ok, err := f.Admit(ctx, old)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, f.Commit(ctx, []*types.Article{old}))

			stale := article("wire", "stale-pending")
			ok, err = f.Admit(ctx, stale)
			require.NoError(t, err)
			require.True(t, ok)

			clock = now
			for i := 0; i < 3; i++ {
				_, err := f.Admit(ctx, article("wire", fmt.Sprint(i)))
				require.NoError(t, err)
			}

			n, err := f.Prune(ctx, 30*24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			count, err := f.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, count, "old pending claims survive pruning")

			ok, err = f.Admit(ctx, old)
			require.NoError(t, err)
			assert.True(t, ok, "forgotten fingerprints are admitted again")

			ok, err = f.Admit(ctx, stale)
			require.NoError(t, err)
			assert.False(t, ok, "a claim still pending for this owner is not admitted twice")
		})
	}
}

func TestJanitorSchedule(t *testing.T) {
	f := NewFilter(NewMemoryStore(), FilterConfig{}, nil)
	_, err := NewJanitor(f, "not a schedule", time.Hour, nil)
	assert.Error(t, err)

	j, err := NewJanitor(f, "@every 1h", time.Hour, nil)
	require.NoError(t, err)
	j.Start()
	j.RunOnce()
	j.Stop()
}
