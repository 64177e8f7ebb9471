package llm

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/sciflow/types"
)

// fakeClock lets tests advance time past disable windows.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPool(t *testing.T, clock *fakeClock, keys ...string) *CredentialPool {
	t.Helper()
	return NewCredentialPool(keys, zaptest.NewLogger(t), WithClock(clock.Now))
}

func TestCredentialPool_RoundRobin(t *testing.T) {
	pool := newTestPool(t, newFakeClock(), "key-aaaa", "key-bbbb", "key-cccc")

	var got []string
	for i := 0; i < 6; i++ {
		cred, err := pool.Current()
		require.NoError(t, err)
		got = append(got, cred.Value())
	}
	assert.Equal(t, []string{"key-aaaa", "key-bbbb", "key-cccc", "key-aaaa", "key-bbbb", "key-cccc"}, got)
}

func TestCredentialPool_RateLimitedWindow(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "key-only")

	cred, err := pool.Current()
	require.NoError(t, err)
	pool.MarkFailed(cred, KindRateLimited, errors.New("429 too many requests"))

	// Disabled for the full window, including the boundary instant.
	for _, step := range []time.Duration{0, 30 * time.Second, 30 * time.Second} {
		clock.Advance(step)
		_, err := pool.Current()
		require.Error(t, err)
		assert.Equal(t, types.ErrPoolExhausted, types.GetErrorCode(err))
	}

	clock.Advance(time.Second)
	cred, err = pool.Current()
	require.NoError(t, err)
	assert.Equal(t, "key-only", cred.Value())
}

func TestCredentialPool_FailoverToNextKey(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "key-1111", "key-2222")

	cred, err := pool.Current()
	require.NoError(t, err)
	assert.Equal(t, "key-1111", cred.Value())
	pool.MarkFailed(cred, KindRateLimited, errors.New("rate limit"))

	// Only the second key remains usable.
	for i := 0; i < 3; i++ {
		cred, err := pool.Current()
		require.NoError(t, err)
		assert.Equal(t, "key-2222", cred.Value())
	}

	cred, err = pool.Current()
	require.NoError(t, err)
	pool.MarkFailed(cred, KindQuotaExhausted, errors.New("quota"))

	_, err = pool.Current()
	require.Error(t, err)
	assert.Equal(t, types.ErrPoolExhausted, types.GetErrorCode(err))
	assert.Equal(t, 0, pool.AvailableCount())

	// The rate-limit window expires first; the quota window does not.
	clock.Advance(time.Minute + time.Second)
	cred, err = pool.Current()
	require.NoError(t, err)
	assert.Equal(t, "key-1111", cred.Value())
	assert.Equal(t, 1, pool.AvailableCount())
}

func TestCredentialPool_UnauthorizedUntilReset(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "key-auth")

	cred, err := pool.Current()
	require.NoError(t, err)
	pool.MarkFailed(cred, KindUnauthorized, errors.New("401 invalid key"))

	// No amount of waiting restores an unauthorized key.
	clock.Advance(48 * time.Hour)
	_, err = pool.Current()
	require.Error(t, err)
	assert.Equal(t, types.ErrPoolExhausted, types.GetErrorCode(err))

	pool.ResetAll()
	cred, err = pool.Current()
	require.NoError(t, err)
	assert.Equal(t, "key-auth", cred.Value())
}

func TestCredentialPool_DurationOverrides(t *testing.T) {
	clock := newFakeClock()
	pool := NewCredentialPool([]string{"key-fast"}, zaptest.NewLogger(t),
		WithClock(clock.Now),
		WithDisableDurations(DisableDurations{KindRateLimited: 2 * time.Second}),
	)

	cred, err := pool.Current()
	require.NoError(t, err)
	pool.MarkFailed(cred, KindRateLimited, nil)

	_, err = pool.Current()
	require.Error(t, err)

	clock.Advance(3 * time.Second)
	_, err = pool.Current()
	require.NoError(t, err)
}

func TestCredentialPool_EmptyAndBlankKeys(t *testing.T) {
	pool := NewCredentialPool([]string{"", ""}, zaptest.NewLogger(t))
	assert.Equal(t, 0, pool.Size())

	_, err := pool.Current()
	require.Error(t, err)
	assert.Equal(t, types.ErrPoolExhausted, types.GetErrorCode(err))
}

func TestCredentialPool_StatsRedactsKeys(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "sk-proj-secret-value", "short")

	cred, err := pool.Current()
	require.NoError(t, err)
	pool.MarkFailed(cred, KindRateLimited, errors.New("429"))

	stats := pool.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "sk-proj-...", stats[0].Key)
	assert.Equal(t, "short", stats[1].Key)
	assert.False(t, stats[0].Available)
	assert.NotNil(t, stats[0].DisabledUntil)
	assert.Equal(t, int64(1), stats[0].FailedCalls)
	assert.True(t, stats[1].Available)
}

func TestCredentialPool_ConcurrentUse(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "key-aaaa", "key-bbbb", "key-cccc")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cred, err := pool.Current()
				if err != nil {
					continue
				}
				if j%7 == 0 {
					pool.MarkFailed(cred, KindRateLimited, errors.New("rate limit"))
				} else {
					pool.MarkSucceeded(cred)
				}
				if j%50 == 0 {
					pool.ResetAll()
				}
			}
		}(i)
	}
	wg.Wait()

	pool.ResetAll()
	assert.Equal(t, 3, pool.AvailableCount())
}

// Whatever sequence of failures and clock advances happens, Current
// never hands out a credential inside its disable window and
// AvailableCount agrees with Current's success.
func TestCredentialPool_AvailabilityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		pool := NewCredentialPool([]string{"key-1111", "key-2222", "key-3333"}, nil, WithClock(clock.Now))

		kinds := []ErrorKind{KindRateLimited, KindQuotaExhausted, KindUnauthorized, KindTimeout, KindOther}
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				cred, err := pool.Current()
				if err == nil {
					pool.MarkFailed(cred, kinds[rapid.IntRange(0, len(kinds)-1).Draw(t, "kind")], errors.New("boom"))
				}
			case 1:
				cred, err := pool.Current()
				if err == nil {
					pool.MarkSucceeded(cred)
				}
			case 2:
				clock.Advance(time.Duration(rapid.IntRange(1, 7200).Draw(t, "advance")) * time.Second)
			case 3:
				pool.ResetAll()
			}

			available := pool.AvailableCount()
			cred, err := pool.Current()
			if available > 0 {
				if err != nil {
					t.Fatalf("AvailableCount=%d but Current failed: %v", available, err)
				}
				if !cred.usable(clock.Now()) {
					t.Fatalf("Current returned a disabled credential")
				}
			} else if err == nil {
				t.Fatalf("AvailableCount=0 but Current returned %s", cred.Value())
			}
		}
	})
}
