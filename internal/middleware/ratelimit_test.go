package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(t *testing.T, max int, window time.Duration) (*RateLimiter, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(RateLimitConfig{Max: max, Window: window, KeyFn: KeyByUserID})
	rl.now = clk.now
	t.Cleanup(rl.Close)
	return rl, clk
}

func TestRateLimiter_CloseStopsEviction(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute, KeyFn: KeyByIP})

	done := make(chan struct{})
	go func() {
		rl.Close()
		rl.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}

	select {
	case <-rl.stopped:
	default:
		t.Fatal("eviction goroutine still running")
	}
	assert.True(t, rl.Allow("k"), "a closed limiter still limits")
}

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	rl, _ := newTestLimiter(t, 5, time.Minute)
	for i := 0; i < 5; i++ {
		require.True(t, rl.Allow("test-ip"), "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksAfterMax(t *testing.T) {
	rl, _ := newTestLimiter(t, 3, time.Minute)
	for i := 0; i < 3; i++ {
		rl.Allow("test-ip")
	}
	assert.False(t, rl.Allow("test-ip"), "4th request should be blocked")
}

func TestRateLimiter_DifferentKeysIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t, 2, time.Minute)
	rl.Allow("user:a")
	rl.Allow("user:a")

	assert.False(t, rl.Allow("user:a"))
	assert.True(t, rl.Allow("user:b"), "independent key")
}

func TestRateLimiter_Refills(t *testing.T) {
	rl, clk := newTestLimiter(t, 2, time.Minute)
	rl.Allow("k")
	rl.Allow("k")
	require.False(t, rl.Allow("k"))

	// One token every 30s.
	clk.advance(31 * time.Second)
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
}

func TestRateLimiter_RejectedRequestsDoNotConsume(t *testing.T) {
	rl, clk := newTestLimiter(t, 1, time.Minute)
	require.True(t, rl.Allow("k"))
	for i := 0; i < 5; i++ {
		require.False(t, rl.Allow("k"))
	}
	clk.advance(61 * time.Second)
	assert.True(t, rl.Allow("k"))
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl, clk := newTestLimiter(t, 2, time.Minute)
	rl.Allow("k")
	clk.advance(2 * time.Minute)
	rl.evictIdle()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.entries)
}

func TestRateLimiter_VoteSubmitConfig(t *testing.T) {
	rl := NewVoteSubmitRateLimiter()
	defer rl.Close()
	for i := 0; i < 10; i++ {
		require.True(t, rl.Allow("user:abc123"), "vote submit request %d should be allowed (max 10)", i+1)
	}
	assert.False(t, rl.Allow("user:abc123"), "11th vote submit should be blocked")
}

func TestRateLimiter_Handler(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, time.Minute)
	app := fiber.New()
	app.Use(rl.Handler())
	app.Get("/", func(c fiber.Ctx) error { return c.SendString("ok") })

	req := func() (int, string) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(UserIDHeader, "u-1")
		resp, err := app.Test(r)
		require.NoError(t, err)
		return resp.StatusCode, resp.Header.Get("Retry-After")
	}

	code, _ := req()
	assert.Equal(t, fiber.StatusOK, code)

	code, retry := req()
	assert.Equal(t, fiber.StatusTooManyRequests, code)
	assert.NotEmpty(t, retry)
}
