package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/config"
)

func TestRateLimiter_Paces(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "first call is within burst")

	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiter_FloodWaitBlocksEveryone(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)
	rl.SetFloodWait(1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := rl.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRateLimiter_ShorterFloodWaitDoesNotCut(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)
	rl.SetFloodWait(30)
	rl.SetFloodWait(1)

	assert.Greater(t, rl.FloodWaitRemaining(), 25*time.Second)
}

func TestRateLimiter_FloodWaitExpires(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)
	rl.floodWaitUntil = time.Now().Add(-100 * time.Millisecond)

	assert.Zero(t, rl.FloodWaitRemaining())
	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiterFromConfig(t *testing.T) {
	rl := RateLimiterFromConfig(&config.Config{RateRPS: 50, RateBurst: 0})
	assert.Equal(t, 1, rl.limiter.Burst(), "burst below 1 is raised to 1")

	def := RateLimiterFromConfig(nil)
	assert.EqualValues(t, 2.0, def.limiter.Limit())
}

func TestRateLimiter_Metrics(t *testing.T) {
	rl := NewRateLimiter(1000, 5)
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	rl.floodWaits.Add(2)

	expected := `
# HELP tgsaver_telegram_flood_waits_total FLOOD_WAIT responses received.
# TYPE tgsaver_telegram_flood_waits_total counter
tgsaver_telegram_flood_waits_total 2
# HELP tgsaver_telegram_requests_total Telegram API calls let through the limiter.
# TYPE tgsaver_telegram_requests_total counter
tgsaver_telegram_requests_total 3
`
	assert.NoError(t, testutil.CollectAndCompare(rl, strings.NewReader(expected),
		"tgsaver_telegram_requests_total", "tgsaver_telegram_flood_waits_total"))
	assert.Equal(t, 3, testutil.CollectAndCount(rl))
}
