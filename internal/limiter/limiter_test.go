package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/config"
	redisrepo "wallet-auth-service/internal/repository/redis"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	return NewEngine(redisrepo.NewCounterCache(rc), config.LimitsConfig{
		RequestCodePerPhone:  config.LimitConfig{Points: 4, Window: time.Hour},
		RequestCodePerIP:     config.LimitConfig{Points: 8, Window: time.Hour},
		LoginAttemptPerPhone: config.LimitConfig{Points: 3, Window: time.Hour},
		FailedLoginPerIP:     config.LimitConfig{Points: 10, Window: 24 * time.Hour},
	})
}

func TestConsumeWithinBudget(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, engine.Consume(ctx, RequestPhoneCodePerPhone, "+15551234567", 1))
	}

	counter, err := engine.Get(ctx, RequestPhoneCodePerPhone, "+15551234567")
	require.NoError(t, err)
	require.Equal(t, 4, counter.ConsumedPoints)
}

func TestConsumeExceedsBudget(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Consume(ctx, LoginAttemptPerPhone, "+15551234567", 1))
	}

	err := engine.Consume(ctx, LoginAttemptPerPhone, "+15551234567", 1)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, LoginAttemptPerPhone, exceeded.Limiter)
	require.Equal(t, "+15551234567", exceeded.Key)
	require.Greater(t, exceeded.RetryAfter, time.Duration(0))

	// A rejected consume must not move the counter.
	counter, err := engine.Get(ctx, LoginAttemptPerPhone, "+15551234567")
	require.NoError(t, err)
	require.Equal(t, 3, counter.ConsumedPoints)
}

func TestKeysAreIndependent(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Consume(ctx, LoginAttemptPerPhone, "+15551111111", 1))
	}

	require.NoError(t, engine.Consume(ctx, LoginAttemptPerPhone, "+15552222222", 1))
}

func TestRewardFloorsAtZero(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Consume(ctx, RequestPhoneCodePerIP, "203.0.113.7", 2))
	require.NoError(t, engine.Reward(ctx, RequestPhoneCodePerIP, "203.0.113.7", 5))

	counter, err := engine.Get(ctx, RequestPhoneCodePerIP, "203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, 0, counter.ConsumedPoints)

	// Rewarding a key that was never consumed is a no-op.
	require.NoError(t, engine.Reward(ctx, RequestPhoneCodePerIP, "198.51.100.1", 1))
}

func TestGetAbsentKeyReadsZero(t *testing.T) {
	engine := newTestEngine(t)

	counter, err := engine.Get(context.Background(), FailedLoginPerIP, "203.0.113.99")
	require.NoError(t, err)
	require.Equal(t, 0, counter.ConsumedPoints)
	require.Equal(t, time.Duration(0), counter.TimeToReset)
}

func TestDeleteIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Consume(ctx, LoginAttemptPerPhone, "+15551234567", 1))
	require.NoError(t, engine.Delete(ctx, LoginAttemptPerPhone, "+15551234567"))
	require.NoError(t, engine.Delete(ctx, LoginAttemptPerPhone, "+15551234567"))

	counter, err := engine.Get(ctx, LoginAttemptPerPhone, "+15551234567")
	require.NoError(t, err)
	require.Equal(t, 0, counter.ConsumedPoints)
}

func TestUnknownLimiterName(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.Consume(context.Background(), "no-such-limiter", "key", 1)
	require.Error(t, err)
}

func TestConcurrentConsumeRespectsBudget(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	const attempts = 20

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- engine.Consume(ctx, LoginAttemptPerPhone, "+15551234567", 1)
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for err := range results {
		if err == nil {
			allowed++
			continue
		}
		var exceeded *ExceededError
		require.True(t, errors.As(err, &exceeded))
	}
	require.Equal(t, 3, allowed)
}
