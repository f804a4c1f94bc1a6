package limiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/config"
	redisrepo "wallet-auth-service/internal/repository/redis"
	"wallet-auth-service/internal/util"
)

// Named limiters guarding the auth flow. Budgets and windows come from
// configuration, not from this package.
const (
	RequestPhoneCodePerPhone = "request-phone-code-per-phone"
	RequestPhoneCodePerIP    = "request-phone-code-per-ip"
	LoginAttemptPerPhone     = "login-attempt-per-phone"
	FailedLoginPerIP         = "failed-login-per-ip"
)

// ExceededError reports a consume attempt that would overrun the budget.
type ExceededError struct {
	Limiter    string
	Key        string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit %q exceeded for %s, retry in %s", e.Limiter, e.Key, e.RetryAfter)
}

// Engine enforces named, keyed, windowed point budgets over the shared
// counter store. It holds no counter state of its own, so any number of
// service instances can share one Redis.
type Engine struct {
	store  *redisrepo.CounterCache
	limits map[string]config.LimitConfig
}

func NewEngine(store *redisrepo.CounterCache, limits config.LimitsConfig) *Engine {
	return &Engine{
		store: store,
		limits: map[string]config.LimitConfig{
			RequestPhoneCodePerPhone: limits.RequestCodePerPhone,
			RequestPhoneCodePerIP:    limits.RequestCodePerIP,
			LoginAttemptPerPhone:     limits.LoginAttemptPerPhone,
			FailedLoginPerIP:         limits.FailedLoginPerIP,
		},
	}
}

func (e *Engine) limit(name string) (config.LimitConfig, error) {
	limit, ok := e.limits[name]
	if !ok {
		return config.LimitConfig{}, fmt.Errorf("unknown rate limiter: %s", name)
	}
	return limit, nil
}

// Budget returns the configured point budget for a named limiter. Used by
// the login pre-check, which compares consumed points against the budget
// without consuming.
func (e *Engine) Budget(name string) int {
	return e.limits[name].Points
}

// Consume takes points from the subject's budget, returning *ExceededError
// when the post-increment total would overrun it.
func (e *Engine) Consume(ctx context.Context, name, key string, points int) error {
	limit, err := e.limit(name)
	if err != nil {
		return err
	}

	result, err := e.store.ConsumeToken(ctx, name, key, points, limit.Points, limit.Window)
	if err != nil {
		return err
	}

	if !result.Allowed {
		util.Info("Rate limit exceeded",
			zap.String("limiter", name),
			zap.String("key", key),
			zap.Int("consumed", result.ConsumedPoints),
			zap.Duration("retry_after", result.RetryAfter))
		return &ExceededError{Limiter: name, Key: key, RetryAfter: result.RetryAfter}
	}

	return nil
}

// Reward refunds points previously consumed by the subject, floored at
// zero. A reward can never produce a budget error.
func (e *Engine) Reward(ctx context.Context, name, key string, points int) error {
	if _, err := e.limit(name); err != nil {
		return err
	}
	_, err := e.store.ReturnToken(ctx, name, key, points)
	return err
}

// Get reads the subject's counter without mutating it. Absent state reads
// as zero consumption.
func (e *Engine) Get(ctx context.Context, name, key string) (*redisrepo.Counter, error) {
	if _, err := e.limit(name); err != nil {
		return nil, err
	}
	return e.store.Peek(ctx, name, key)
}

// Delete clears the subject's counter. Idempotent.
func (e *Engine) Delete(ctx context.Context, name, key string) error {
	if _, err := e.limit(name); err != nil {
		return err
	}
	return e.store.Reset(ctx, name, key)
}
