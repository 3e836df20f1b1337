// Package middleware provides reusable model.Client middlewares such as
// adaptive rate limiting.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/treatyline/subpack/internal/model"
)

type (
	// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket on top
	// of a model.Client. It estimates the token cost of each request, blocks
	// callers until capacity is available, and adjusts its effective
	// tokens-per-minute budget in response to rate limiting signals from the
	// provider.
	//
	// The limiter is process-local by default. When constructed with a redis
	// client and key it coordinates the budget across worker processes so a
	// fleet sharing one API key backs off together.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64

		onBackoff func(newTPM float64)
		onProbe   func(newTPM float64)
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}

	// sharedBudget is the subset of redis operations used by the cluster-aware
	// limiter.
	sharedBudget interface {
		Get(ctx context.Context, key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe(ctx context.Context, channel string) <-chan struct{}
		Publish(ctx context.Context, channel string) error
	}

	redisBudget struct {
		rdb redis.UniversalClient
	}
)

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter with a
// tokens-per-minute budget. When rdb and key are set, the budget is shared
// through redis; otherwise the limiter is process-local.
func NewAdaptiveRateLimiter(ctx context.Context, rdb redis.UniversalClient, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	var sb sharedBudget
	if rdb != nil {
		sb = &redisBudget{rdb: rdb}
	}
	return newClusterAdaptiveRateLimiter(ctx, sb, key, initialTPM, maxTPM)
}

// newAdaptiveRateLimiter constructs a process-local limiter with an initial
// tokens-per-minute budget and an upper bound. When maxTPM is zero or less
// than initialTPM, it is clamped to initialTPM.
func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		// Conservative default when callers do not provide a budget.
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Middleware returns a model.Client middleware that enforces the adaptive
// tokens-per-minute limit.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// Complete enforces the limiter before delegating to the underlying client.
func (c *limitedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return model.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req model.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, model.ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()

	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))

	cb := l.onBackoff

	l.mu.Unlock()

	if cb != nil {
		cb(newTPM)
	}
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()

	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))

	cb := l.onProbe

	l.mu.Unlock()

	if cb != nil {
		cb(newTPM)
	}
}

// estimateTokens computes a cheap heuristic for the number of tokens in the
// request transcript. It counts characters in message text, converts them to
// tokens using a fixed ratio and adds a small buffer for provider framing.
func estimateTokens(req model.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		charCount += len(m.Content)
	}
	if charCount <= 0 {
		// Minimal non-zero estimate so callers still incur limiter costs even
		// when messages are extremely small.
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

// replaceTPM updates the limiter effective budget to the given value, clamped
// to the configured [minTPM, maxTPM] range.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
	l.mu.Unlock()
}

func (l *AdaptiveRateLimiter) setClusterCallbacks(onBackoff, onProbe func(newTPM float64)) {
	l.mu.Lock()
	l.onBackoff = onBackoff
	l.onProbe = onProbe
	l.mu.Unlock()
}

func newClusterAdaptiveRateLimiter(ctx context.Context, sb sharedBudget, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if key == "" || sb == nil {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}

	// Best-effort initialization: if the key does not exist yet, seed it with
	// the initial value. A concurrent writer may still win; we refresh below.
	if _, ok := sb.Get(ctx, key); !ok {
		if _, err := sb.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			// When seeding the shared budget fails, fall back to a
			// process-local limiter so callers still make progress.
			return newAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}

	sharedTPM := initialTPM
	if cur, ok := sb.Get(ctx, key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			sharedTPM = v
		}
	}

	l := newAdaptiveRateLimiter(sharedTPM, maxTPM)

	floor := l.minTPM
	ceiling := l.maxTPM
	step := l.recoveryRate
	channel := key + ":changed"

	l.setClusterCallbacks(
		func(_ float64) {
			go globalBackoff(context.Background(), sb, key, channel, floor)
		},
		func(_ float64) {
			go globalProbe(context.Background(), sb, key, channel, step, ceiling)
		},
	)

	// Watch for external changes to the shared budget and reconcile the local
	// limiter when they occur.
	ch := sb.Subscribe(ctx, channel)
	go func() {
		for range ch {
			cur, ok := sb.Get(ctx, key)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			l.replaceTPM(v)
		}
	}()

	return l
}

func globalBackoff(ctx context.Context, sb sharedBudget, key, channel string, floor float64) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := sb.Get(ctx, key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		prev, err := sb.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil {
			return
		}
		if prev == curStr {
			_ = sb.Publish(ctx, channel)
			return
		}
	}
}

func globalProbe(ctx context.Context, sb sharedBudget, key, channel string, step, ceiling float64) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := sb.Get(ctx, key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		if cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		prev, err := sb.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil {
			return
		}
		if prev == curStr {
			_ = sb.Publish(ctx, channel)
			return
		}
	}
}

// testAndSetScript atomically replaces the budget only when it still holds the
// expected value, returning the value observed before the write.
var testAndSetScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
  return ""
end
if cur == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[2])
end
return cur
`)

func (b *redisBudget) Get(ctx context.Context, key string) (string, bool) {
	v, err := b.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (b *redisBudget) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return b.rdb.SetNX(ctx, key, value, 0).Result()
}

func (b *redisBudget) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	v, err := testAndSetScript.Run(ctx, b.rdb, []string{key}, test, value).Text()
	if err != nil {
		return "", err
	}
	return v, nil
}

func (b *redisBudget) Subscribe(ctx context.Context, channel string) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := b.rdb.Subscribe(ctx, channel)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Channel():
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

func (b *redisBudget) Publish(ctx context.Context, channel string) error {
	return b.rdb.Publish(ctx, channel, "1").Err()
}
