// Package memory provides in-process implementations of the cache
// interfaces, used when Redis is not configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard on an expiring in-process cache.
type ReplayGuard struct {
	seen *gocache.Cache
}

// NewReplayGuard creates a ReplayGuard that sweeps expired ids every
// cleanup interval.
func NewReplayGuard(cleanup time.Duration) *ReplayGuard {
	return &ReplayGuard{seen: gocache.New(gocache.NoExpiration, cleanup)}
}

// Claim records id for ttl. It returns false when id is already recorded.
func (g *ReplayGuard) Claim(_ context.Context, id string, ttl time.Duration) (bool, error) {
	if err := g.seen.Add(id, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// RateLimiter implements domain.RateLimiter with a fixed window per key.
type RateLimiter struct {
	mu      sync.Mutex
	windows *gocache.Cache
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: gocache.New(gocache.NoExpiration, time.Minute)}
}

// Allow reports whether a request for key is permitted under limit requests
// per window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n, found := rl.windows.Get(key)
	if !found {
		rl.windows.Set(key, 1, window)
		return limit > 0, nil
	}
	count := n.(int)
	if count >= limit {
		return false, nil
	}
	if _, err := rl.windows.IncrementInt(key, 1); err != nil {
		return false, fmt.Errorf("memory: rate limit %s: %w", key, err)
	}
	return true, nil
}

// LockManager implements domain.LockManager for a single process. Each hold
// carries a token; release only deletes a lock that still carries it.
type LockManager struct {
	mu    sync.Mutex
	locks *gocache.Cache
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: gocache.New(gocache.NoExpiration, time.Minute)}
}

// Acquire takes the lock for key until unlocked or ttl elapses.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lm.mu.Lock()
	err := lm.locks.Add(key, token, ttl)
	lm.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	var once sync.Once
	return func() { once.Do(func() { lm.release(key, token) }) }, nil
}

func (lm *LockManager) release(key, token string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if held, ok := lm.locks.Get(key); ok && held == token {
		lm.locks.Delete(key)
	}
}

// Bus implements domain.SignalBus for subscribers in the same process.
// Slow subscribers miss messages rather than block publishers.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[chan []byte]struct{}
	buffer int
}

// NewBus creates a Bus whose subscriber channels hold buffer messages.
func NewBus(buffer int) *Bus {
	return &Bus{subs: make(map[string]map[chan []byte]struct{}), buffer: buffer}
}

// Publish delivers payload to every current subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of messages published to channel. It is
// closed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Compile-time interface checks.
var (
	_ domain.ReplayGuard = (*ReplayGuard)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.SignalBus   = (*Bus)(nil)
)
