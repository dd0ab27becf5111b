package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	sweepInterval = time.Minute
	idleTTL       = 10 * time.Minute
)

type bucket struct {
	tokens float64
	seen   time.Time
}

// MemoryLimiter keeps token buckets in process memory. Each key refills at
// rate tokens per second up to burst. Buckets idle for ten minutes are
// dropped during Allow, so no background goroutine is needed.
type MemoryLimiter struct {
	rate  float64
	burst float64
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewMemoryLimiter returns a limiter allowing rate requests per second per
// key with bursts of up to burst requests.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		rate:    rate,
		burst:   float64(max(burst, 1)),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= sweepInterval {
		m.sweep(now)
	}

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: m.burst, seen: now}
		m.buckets[key] = b
	}
	b.tokens = min(m.burst, b.tokens+now.Sub(b.seen).Seconds()*m.rate)
	b.seen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

func (m *MemoryLimiter) sweep(now time.Time) {
	for k, b := range m.buckets {
		if now.Sub(b.seen) > idleTTL {
			delete(m.buckets, k)
		}
	}
	m.lastSweep = now
}

// Len reports how many buckets are held.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryLimiter) Close() error { return nil }
