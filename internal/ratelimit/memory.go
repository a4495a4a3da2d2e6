package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter counts delivery attempts per key in one-second fixed
// windows. Entries from past windows are swept whenever the clock ticks
// over, so the map stays bounded by the number of keys active within the
// current second.
type MemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string]deliveryWindow
	sweptSec int64
}

// deliveryWindow is one key's consumption within a single second.
type deliveryWindow struct {
	startSec int64
	used     int
}

// NewMemoryLimiter constructs an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]deliveryWindow)}
}

// Allow consumes one slot from the key's current window. A limit of zero
// or less disables limiting for the key.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if sec != l.sweptSec {
		for k, w := range l.windows {
			if w.startSec != sec {
				delete(l.windows, k)
			}
		}
		l.sweptSec = sec
	}

	w, ok := l.windows[key]
	if !ok || w.startSec != sec {
		w = deliveryWindow{startSec: sec}
	}
	if w.used >= limit {
		l.windows[key] = w
		return Result{Allowed: false, Reset: reset}, nil
	}
	w.used++
	l.windows[key] = w
	return Result{Allowed: true, Remaining: limit - w.used, Reset: reset}, nil
}
