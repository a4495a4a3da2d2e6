package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)
	key := DeliveryKey(42)

	for i := 0; i < 3; i++ {
		result, errAllow := limiter.Allow(context.Background(), key, 3, now)
		if errAllow != nil {
			t.Fatalf("allow %d: %v", i, errAllow)
		}
		if !result.Allowed {
			t.Fatalf("request %d within limit must be allowed", i)
		}
		if result.Remaining != 3-i-1 {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 3-i-1, result.Remaining)
		}
	}

	result, errAllow := limiter.Allow(context.Background(), key, 3, now)
	if errAllow != nil {
		t.Fatalf("allow over limit: %v", errAllow)
	}
	if result.Allowed {
		t.Fatalf("request over limit must be denied")
	}

	// The next second opens a fresh window.
	result, errAllow = limiter.Allow(context.Background(), key, 3, now.Add(time.Second))
	if errAllow != nil {
		t.Fatalf("allow next window: %v", errAllow)
	}
	if !result.Allowed {
		t.Fatalf("new window must reset the counter")
	}
}

func TestMemoryLimiter_ZeroLimitAllowsAll(t *testing.T) {
	limiter := NewMemoryLimiter()
	result, errAllow := limiter.Allow(context.Background(), DeliveryKey(1), 0, time.Now())
	if errAllow != nil {
		t.Fatalf("allow: %v", errAllow)
	}
	if !result.Allowed {
		t.Fatalf("zero limit disables the limiter")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)

	if result, _ := limiter.Allow(context.Background(), DeliveryKey(1), 1, now); !result.Allowed {
		t.Fatalf("first key must be allowed")
	}
	if result, _ := limiter.Allow(context.Background(), DeliveryKey(1), 1, now); result.Allowed {
		t.Fatalf("first key must be exhausted")
	}
	if result, _ := limiter.Allow(context.Background(), DeliveryKey(2), 1, now); !result.Allowed {
		t.Fatalf("second key must have its own window")
	}
}
