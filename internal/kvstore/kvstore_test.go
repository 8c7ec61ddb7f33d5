package kvstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// harness binds a Store to a way of advancing its clock.
type harness struct {
	store   Store
	advance func(time.Duration)
}

func memoryHarness(t *testing.T) harness {
	t.Helper()
	m := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	m.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return harness{store: m, advance: func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}}
}

func redisHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return harness{store: s, advance: mr.FastForward}
}

func forEachStore(t *testing.T, fn func(t *testing.T, h harness)) {
	t.Run("memory", func(t *testing.T) { fn(t, memoryHarness(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, redisHarness(t)) })
}

func TestSetNX_OnceThenExpire(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		ok, err := h.store.SetNX(ctx, "webhook:dedup:k", "1", 10*time.Minute)
		if err != nil || !ok {
			t.Fatalf("first SetNX = %v, %v", ok, err)
		}
		ok, _ = h.store.SetNX(ctx, "webhook:dedup:k", "1", 10*time.Minute)
		if ok {
			t.Fatalf("second SetNX must fail while key lives")
		}
		h.advance(10*time.Minute + time.Second)
		ok, _ = h.store.SetNX(ctx, "webhook:dedup:k", "1", 10*time.Minute)
		if !ok {
			t.Fatalf("SetNX after expiry should succeed")
		}
	})
}

func TestGetDelCompareAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		if _, ok, _ := h.store.Get(ctx, "missing"); ok {
			t.Fatalf("missing key reported present")
		}
		_, _ = h.store.SetNX(ctx, "lock:chat:1", "owner-a", time.Minute)
		if v, ok, err := h.store.Get(ctx, "lock:chat:1"); err != nil || !ok || v != "owner-a" {
			t.Fatalf("Get = %q, %v, %v", v, ok, err)
		}
		if ok, _ := h.store.CompareAndDelete(ctx, "lock:chat:1", "owner-b"); ok {
			t.Fatalf("foreign owner must not release the lock")
		}
		if ok, _ := h.store.CompareAndDelete(ctx, "lock:chat:1", "owner-a"); !ok {
			t.Fatalf("owner should release the lock")
		}
		_, _ = h.store.SetNX(ctx, "k", "v", 0)
		if err := h.store.Del(ctx, "k"); err != nil {
			t.Fatalf("Del: %v", err)
		}
		if _, ok, _ := h.store.Get(ctx, "k"); ok {
			t.Fatalf("key survived Del")
		}
		if err := h.store.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

func TestIncrWithin_LimitAndWindow(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		for i := int64(1); i <= 3; i++ {
			n, ok, err := h.store.IncrWithin(ctx, "ratelimit:ip:1", 3, time.Minute)
			if err != nil || !ok || n != i {
				t.Fatalf("hit %d = %d, %v, %v", i, n, ok, err)
			}
		}
		n, ok, _ := h.store.IncrWithin(ctx, "ratelimit:ip:1", 3, time.Minute)
		if ok || n != 3 {
			t.Fatalf("over-limit hit = %d, %v; want 3,false", n, ok)
		}
		h.advance(time.Minute + time.Second)
		n, ok, _ = h.store.IncrWithin(ctx, "ratelimit:ip:1", 3, time.Minute)
		if !ok || n != 1 {
			t.Fatalf("after window = %d, %v; want 1,true", n, ok)
		}
	})
}

func TestMemoryStore_SweepAndClose(t *testing.T) {
	h := memoryHarness(t)
	m := h.store.(*MemoryStore)
	ctx := context.Background()
	_, _ = m.SetNX(ctx, "a", "1", time.Second)
	_, _ = m.SetNX(ctx, "b", "1", time.Hour)
	h.advance(2 * time.Second)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep dropped %d; want 1", n)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d; want 1", m.Len())
	}
	_ = m.Close()
	if _, err := m.SetNX(ctx, "c", "1", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := m.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Ping, got %v", err)
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisStore(ctx, RedisOptions{Addr: addr}); err == nil {
		t.Fatalf("expected ping error for closed server")
	}
}

func TestNewRedisStoreFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()
	if ok, err := s.SetNX(context.Background(), "x", "y", time.Second); err != nil || !ok {
		t.Fatalf("SetNX = %v, %v", ok, err)
	}
	if !mr.Exists("x") {
		t.Fatalf("key not written to server")
	}
}
