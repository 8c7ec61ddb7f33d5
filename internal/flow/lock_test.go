package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/chatflow-gateway/internal/kvstore"
)

func TestChatLocker_Serializes(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	a := NewChatLocker(kv, time.Minute)
	b := NewChatLocker(kv, time.Minute) // a second process

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		l := a
		if i%2 == 1 {
			l = b
		}
		go func(l *ChatLocker) {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "chat-1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}(l)
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d", maxInside)
	}
	if _, ok, _ := kv.Get(context.Background(), lockKeyPrefix+"chat-1"); ok {
		t.Fatal("lock key left behind")
	}
}

func TestChatLocker_TimeoutAndIndependentChats(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	l := NewChatLocker(kv, time.Minute)

	unlock, err := l.Lock(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "chat-1"); !errors.Is(err, ErrChatBusy) {
		t.Fatalf("expected ErrChatBusy, got %v", err)
	}
	other, err := l.Lock(context.Background(), "chat-2")
	if err != nil {
		t.Fatalf("other chat blocked: %v", err)
	}
	other()
	unlock()
	unlock() // idempotent

	again, err := l.Lock(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestChatLocker_ExpiredHolderIsReplaced(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	now := time.Now()
	kv.Now = func() time.Time { return now }
	crashed := NewChatLocker(kv, time.Second)
	if _, err := crashed.Lock(context.Background(), "chat-1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// The holder never unlocks; its key expires.
	now = now.Add(2 * time.Second)

	l := NewChatLocker(kv, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock, err := l.Lock(ctx, "chat-1")
	if err != nil {
		t.Fatalf("lock after expiry: %v", err)
	}
	unlock()
}
