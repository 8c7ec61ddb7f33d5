package flow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/chatflow-gateway/internal/kvstore"
)

const lockKeyPrefix = "lock:chat:"

// ChatLocker serializes work per chat. Callers in one process queue on a
// local semaphore; across processes the holder owns a KV key with a TTL so a
// crashed holder cannot wedge the chat.
type ChatLocker struct {
	kv    kvstore.Store
	ttl   time.Duration
	retry time.Duration

	mu    sync.Mutex
	local map[string]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

// NewChatLocker returns a locker whose KV keys expire after ttl.
func NewChatLocker(kv kvstore.Store, ttl time.Duration) *ChatLocker {
	return &ChatLocker{
		kv:    kv,
		ttl:   ttl,
		retry: 25 * time.Millisecond,
		local: make(map[string]*localLock),
	}
}

func (l *ChatLocker) ref(chatID string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll, ok := l.local[chatID]
	if !ok {
		ll = &localLock{sem: make(chan struct{}, 1)}
		l.local[chatID] = ll
	}
	ll.refs++
	return ll
}

func (l *ChatLocker) unref(chatID string, ll *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll.refs--
	if ll.refs == 0 {
		delete(l.local, chatID)
	}
}

// Lock blocks until the chat is held or ctx ends. The returned func
// releases it and is safe to call once.
func (l *ChatLocker) Lock(ctx context.Context, chatID string) (func(), error) {
	ll := l.ref(chatID)
	select {
	case ll.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(chatID, ll)
		return nil, ErrChatBusy
	}

	key := lockKeyPrefix + chatID
	token := uuid.NewString()
	held := false
	for {
		ok, err := l.kv.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			// Shared store unavailable: the local semaphore still serializes
			// this process.
			log.Warn().Err(err).Str("component", "flow").Str("chat_id", chatID).Msg("chat lock store error; continuing with local lock")
			break
		}
		if ok {
			held = true
			break
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			<-ll.sem
			l.unref(chatID, ll)
			return nil, ErrChatBusy
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if held {
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if _, err := l.kv.CompareAndDelete(rctx, key, token); err != nil {
					log.Warn().Err(err).Str("component", "flow").Str("chat_id", chatID).Msg("chat lock release failed; key will expire")
				}
				cancel()
			}
			<-ll.sem
			l.unref(chatID, ll)
		})
	}, nil
}
