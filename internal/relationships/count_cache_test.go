package relationships

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stubCounter struct {
	mu     sync.Mutex
	counts map[string]int
	calls  int
}

func (s *stubCounter) CountEdges(_ context.Context, _ Kind, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.counts[userID], nil
}

func TestCachingCounterServesFreshEntries(t *testing.T) {
	base := &stubCounter{counts: map[string]int{"user-a": 3}}
	cache := NewCachingCounter(base, time.Minute)
	now := time.Date(2025, time.September, 1, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		count, err := cache.CountEdges(context.Background(), KindFriend, "user-a")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 3 {
			t.Fatalf("expected 3 got %d", count)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected one base call got %d", base.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.CountEdges(context.Background(), KindFriend, "user-a"); err != nil {
		t.Fatalf("count after expiry: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected expired entry to be refreshed, got %d calls", base.calls)
	}
}

func TestCachingCounterObserveInvalidates(t *testing.T) {
	base := &stubCounter{counts: map[string]int{"user-a": 1, "user-b": 1}}
	cache := NewCachingCounter(base, time.Hour)
	ctx := context.Background()

	for _, id := range []string{"user-a", "user-b"} {
		if _, err := cache.CountEdges(ctx, KindFriend, id); err != nil {
			t.Fatalf("count: %v", err)
		}
	}

	cache.Observe(Change{Kind: KindFriend, Transition: TransitionRequestSent, Users: [2]string{"user-a", "user-b"}})
	if _, err := cache.CountEdges(ctx, KindFriend, "user-a"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected request_sent to keep the cache, got %d calls", base.calls)
	}

	base.counts["user-a"] = 0
	cache.Observe(Change{Kind: KindFriend, Transition: TransitionEdgeRemoved, Users: [2]string{"user-a", "user-b"}})
	count, err := cache.CountEdges(ctx, KindFriend, "user-a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 || base.calls != 3 {
		t.Fatalf("expected refreshed count 0 after removal, got %d with %d calls", count, base.calls)
	}
}

func TestServiceUsesCachingCounter(t *testing.T) {
	store := NewInMemoryStore()
	cache := NewCachingCounter(store, time.Hour)
	svc := NewService(store, ServiceConfig{Counter: cache, Notifier: observerFunc(cache.Observe)})
	ctx := context.Background()

	if count, err := svc.EdgeCount(ctx, KindFriend, "user-a", "user-a"); err != nil || count != 0 {
		t.Fatalf("expected 0 got %d (%v)", count, err)
	}

	request, err := svc.SendRequest(ctx, KindFriend, "user-a", "user-b", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.AcceptRequest(ctx, KindFriend, request.ID, "user-b"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if count, err := svc.EdgeCount(ctx, KindFriend, "user-a", "user-a"); err != nil || count != 1 {
		t.Fatalf("expected 1 after accept got %d (%v)", count, err)
	}
}

type observerFunc func(Change)

func (f observerFunc) Publish(_ context.Context, change Change) { f(change) }
