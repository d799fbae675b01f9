package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrFetchStoresResult(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		val, err := c.GetOrFetch(context.Background(), "k", fetch)
		if err != nil {
			t.Fatalf("GetOrFetch: %v", err)
		}
		if val != "value" {
			t.Fatalf("expected 'value', got %v", val)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 fetch, got %d", calls)
	}
}

func TestExpiredEntryRefetched(t *testing.T) {
	c := New(time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	if _, err := c.GetOrFetch(context.Background(), "k", fetch); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	now = now.Add(61 * time.Second)
	val, err := c.GetOrFetch(context.Background(), "k", fetch)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if val != 2 {
		t.Errorf("expected refetched value 2, got %v", val)
	}
}

func TestErrorsNotCached(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return "ok", nil
	}

	if _, err := c.GetOrFetch(context.Background(), "k", fetch); err == nil {
		t.Fatal("expected first fetch to fail")
	}
	val, err := c.GetOrFetch(context.Background(), "k", fetch)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected 'ok', got %v", val)
	}
}

func TestInFlightCollapse(t *testing.T) {
	c := New(time.Minute)
	var fetches atomic.Int64
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		fetches.Add(1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, err := c.GetOrFetch(context.Background(), "k", fetch)
			if err != nil {
				t.Errorf("goroutine %d: %v", i, err)
				return
			}
			results[i] = val
		}(i)
	}

	// Give the waiters time to pile onto the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := fetches.Load(); n != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", n)
	}
	for i, val := range results {
		if val != "shared" {
			t.Errorf("goroutine %d got %v", i, val)
		}
	}
}

func TestWaiterContextCancelled(t *testing.T) {
	c := New(time.Minute)
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	go func() {
		c.GetOrFetch(context.Background(), "k", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "late", nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrFetch(ctx, "k", func(ctx context.Context) (any, error) {
		t.Error("waiter should not fetch")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClearDropsEntriesAndInFlightResults(t *testing.T) {
	c := New(time.Minute)
	if _, err := c.GetOrFetch(context.Background(), "a", func(ctx context.Context) (any, error) {
		return 1, nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.GetOrFetch(context.Background(), "b", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return 2, nil
		})
	}()
	<-started

	c.Clear()
	close(release)
	<-done

	if c.Len() != 0 {
		t.Errorf("expected empty cache after clear, got %d entries", c.Len())
	}
	if _, ok := c.Peek("b"); ok {
		t.Error("fetch settled after Clear must not be stored")
	}
}
