package lru

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestBasicGetPut(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("expected b=2, got %v %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss")
	}
}

func TestEviction(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // "b" becomes LRU

	evKey, evicted := c.Put("c", 3)
	if !evicted || evKey != "b" {
		t.Fatalf("expected eviction of b, got key=%v evicted=%v", evKey, evicted)
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected 'b' to be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestUpdateDoesNotEvict(t *testing.T) {
	c := New[string, int](1)
	c.Put("a", 1)
	if _, evicted := c.Put("a", 2); evicted {
		t.Fatal("update must not evict")
	}
	if v, _ := c.Get("a"); v != 2 {
		t.Fatalf("expected a=2, got %d", v)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[int64, string](10, WithTTL(time.Hour), WithClock(clock.Now))

	c.Put(1, "alice")
	clock.Advance(59 * time.Minute)
	if v, ok := c.Get(1); !ok || v != "alice" {
		t.Fatalf("expected live entry, got %q %v", v, ok)
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get(1); ok {
		t.Fatal("expected entry to expire at ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped on lookup, len=%d", c.Len())
	}
}

func TestPutRefreshesTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[int64, string](10, WithTTL(time.Hour), WithClock(clock.Now))

	c.Put(1, "alice")
	clock.Advance(50 * time.Minute)
	c.Put(1, "alice2")
	clock.Advance(50 * time.Minute)

	if v, ok := c.Get(1); !ok || v != "alice2" {
		t.Fatalf("expected refreshed entry, got %q %v", v, ok)
	}
}

func TestPurge(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[int, int](10, WithTTL(time.Minute), WithClock(clock.Now))

	c.Put(1, 1)
	c.Put(2, 2)
	clock.Advance(2 * time.Minute)
	c.Put(3, 3)

	if n := c.Purge(); n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected len 1, got %d", c.Len())
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)

	if !c.Delete("a") {
		t.Fatal("expected delete to report existing key")
	}
	if c.Delete("a") {
		t.Fatal("second delete should report missing key")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New[string, int](0)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[string, int](64, WithTTL(time.Minute))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%100)
				c.Put(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 64 {
		t.Fatalf("capacity exceeded: %d", c.Len())
	}
}
