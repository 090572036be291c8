package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

func cachedResponse(body string) *Response {
	return &Response{
		StatusCode: http.StatusCreated,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(body),
		CachedAt:   time.Now(),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, found := store.Get(ctx, "absent"); found {
		t.Error("Get reported a hit for an absent key")
	}

	if err := store.Set(ctx, "k1", cachedResponse(`{"quoteId":"q-1"}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found := store.Get(ctx, "k1")
	if !found {
		t.Fatal("Get missed a fresh entry")
	}
	if string(got.Body) != `{"quoteId":"q-1"}` {
		t.Errorf("body = %s, want the cached payload", got.Body)
	}
	if got.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", got.StatusCode, http.StatusCreated)
	}

	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found := store.Get(ctx, "k1"); found {
		t.Error("Get reported a hit after Delete")
	}
	if err := store.Delete(ctx, "k1"); err != nil {
		t.Errorf("Delete of an absent key: %v", err)
	}
}

func TestMemoryStoreExpiration(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "short", cachedResponse("{}"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found := store.Get(ctx, "short"); !found {
		t.Fatal("entry missing before its TTL")
	}

	time.Sleep(25 * time.Millisecond)

	if _, found := store.Get(ctx, "short"); found {
		t.Error("entry survived past its TTL")
	}
}

func TestMemoryStoreUpdateRefreshesTTL(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", cachedResponse("v1"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "k", cachedResponse("v2"), time.Hour); err != nil {
		t.Fatalf("Set update: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	got, found := store.Get(ctx, "k")
	if !found {
		t.Fatal("updated entry expired on the old TTL")
	}
	if string(got.Body) != "v2" {
		t.Errorf("body = %s, want v2", got.Body)
	}
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store := NewMemoryStoreWithSize(3)
	t.Cleanup(store.Stop)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("k%d", i)
		if err := store.Set(ctx, key, cachedResponse(key), time.Hour); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	// Touch k1 so k2 becomes the coldest entry.
	if _, found := store.Get(ctx, "k1"); !found {
		t.Fatal("k1 missing before eviction")
	}

	if err := store.Set(ctx, "k4", cachedResponse("k4"), time.Hour); err != nil {
		t.Fatalf("Set k4: %v", err)
	}

	if _, found := store.Get(ctx, "k2"); found {
		t.Error("k2 survived, expected it to be evicted")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if _, found := store.Get(ctx, key); !found {
			t.Errorf("%s evicted, expected it to survive", key)
		}
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStoreWithSize(64)
	t.Cleanup(store.Stop)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i%10)
				store.Set(ctx, key, cachedResponse(key), time.Hour)
				store.Get(ctx, key)
				if i%7 == 0 {
					store.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()
}
