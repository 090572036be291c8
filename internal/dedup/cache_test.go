package dedup

import (
	"fmt"
	"testing"
	"time"
)

func TestKeySeparatesDigests(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := Key("uetr-1", at, "digest-a")
	b := Key("uetr-1", at, "digest-b")
	if a == b {
		t.Error("expected different digests to produce different keys")
	}
	if a != Key("uetr-1", at, "digest-a") {
		t.Error("expected key construction to be deterministic")
	}
}

func TestCacheGetSet(t *testing.T) {
	c := NewWithSize(10)
	defer c.Stop()

	key := Key("uetr-1", time.Now(), "digest")
	if _, ok := c.Get(key); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set(key, &CachedAck{UETR: "uetr-1", TransactionStatus: "ACCC", Body: []byte(`{"uetr":"uetr-1"}`)}, time.Minute)

	ack, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if ack.TransactionStatus != "ACCC" {
		t.Errorf("expected ACCC, got %s", ack.TransactionStatus)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewWithSize(10)
	defer c.Stop()

	key := Key("uetr-1", time.Now(), "digest")
	c.Set(key, &CachedAck{UETR: "uetr-1"}, 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewWithSize(3)
	defer c.Stop()

	at := time.Now()
	for i := 0; i < 3; i++ {
		c.Set(Key(fmt.Sprintf("uetr-%d", i), at, "d"), &CachedAck{}, time.Minute)
	}

	// Touch uetr-0 so uetr-1 becomes the eviction candidate.
	if _, ok := c.Get(Key("uetr-0", at, "d")); !ok {
		t.Fatal("expected uetr-0 present")
	}

	c.Set(Key("uetr-3", at, "d"), &CachedAck{}, time.Minute)

	if _, ok := c.Get(Key("uetr-1", at, "d")); ok {
		t.Error("expected uetr-1 evicted")
	}
	if _, ok := c.Get(Key("uetr-0", at, "d")); !ok {
		t.Error("expected uetr-0 retained")
	}
	if c.Len() != 3 {
		t.Errorf("expected size clamped at 3, got %d", c.Len())
	}
}
