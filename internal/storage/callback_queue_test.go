package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCallbackQueue_Lifecycle(t *testing.T) {
	q := NewMemoryCallbackQueue()
	defer q.Close()

	ctx := context.Background()

	id, err := q.Enqueue(ctx, QueuedCallback{
		UETR:              "7dc35f6c-23c5-4b1f-a45c-2b1e5c25e743",
		URL:               "https://psp.example.com/callbacks",
		TransactionStatus: "ACCC",
		Payload:           []byte("<Document/>"),
		Secret:            "whsec_test",
		MaxAttempts:       3,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected non-empty callback id")
	}

	// Claim flips pending to processing and counts the attempt.
	claimed, err := q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("Expected 1 claimed callback, got %d", len(claimed))
	}
	if claimed[0].Status != CallbackProcessing {
		t.Errorf("Expected processing status, got %s", claimed[0].Status)
	}
	if claimed[0].Attempts != 1 {
		t.Errorf("Expected attempts=1, got %d", claimed[0].Attempts)
	}

	// Nothing left to claim while the entry is processing.
	again, err := q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected no claimable callbacks, got %d", len(again))
	}

	// Failure with a future retry time goes back to pending.
	retryAt := time.Now().Add(2 * time.Second)
	if err := q.MarkFailed(ctx, id, "connection refused", retryAt); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	cb, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cb.Status != CallbackPending {
		t.Errorf("Expected pending after retryable failure, got %s", cb.Status)
	}
	if cb.LastError != "connection refused" {
		t.Errorf("Expected last error recorded, got %q", cb.LastError)
	}

	// Not yet due, so Claim skips it.
	notDue, err := q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(notDue) != 0 {
		t.Errorf("Expected no due callbacks before retry time, got %d", len(notDue))
	}
}

func TestMemoryCallbackQueue_ParkAndRequeue(t *testing.T) {
	q := NewMemoryCallbackQueue()
	defer q.Close()

	ctx := context.Background()

	id, err := q.Enqueue(ctx, QueuedCallback{
		UETR:              "9f0e8d7c-6b5a-4433-9211-00ffeeddccbb",
		URL:               "https://psp.example.com/callbacks",
		TransactionStatus: "RJCT",
		Payload:           []byte("<Document/>"),
		MaxAttempts:       3,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := q.Claim(ctx, 1); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	// Zero retry time parks the callback permanently.
	if err := q.MarkFailed(ctx, id, "max retries exhausted", time.Time{}); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	cb, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cb.Status != CallbackFailed {
		t.Errorf("Expected failed status, got %s", cb.Status)
	}
	if cb.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set when parked")
	}

	failed, err := q.List(ctx, CallbackFailed, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failed callback, got %d", len(failed))
	}

	// Requeue resets the attempt counter and makes it claimable again.
	if err := q.Requeue(ctx, id); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	cb, _ = q.Get(ctx, id)
	if cb.Status != CallbackPending || cb.Attempts != 0 {
		t.Errorf("Expected pending with attempts reset, got %s attempts=%d", cb.Status, cb.Attempts)
	}

	claimed, err := q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("Claim after requeue failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("Expected requeued callback to be claimable, got %d", len(claimed))
	}

	if err := q.MarkSuccess(ctx, id); err != nil {
		t.Fatalf("MarkSuccess failed: %v", err)
	}
	cb, _ = q.Get(ctx, id)
	if cb.Status != CallbackSuccess {
		t.Errorf("Expected success status, got %s", cb.Status)
	}
}

func TestMemoryCallbackQueue_NotFound(t *testing.T) {
	q := NewMemoryCallbackQueue()
	defer q.Close()

	ctx := context.Background()

	if _, err := q.Get(ctx, "cb_missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound from Get, got %v", err)
	}
	if err := q.MarkSuccess(ctx, "cb_missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound from MarkSuccess, got %v", err)
	}
	if err := q.Requeue(ctx, "cb_missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound from Requeue, got %v", err)
	}
	if err := q.Delete(ctx, "cb_missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound from Delete, got %v", err)
	}
}

func TestMemoryCallbackQueue_ClaimOrdersByDueTime(t *testing.T) {
	q := NewMemoryCallbackQueue()
	defer q.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	late, err := q.Enqueue(ctx, QueuedCallback{UETR: "late", URL: "https://a.example.com", NextAttemptAt: base.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("Enqueue late failed: %v", err)
	}
	early, err := q.Enqueue(ctx, QueuedCallback{UETR: "early", URL: "https://b.example.com", NextAttemptAt: base})
	if err != nil {
		t.Fatalf("Enqueue early failed: %v", err)
	}

	claimed, err := q.Claim(ctx, 1)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != early {
		t.Errorf("Expected earliest due callback %s first, got %+v", early, claimed)
	}

	claimed, err = q.Claim(ctx, 1)
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != late {
		t.Errorf("Expected remaining callback %s, got %+v", late, claimed)
	}
}
