package payment

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAttemptStore_EnforcesBudget(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store := NewMemoryAttemptStore(10, time.Minute)

	for i := 0; i < 10; i++ {
		ok, err := store.Allow(context.Background(), "70112233", now)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("attempt %d should pass", i+1)
		}
		now = now.Add(time.Second)
	}

	ok, err := store.Allow(context.Background(), "70112233", now)
	if err != nil {
		t.Fatalf("11th attempt: %v", err)
	}
	if ok {
		t.Fatalf("11th attempt within the window should be refused")
	}

	// Another number has its own budget.
	ok, err = store.Allow(context.Background(), "70999999", now)
	if err != nil {
		t.Fatalf("other number: %v", err)
	}
	if !ok {
		t.Fatalf("other number must not share the budget")
	}
}

func TestMemoryAttemptStore_WindowSlides(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store := NewMemoryAttemptStore(2, time.Minute)

	for i := 0; i < 2; i++ {
		if ok, _ := store.Allow(context.Background(), "70112233", now); !ok {
			t.Fatalf("attempt %d should pass", i+1)
		}
	}
	if ok, _ := store.Allow(context.Background(), "70112233", now.Add(30*time.Second)); ok {
		t.Fatalf("expected refusal inside the window")
	}

	// Past the window the earlier attempts fall out.
	if ok, _ := store.Allow(context.Background(), "70112233", now.Add(61*time.Second)); !ok {
		t.Fatalf("expected the budget to recover after the window")
	}
}

func TestMemoryAttemptStore_RefusalDoesNotConsume(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store := NewMemoryAttemptStore(1, time.Minute)

	if ok, _ := store.Allow(context.Background(), "70112233", now); !ok {
		t.Fatalf("first attempt should pass")
	}
	// Refused attempts must not push the recovery point further out.
	for i := 0; i < 5; i++ {
		if ok, _ := store.Allow(context.Background(), "70112233", now.Add(30*time.Second)); ok {
			t.Fatalf("expected refusal")
		}
	}
	if ok, _ := store.Allow(context.Background(), "70112233", now.Add(61*time.Second)); !ok {
		t.Fatalf("budget should recover exactly one window after the recorded attempt")
	}
}

func TestMemoryAttemptStore_HonorsContext(t *testing.T) {
	store := NewMemoryAttemptStore(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Allow(ctx, "70112233", time.Now()); err == nil {
		t.Fatalf("expected context error")
	}
}
