package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"layerdeck/internal/blob/core"
)

func TestStoreStampsWithClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	s := NewWithClock(clock)
	ctx := context.Background()

	info, err := s.Put(ctx, "a/b", bytes.NewReader([]byte("one")), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !info.LastModified.Equal(clock.Now()) {
		t.Fatalf("last modified %v, want %v", info.LastModified, clock.Now())
	}
	clock.Advance(time.Minute)
	info2, _ := s.Put(ctx, "a/b", bytes.NewReader([]byte("two")), core.PutOptions{})
	if info2.LastModified.Sub(info.LastModified) != time.Minute {
		t.Fatalf("expected overwrite to restamp, got %v", info2.LastModified)
	}
	if info.ETag == info2.ETag {
		t.Fatal("etag should follow content")
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	md := map[string]string{"k": "v"}
	if _, err := s.Put(ctx, "key", bytes.NewReader([]byte("data")), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["k"] = "changed"

	info, rc, err := s.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	b[0] = 'X'
	info.Metadata["k"] = "mutated"

	head, _ := s.Head(ctx, "key")
	if head.Metadata["k"] != "v" {
		t.Fatalf("metadata leaked: %v", head.Metadata)
	}
	_, rc, _ = s.Get(ctx, "key")
	again, _ := io.ReadAll(rc)
	if string(again) != "data" {
		t.Fatalf("content leaked: %q", again)
	}
}

func TestStoreCancelledPut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Put(ctx, "k", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStoreCleansKeys(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Put(ctx, "a//b/./c", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Head(ctx, "a/b/c"); err != nil {
		t.Fatalf("cleaned key not found: %v", err)
	}
	if _, err := s.Delete(ctx, ""); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}
