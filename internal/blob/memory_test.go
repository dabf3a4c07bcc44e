package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/runledger/runledger/internal/model"
)

func TestMemory_PutGetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "runs/t1/r1/turns/x.json", []byte(`{"a":1}`), "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := m.Get(ctx, "runs/t1/r1/turns/x.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("got %q", data)
	}
}

func TestMemory_OverwriteIsSafe(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Put(ctx, "k", []byte("same content"), "application/json"); err != nil {
			t.Fatalf("Put attempt %d: %v", i, err)
		}
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 object after repeated puts, got %d", m.Len())
	}
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ListPrefix(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Put(ctx, "runs/t1/r1/turns/b.json", []byte("b"), "application/json")
	m.Put(ctx, "runs/t1/r1/turns/a.json", []byte("a"), "application/json")
	m.Put(ctx, "runs/t1/r2/turns/c.json", []byte("c"), "application/json")

	keys, err := m.ListPrefix(ctx, "runs/t1/r1/turns/")
	if err != nil {
		t.Fatalf("ListPrefix: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
	if keys[0] != "runs/t1/r1/turns/a.json" || keys[1] != "runs/t1/r1/turns/b.json" {
		t.Errorf("keys not sorted: %v", keys)
	}
}

func TestMemory_TierTransitions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Put(ctx, "k", []byte("x"), "application/json")

	tier, err := m.Tier(ctx, "k")
	if err != nil || tier != model.TierHot {
		t.Fatalf("expected hot tier, got %v, %v", tier, err)
	}

	if err := m.SetTier(ctx, "k", model.TierCool); err != nil {
		t.Fatalf("SetTier: %v", err)
	}
	// Re-applying the same tier must be a no-op, not an error.
	if err := m.SetTier(ctx, "k", model.TierCool); err != nil {
		t.Fatalf("SetTier repeat: %v", err)
	}

	tier, _ = m.Tier(ctx, "k")
	if tier != model.TierCool {
		t.Errorf("expected cool tier, got %v", tier)
	}
}

func TestMemory_FailPutInjection(t *testing.T) {
	m := NewMemory()
	injected := errors.New("store unavailable")
	m.FailPut = func(key string) error { return injected }

	if err := m.Put(context.Background(), "k", []byte("x"), "application/json"); !errors.Is(err, injected) {
		t.Errorf("expected injected error, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("failed put must not mutate state")
	}
}
