package approval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/verdictlabs/verdict/model"
)

func testOutcome() model.DecisionOutcome {
	return model.DecisionOutcome{
		ItemID:   "item-1",
		Domain:   model.DomainSubmission,
		Status:   model.StatusApproved,
		Decision: model.DecisionApprove,
		RecordID: "rec-1",
	}
}

func TestMemoryIdempotencyStore(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := FormatIdempotencyKey(model.DomainSubmission, "item-1", "key-1")

	if _, found, err := store.Check(ctx, key, "hash-a"); err != nil || found {
		t.Fatalf("Check() on empty store = found %v, err %v", found, err)
	}

	if err := store.Store(ctx, key, "hash-a", testOutcome(), time.Minute); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	cached, found, err := store.Check(ctx, key, "hash-a")
	if err != nil || !found {
		t.Fatalf("Check() after Store = found %v, err %v", found, err)
	}
	if cached.RecordID != "rec-1" {
		t.Errorf("cached record = %q, want rec-1", cached.RecordID)
	}

	// Same key, different input hash.
	_, _, err = store.Check(ctx, key, "hash-b")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("hash mismatch error = %v, want ErrorEnvelope", err)
	}
	if env.Code != model.ErrConflict {
		t.Errorf("code = %q, want %q", env.Code, model.ErrConflict)
	}
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()
	key := FormatIdempotencyKey(model.DomainSubmission, "item-1", "key-1")

	if _, found, err := store.Check(ctx, key, "hash-a"); err != nil || found {
		t.Fatalf("Check() on empty store = found %v, err %v", found, err)
	}

	if err := store.Store(ctx, key, "hash-a", testOutcome(), time.Minute); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	cached, found, err := store.Check(ctx, key, "hash-a")
	if err != nil || !found {
		t.Fatalf("Check() after Store = found %v, err %v", found, err)
	}
	if cached.Status != model.StatusApproved {
		t.Errorf("cached status = %q, want approved", cached.Status)
	}

	_, _, err = store.Check(ctx, key, "hash-b")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("hash mismatch error = %v, want ErrorEnvelope", err)
	}
	if env.Code != model.ErrConflict {
		t.Errorf("code = %q, want %q", env.Code, model.ErrConflict)
	}

	// TTL expiry.
	mr.FastForward(2 * time.Minute)
	if _, found, err := store.Check(ctx, key, "hash-a"); err != nil || found {
		t.Errorf("Check() after TTL = found %v, err %v, want miss", found, err)
	}
}
