package challenge

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr
}

func testRecord() *Record {
	sum := sha256.Sum256([]byte("483921"))
	return &Record{
		IdentityID: "id-42",
		Purpose:    PurposeLogin,
		Method:     MethodEmail,
		CodeHash:   sum[:],
		ExpiresAt:  time.Now().Add(5 * time.Minute).Unix(),
		Identifier: "alice@example.com",
		IP:         "203.0.113.7",
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	want := testRecord()
	if err := store.Save(ctx, "ch-1", want, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "ch-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.IdentityID != want.IdentityID || got.Purpose != want.Purpose || got.Method != want.Method {
		t.Fatalf("record = %+v, want %+v", got, want)
	}
	if got.Identifier != want.Identifier || got.IP != want.IP {
		t.Fatalf("attempt origin did not round-trip: %+v", got)
	}
	if string(got.CodeHash) != string(want.CodeHash) {
		t.Fatal("code hash did not round-trip")
	}
}

func TestGetMissing(t *testing.T) {
	store, _ := testStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetExpired(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	record := testRecord()
	record.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, "ch-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "ch-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	// Expired records are removed on read.
	if _, err := store.Get(ctx, "ch-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after cleanup, got %v", err)
	}
}

func TestDeleteIsSingleUse(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "ch-1", testRecord(), 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	existed, err := store.Delete(ctx, "ch-1")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	existed, err = store.Delete(ctx, "ch-1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if existed {
		t.Fatal("second delete must report the challenge as gone")
	}
}

func TestRecordFailureBudget(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "ch-1", testRecord(), 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.RecordFailure(ctx, "ch-1", 3); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if err := store.RecordFailure(ctx, "ch-1", 3); err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if err := store.RecordFailure(ctx, "ch-1", 3); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}
	// Exhausted challenges are deleted.
	if _, err := store.Get(ctx, "ch-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after exhaustion, got %v", err)
	}
}

func TestRecordFailureMissing(t *testing.T) {
	store, _ := testStore(t)
	if err := store.RecordFailure(context.Background(), "nope", 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordRoundTripWithoutCodeHash(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	record := testRecord()
	record.Method = MethodApp
	record.CodeHash = nil
	if err := store.Save(ctx, "ch-app", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "ch-app")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Method != MethodApp || len(got.CodeHash) != 0 {
		t.Fatalf("record = %+v", got)
	}
}
