package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fundlift/identity"
)

func seed(t *testing.T, s *Store) *identity.Identity {
	t.Helper()
	ident := &identity.Identity{
		Email:        "alice@example.com",
		Username:     "alice",
		Role:         identity.RoleUser,
		Provider:     identity.ProviderLocal,
		PasswordHash: "$argon2id$stub",
	}
	if err := s.Create(context.Background(), ident); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return ident
}

func TestCreateAssignsIDAndRejectsDuplicates(t *testing.T) {
	s := NewStore()
	ident := seed(t, s)
	if ident.ID == "" {
		t.Fatal("Create must assign an id")
	}

	dup := &identity.Identity{Email: "ALICE@example.com", Username: "other"}
	if err := s.Create(context.Background(), dup); !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email, got %v", err)
	}
	dup = &identity.Identity{Email: "other@example.com", Username: "Alice"}
	if err := s.Create(context.Background(), dup); !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for username, got %v", err)
	}
}

func TestFindByIdentifier(t *testing.T) {
	s := NewStore()
	ident := seed(t, s)
	ctx := context.Background()

	for _, identifier := range []string{"alice@example.com", "Alice@Example.COM", "alice", "ALICE"} {
		got, err := s.FindByIdentifier(ctx, identifier)
		if err != nil {
			t.Fatalf("FindByIdentifier(%q) failed: %v", identifier, err)
		}
		if got.ID != ident.ID {
			t.Fatalf("FindByIdentifier(%q) = %s, want %s", identifier, got.ID, ident.ID)
		}
	}

	if _, err := s.FindByIdentifier(ctx, "nobody"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoginCounters(t *testing.T) {
	s := NewStore()
	ident := seed(t, s)
	ctx := context.Background()
	now := time.Now()

	for want := 1; want <= 3; want++ {
		retries, err := s.RecordLoginFailure(ctx, ident.ID, now)
		if err != nil {
			t.Fatalf("RecordLoginFailure failed: %v", err)
		}
		if retries != want {
			t.Fatalf("retries = %d, want %d", retries, want)
		}
	}

	digest := []byte("digest-1")
	if err := s.RecordLoginSuccess(ctx, ident.ID, digest, now); err != nil {
		t.Fatalf("RecordLoginSuccess failed: %v", err)
	}

	got, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.LoginRetries != 0 || !got.LastFailedLogin.IsZero() {
		t.Fatalf("counters not reset: %+v", got)
	}
	if string(got.RefreshDigest) != string(digest) {
		t.Fatal("refresh digest not installed")
	}
	if !got.LastLogin.Equal(now) {
		t.Fatalf("LastLogin = %v, want %v", got.LastLogin, now)
	}
}

func TestSwapRefreshDigest(t *testing.T) {
	s := NewStore()
	ident := seed(t, s)
	ctx := context.Background()

	if err := s.RecordLoginSuccess(ctx, ident.ID, []byte("old"), time.Now()); err != nil {
		t.Fatalf("RecordLoginSuccess failed: %v", err)
	}

	swapped, err := s.SwapRefreshDigest(ctx, ident.ID, []byte("old"), []byte("new"))
	if err != nil || !swapped {
		t.Fatalf("SwapRefreshDigest = %v, %v", swapped, err)
	}
	// The old digest no longer matches.
	swapped, err = s.SwapRefreshDigest(ctx, ident.ID, []byte("old"), []byte("newer"))
	if err != nil {
		t.Fatalf("SwapRefreshDigest failed: %v", err)
	}
	if swapped {
		t.Fatal("swap with stale digest must fail")
	}
}

func TestConsumePasswordResetToken(t *testing.T) {
	s := NewStore()
	ident := seed(t, s)
	ctx := context.Background()
	now := time.Now()

	hash := []byte("reset-hash")
	if err := s.SetFlowToken(ctx, ident.ID, identity.TokenPasswordReset, hash, now.Add(time.Hour)); err != nil {
		t.Fatalf("SetFlowToken failed: %v", err)
	}
	if err := s.RecordLoginSuccess(ctx, ident.ID, []byte("digest"), now); err != nil {
		t.Fatalf("RecordLoginSuccess failed: %v", err)
	}

	// The digest only consumes for its own identity.
	if _, err := s.ConsumePasswordResetToken(ctx, "someone-else", hash, "$argon2id$new", now); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign id, got %v", err)
	}

	got, err := s.ConsumePasswordResetToken(ctx, ident.ID, hash, "$argon2id$new", now)
	if err != nil {
		t.Fatalf("ConsumePasswordResetToken failed: %v", err)
	}
	if got.PasswordHash != "$argon2id$new" {
		t.Fatal("password hash not replaced")
	}
	if len(got.RefreshDigest) != 0 {
		t.Fatal("consume must revoke the live session")
	}

	// Single use.
	if _, err := s.ConsumePasswordResetToken(ctx, ident.ID, hash, "$argon2id$again", now); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second consume, got %v", err)
	}
}

func TestConsumeExpiredToken(t *testing.T) {
	s := NewStore()
	ident := seed(t, s)
	ctx := context.Background()

	hash := []byte("verify-hash")
	if err := s.SetFlowToken(ctx, ident.ID, identity.TokenVerification, hash, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SetFlowToken failed: %v", err)
	}
	if _, err := s.ConsumeVerificationToken(ctx, hash); !errors.Is(err, identity.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestMarkDeletedAndRestore(t *testing.T) {
	s := NewStore()
	ident := seed(t, s)
	ctx := context.Background()
	now := time.Now()

	hash := []byte("restore-hash")
	if err := s.MarkDeleted(ctx, ident.ID, hash, now.Add(24*time.Hour), now); err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}

	got, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if !got.Deleted || len(got.RefreshDigest) != 0 {
		t.Fatalf("deletion state wrong: %+v", got)
	}

	restored, err := s.ConsumeRestoreToken(ctx, hash)
	if err != nil {
		t.Fatalf("ConsumeRestoreToken failed: %v", err)
	}
	if restored.Deleted || !restored.DeletedAt.IsZero() {
		t.Fatalf("restore did not lift deletion: %+v", restored)
	}
}

func TestClonesDoNotShareState(t *testing.T) {
	s := NewStore()
	ident := seed(t, s)
	ctx := context.Background()

	got, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	got.Email = "mutated@example.com"
	got.TwoFactor.Enabled = true

	again, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if again.Email != "alice@example.com" || again.TwoFactor.Enabled {
		t.Fatal("store state leaked through returned copy")
	}
}
