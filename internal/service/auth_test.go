package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zabefest/platform/internal/model"
	"github.com/zabefest/platform/internal/repository"
)

func newTestAuth(t *testing.T) (*AuthService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := NewAuthService(store.Users(), "zab-efest", "test-signing-key", time.Hour)
	return svc, store
}

func TestRegisterLoginParseRoundTrip(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ayesha", "Ayesha@Example.com", "hunter2-hunter2", model.RoleRegistrationTeam)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Email != "ayesha@example.com" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if user.PasswordHash == "hunter2-hunter2" {
		t.Error("password stored in plaintext")
	}

	token, logged, err := svc.Login(ctx, "ayesha@example.com", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if logged.ID != user.ID {
		t.Error("login returned a different account")
	}

	claims, err := svc.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Role != model.RoleRegistrationTeam || claims.Email != "ayesha@example.com" || claims.Subject != user.ID {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Ayesha", "ayesha@example.com", "hunter2-hunter2", model.RoleAdmin); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, _, err := svc.Login(ctx, "ayesha@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "hunter2-hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "X", "x@example.com", "short", model.RoleAdmin); err == nil {
		t.Error("expected error for short password")
	}
	if _, err := svc.Register(ctx, "X", "x@example.com", "long-enough-pass", "superuser"); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := svc.Register(ctx, "", "x@example.com", "long-enough-pass", model.RoleAdmin); err == nil {
		t.Error("expected error for empty name")
	}

	if _, err := svc.Register(ctx, "X", "x@example.com", "long-enough-pass", model.RoleAdmin); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Register(ctx, "Y", "X@EXAMPLE.COM", "long-enough-pass", model.RoleAdmin); !errors.Is(err, repository.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey for reused email, got %v", err)
	}
}

func TestParseRejectsForgedToken(t *testing.T) {
	svc, store := newTestAuth(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Ayesha", "ayesha@example.com", "hunter2-hunter2", model.RoleAdmin); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token, _, err := svc.Login(ctx, "ayesha@example.com", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	other := NewAuthService(store.Users(), "zab-efest", "different-key", time.Hour)
	if _, err := other.Parse(token); err == nil {
		t.Error("expected signature verification failure")
	}

	wrongIssuer := NewAuthService(store.Users(), "someone-else", "test-signing-key", time.Hour)
	if _, err := wrongIssuer.Parse(token); err == nil {
		t.Error("expected issuer mismatch")
	}
}

func TestEnsureAdminSeedsOnce(t *testing.T) {
	svc, store := newTestAuth(t)
	ctx := context.Background()

	if err := svc.EnsureAdmin(ctx, "admin@example.com", "bootstrap-pass"); err != nil {
		t.Fatalf("EnsureAdmin failed: %v", err)
	}
	count, _ := store.Users().Count(ctx)
	if count != 1 {
		t.Fatalf("expected one seeded account, got %d", count)
	}

	// Second call is a no-op once accounts exist.
	if err := svc.EnsureAdmin(ctx, "other@example.com", "bootstrap-pass"); err != nil {
		t.Fatalf("EnsureAdmin second call failed: %v", err)
	}
	count, _ = store.Users().Count(ctx)
	if count != 1 {
		t.Fatalf("expected still one account, got %d", count)
	}

	// Unset seed credentials disable seeding entirely.
	empty, _ := newTestAuth(t)
	if err := empty.EnsureAdmin(ctx, "", ""); err != nil {
		t.Fatalf("EnsureAdmin with empty seed failed: %v", err)
	}
}
