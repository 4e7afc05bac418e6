package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestCreateAndValidate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	plaintext, key, err := s.Create(ctx, []string{ScopeChat, ScopeSessions}, time.Hour, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		t.Errorf("key must carry the %s prefix, got %q", KeyPrefix, plaintext)
	}
	if !strings.Contains(plaintext, key.ID) {
		t.Error("key string must embed the key ID")
	}

	validated, err := s.Validate(ctx, plaintext, ScopeChat)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.ID != key.ID {
		t.Errorf("unexpected key ID: %q", validated.ID)
	}
	if validated.RequestCount != 1 {
		t.Errorf("expected request count 1 after validation, got %d", validated.RequestCount)
	}
}

func TestValidateRejectsBadKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	plaintext, key, err := s.Create(ctx, []string{ScopeChat}, time.Hour, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"missing prefix", strings.TrimPrefix(plaintext, KeyPrefix)},
		{"no separator", KeyPrefix + key.ID},
		{"wrong secret", KeyPrefix + key.ID + ".bm90LXRoZS1zZWNyZXQ"},
		{"unknown id", KeyPrefix + "00000000-0000-0000-0000-000000000000.c2VjcmV0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Validate(ctx, tt.key, ScopeChat); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestValidateScope(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	plaintext, _, _ := s.Create(ctx, []string{ScopeChat}, time.Hour, 100)

	if _, err := s.Validate(ctx, plaintext, ScopeAdmin); !errors.Is(err, ErrScopeDenied) {
		t.Errorf("expected ErrScopeDenied, got %v", err)
	}
	if _, err := s.Validate(ctx, plaintext, ScopeChat); err != nil {
		t.Errorf("chat scope should pass: %v", err)
	}
}

func TestValidateExpiry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	plaintext, _, _ := s.Create(ctx, []string{ScopeChat}, time.Millisecond, 100)
	time.Sleep(5 * time.Millisecond)

	if _, err := s.Validate(ctx, plaintext, ScopeChat); !errors.Is(err, ErrKeyExpired) {
		t.Errorf("expected ErrKeyExpired, got %v", err)
	}
}

func TestValidateRateLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	plaintext, _, _ := s.Create(ctx, []string{ScopeChat}, time.Hour, 2)

	for i := 0; i < 2; i++ {
		if _, err := s.Validate(ctx, plaintext, ScopeChat); err != nil {
			t.Fatalf("validation %d: %v", i, err)
		}
	}
	if _, err := s.Validate(ctx, plaintext, ScopeChat); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	plaintext, key, _ := s.Create(ctx, []string{ScopeChat}, time.Hour, 100)

	if err := s.Revoke(ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Validate(ctx, plaintext, ScopeChat); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("revoked key must be invalid, got %v", err)
	}
	if err := s.Revoke(ctx, key.ID); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("double revoke should report invalid key, got %v", err)
	}
}

func TestListNeverExposesSecrets(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	plaintext, _, _ := s.Create(ctx, []string{ScopeChat}, time.Hour, 100)
	_, secret, _ := strings.Cut(strings.TrimPrefix(plaintext, KeyPrefix), ".")

	keys, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	for _, k := range keys {
		if strings.Contains(strings.Join(k.Scopes, ","), secret) || k.ID == secret {
			t.Error("secret leaked into listing")
		}
	}
}
