// Package auth manages API keys: issuance, validation, scoping, and
// daily rate limiting. Key secrets are stored bcrypt-hashed; the full
// key is shown exactly once at creation.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix starts every issued API key.
const KeyPrefix = "pk_"

// Common scopes.
const (
	ScopeChat     = "chat"
	ScopeSessions = "sessions"
	ScopeAdmin    = "admin"
)

var (
	// ErrInvalidKey covers malformed, unknown, and revoked keys.
	ErrInvalidKey = errors.New("invalid API key")
	// ErrKeyExpired is returned for a known key past its expiry.
	ErrKeyExpired = errors.New("API key expired")
	// ErrScopeDenied is returned when the key lacks the required scope.
	ErrScopeDenied = errors.New("API key lacks required scope")
	// ErrRateLimited is returned when the key's daily budget is spent.
	ErrRateLimited = errors.New("API key rate limit exceeded")
)

// Key is the stored metadata for one API key. The secret itself is
// never retrievable.
type Key struct {
	ID           string    `json:"key_id"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	RateLimit    int       `json:"rate_limit"`
	RequestCount int       `json:"request_count"`
}

// HasScope reports whether the key carries the scope.
func (k *Key) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Store is a SQLite-backed API key store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore creates a key store on the given database connection. The
// schema is created automatically.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate auth schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS api_keys (
		key_id        TEXT PRIMARY KEY,
		secret_hash   TEXT NOT NULL,
		scopes        TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		expires_at    TEXT NOT NULL,
		rate_limit    INTEGER NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0,
		last_reset    TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create issues a new API key with the given scopes, lifetime, and
// daily request budget. It returns the full key string, which cannot
// be recovered later.
func (s *Store) Create(ctx context.Context, scopes []string, ttl time.Duration, rateLimit int) (string, *Key, error) {
	if len(scopes) == 0 {
		scopes = []string{ScopeChat}
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if rateLimit <= 0 {
		rateLimit = 100
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generate key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key secret: %w", err)
	}

	now := time.Now()
	key := &Key{
		ID:        uuid.NewString(),
		Scopes:    scopes,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		RateLimit: rateLimit,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys
			(key_id, secret_hash, scopes, created_at, expires_at, rate_limit, request_count, last_reset)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		key.ID, string(hash), strings.Join(scopes, ","),
		now.UTC().Format(time.RFC3339),
		key.ExpiresAt.UTC().Format(time.RFC3339),
		rateLimit,
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert API key: %w", err)
	}

	return KeyPrefix + key.ID + "." + secret, key, nil
}

// Validate checks an API key string against the store: format, secret,
// expiry, scope, and daily rate limit. A successful validation counts
// against the key's budget.
func (s *Store) Validate(ctx context.Context, apiKey, scope string) (*Key, error) {
	rest, ok := strings.CutPrefix(apiKey, KeyPrefix)
	if !ok {
		return nil, ErrInvalidKey
	}
	keyID, secret, ok := strings.Cut(rest, ".")
	if !ok || keyID == "" || secret == "" {
		return nil, ErrInvalidKey
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT secret_hash, scopes, created_at, expires_at, rate_limit, request_count, last_reset
		 FROM api_keys WHERE key_id = ?`, keyID)

	var secretHash, scopesStr, createdAt, expiresAt, lastReset string
	var rateLimit, requestCount int
	err := row.Scan(&secretHash, &scopesStr, &createdAt, &expiresAt, &rateLimit, &requestCount, &lastReset)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("query API key: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)) != nil {
		return nil, ErrInvalidKey
	}

	key := &Key{
		ID:           keyID,
		Scopes:       strings.Split(scopesStr, ","),
		RateLimit:    rateLimit,
		RequestCount: requestCount,
	}
	key.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	key.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)

	now := time.Now()
	if now.After(key.ExpiresAt) {
		return nil, ErrKeyExpired
	}
	if scope != "" && !key.HasScope(scope) {
		return nil, ErrScopeDenied
	}

	// Daily rate window: reset the counter once 24h have passed.
	reset, _ := time.Parse(time.RFC3339, lastReset)
	if now.Sub(reset) > 24*time.Hour {
		key.RequestCount = 0
		reset = now
	}
	if key.RequestCount >= key.RateLimit {
		return nil, ErrRateLimited
	}

	key.RequestCount++
	_, err = s.db.ExecContext(ctx,
		`UPDATE api_keys SET request_count = ?, last_reset = ? WHERE key_id = ?`,
		key.RequestCount, reset.UTC().Format(time.RFC3339), keyID)
	if err != nil {
		return nil, fmt.Errorf("update API key counters: %w", err)
	}

	return key, nil
}

// Revoke removes a key by ID.
func (s *Store) Revoke(ctx context.Context, keyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE key_id = ?`, keyID)
	if err != nil {
		return fmt.Errorf("revoke API key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidKey
	}
	return nil
}

// List returns metadata for all keys, newest first.
func (s *Store) List(ctx context.Context) ([]*Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_id, scopes, created_at, expires_at, rate_limit, request_count
		 FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		var key Key
		var scopesStr, createdAt, expiresAt string
		if err := rows.Scan(&key.ID, &scopesStr, &createdAt, &expiresAt, &key.RateLimit, &key.RequestCount); err != nil {
			return nil, fmt.Errorf("scan API key: %w", err)
		}
		key.Scopes = strings.Split(scopesStr, ",")
		key.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		key.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}
