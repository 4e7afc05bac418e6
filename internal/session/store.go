package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-agent/parley/internal/memory"
)

// StoreConfig configures a session store.
type StoreConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Defaults      Config         // configuration for new sessions
	MemoryOpts    memory.Options // memory construction parameters

	// OnEvict, if set, is called for each evicted session ID. It runs
	// outside the store lock.
	OnEvict func(id string)
}

// Store is a TTL-bounded, concurrency-safe session store. The
// identity map is guarded by its own lock; each session carries an
// independent execution lock, so operations on unrelated sessions
// never contend.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg    StoreConfig
	logger *slog.Logger
}

// NewStore creates a session store.
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger.With("component", "session"),
	}
}

// ResolveOrCreate returns the live session for id, creating one when
// id is empty, unknown, or expired. The supplied identity is reused
// for the fresh session so callers keep a stable token; with no
// identity a new one is generated. The second return reports whether a
// new session was created.
func (s *Store) ResolveOrCreate(id string) (*Session, bool) {
	now := time.Now()

	if id != "" {
		s.mu.RLock()
		sess, ok := s.sessions[id]
		live := ok && now.Sub(sess.lastInteraction) <= s.cfg.TTL
		s.mu.RUnlock()
		if live {
			return sess, false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		// Re-check under the write lock so two concurrent requests for
		// the same identity converge on one session.
		if sess, ok := s.sessions[id]; ok {
			if now.Sub(sess.lastInteraction) <= s.cfg.TTL {
				return sess, false
			}
			delete(s.sessions, id)
			s.logger.Info("session expired on access", "session_id", id)
		}
	} else {
		id = uuid.NewString()
	}

	sess := s.newSession(id, now)
	s.sessions[id] = sess
	s.logger.Info("session created", "session_id", id, "memory_kind", sess.Config.MemoryKind)
	return sess, true
}

func (s *Store) newSession(id string, now time.Time) *Session {
	cfg := s.cfg.Defaults
	cfg.Tools = slices.Clone(cfg.Tools)
	mem, err := memory.New(cfg.MemoryKind, s.cfg.MemoryOpts)
	if err != nil {
		// Unknown default kind is a deployment bug; fall back to buffer.
		s.logger.Error("invalid default memory kind, using buffer", "kind", cfg.MemoryKind, "error", err)
		cfg.MemoryKind = memory.KindBuffer
		mem = memory.NewBuffer(s.cfg.MemoryOpts.MaxTurns)
	}
	return &Session{
		ID:              id,
		CreatedAt:       now,
		Config:          cfg,
		Memory:          mem,
		lastInteraction: now,
	}
}

// get returns the live session for id or a NotFoundError.
func (s *Store) get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	var last time.Time
	if ok {
		last = sess.lastInteraction
	}
	s.mu.RUnlock()

	if !ok || time.Since(last) > s.cfg.TTL {
		return nil, &NotFoundError{ID: id}
	}
	return sess, nil
}

// Touch refreshes the session's last-interaction timestamp. The
// timestamp never moves backwards.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if now := time.Now(); now.After(sess.lastInteraction) {
		sess.lastInteraction = now
	}
	return nil
}

// ApplyConfigUpdate merges the supplied fields into the session's
// configuration and returns the effective result. A memory-kind change
// swaps the memory instance, converting retained turns; switching away
// from summary memory keeps only the raw tail. The update runs under
// the session's execution lock so it cannot interleave with an
// exchange.
func (s *Store) ApplyConfigUpdate(ctx context.Context, id string, update ConfigUpdate) (Config, error) {
	sess, err := s.get(id)
	if err != nil {
		return Config{}, err
	}

	sess.Lock()
	defer sess.Unlock()

	if update.Model != nil {
		sess.Config.Model = *update.Model
	}
	if update.Temperature != nil {
		sess.Config.Temperature = *update.Temperature
	}
	if update.Tools != nil {
		sess.Config.Tools = slices.Clone(*update.Tools)
	}
	if update.MemoryKind != nil {
		kind, err := memory.ParseKind(*update.MemoryKind)
		if err != nil {
			return Config{}, err
		}
		if kind != sess.Config.MemoryKind {
			mem, err := memory.Convert(ctx, sess.Memory, kind, s.cfg.MemoryOpts)
			if err != nil {
				return Config{}, err
			}
			sess.Memory = mem
			sess.Config.MemoryKind = kind
			s.logger.Info("session memory strategy swapped", "session_id", id, "kind", kind)
		}
	}

	cfg := sess.Config
	cfg.Tools = slices.Clone(cfg.Tools)
	return cfg, nil
}

// Snapshot returns a read-only view of the session, including its
// retained history.
func (s *Store) Snapshot(id string) (Snapshot, error) {
	sess, err := s.get(id)
	if err != nil {
		return Snapshot{}, err
	}

	sess.Lock()
	cfg := sess.Config
	cfg.Tools = slices.Clone(cfg.Tools)
	history := sess.Memory.Turns()
	sess.Unlock()

	s.mu.RLock()
	last := sess.lastInteraction
	s.mu.RUnlock()

	return Snapshot{
		ID:              sess.ID,
		CreatedAt:       sess.CreatedAt,
		LastInteraction: last,
		Config:          cfg,
		History:         history,
	}, nil
}

// Delete removes a session regardless of expiry.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return &NotFoundError{ID: id}
	}
	delete(s.sessions, id)
	return nil
}

// Len reports the number of stored sessions, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictExpired removes all sessions idle longer than the TTL and
// returns how many were evicted. A session whose execution lock is
// held is skipped; the next sweep will catch it.
func (s *Store) EvictExpired() int {
	now := time.Now()

	s.mu.Lock()
	var evicted []string
	for id, sess := range s.sessions {
		if now.Sub(sess.lastInteraction) <= s.cfg.TTL {
			continue
		}
		if !sess.exec.TryLock() {
			continue // exchange in flight
		}
		sess.exec.Unlock()
		delete(s.sessions, id)
		evicted = append(evicted, id)
	}
	s.mu.Unlock()

	for _, id := range evicted {
		s.logger.Info("session evicted", "session_id", id)
		if s.cfg.OnEvict != nil {
			s.cfg.OnEvict(id)
		}
	}
	return len(evicted)
}

// Run sweeps expired sessions periodically until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictExpired(); n > 0 {
				s.logger.Debug("sweep complete", "evicted", n)
			}
		}
	}
}
