// Package session owns per-conversation state: identity, configuration,
// memory, and timestamps, with TTL-based eviction.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/parley-agent/parley/internal/memory"
)

// Config is a session's effective configuration.
type Config struct {
	Model       string      `json:"model"`
	Temperature float64     `json:"temperature"`
	Tools       []string    `json:"tools"`
	MemoryKind  memory.Kind `json:"memory_kind"`
}

// ConfigUpdate is a partial configuration change. Nil fields are left
// untouched.
type ConfigUpdate struct {
	Model       *string   `json:"model,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Tools       *[]string `json:"tools,omitempty"`
	MemoryKind  *string   `json:"memory_kind,omitempty"`
}

// Session is the state for one conversation. Config and Memory are
// guarded by the execution lock; timestamps are guarded by the store.
type Session struct {
	ID        string
	CreatedAt time.Time

	Config Config
	Memory memory.Memory

	lastInteraction time.Time
	exec            sync.Mutex
}

// Lock acquires the session's execution lock. Exchanges on the same
// session serialize through it; the store will not evict a locked
// session.
func (s *Session) Lock() { s.exec.Lock() }

// Unlock releases the execution lock.
func (s *Session) Unlock() { s.exec.Unlock() }

// NotFoundError reports an operation on an unknown or expired session.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

// Snapshot is a read-only view of a session for inspection.
type Snapshot struct {
	ID              string        `json:"session_id"`
	CreatedAt       time.Time     `json:"created_at"`
	LastInteraction time.Time     `json:"last_interaction"`
	Config          Config        `json:"config"`
	History         []memory.Turn `json:"history"`
}
