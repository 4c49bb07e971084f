// Package history keeps a log of delivered transcriptions.
//
// Two stores implement [Store]: [Memory] for a single process and
// [Postgres] for a durable log shared across restarts.
package history

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Entry is one delivered transcript.
type Entry struct {
	ID        uuid.UUID
	SessionID string

	// Text is what was delivered to the user.
	Text string

	// RawText is the backend's transcript before correction.
	RawText string

	// Source names the backend that produced RawText. Corrected is false when
	// the correction pass was skipped or failed.
	Source    string
	Corrected bool

	DetectedLanguage types.LanguageCode
	UsedLanguage     types.LanguageCode

	CreatedAt time.Time
}

// Store persists entries. Implementations are safe for concurrent use.
type Store interface {
	// Append stores e. A zero ID or CreatedAt is filled in.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first. limit <= 0 means all.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

func prepare(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return e
}

// Memory is an in-process Store bounded to a maximum number of entries.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

var _ Store = (*Memory)(nil)

// NewMemory returns a Memory keeping at most limit entries; limit <= 0
// keeps everything.
func NewMemory(limit int) *Memory {
	return &Memory{max: limit}
}

// Append implements Store.
func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, prepare(e))
	if m.max > 0 && len(m.entries) > m.max {
		m.entries = slices.Delete(m.entries, 0, len(m.entries)-m.max)
	}
	return nil
}

// Recent implements Store.
func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.entries)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Clear implements Store.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}
