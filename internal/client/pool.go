package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// DefaultPoolCapacity caps resident sessions when no limit is configured.
const DefaultPoolCapacity = 10

// resident is a live in-memory session: a turn engine or an external-surface
// session. It can snapshot itself for persistence and release its local
// resources.
type resident interface {
	Serialize() *types.ChatSession
	Cleanup() error
}

type poolEntry struct {
	live       resident
	lastAccess time.Time
}

// pool is the residency map for live sessions, keyed by session id, with
// least-recently-used eviction. It is the only code that adds or removes
// entries; eviction always persists the victim's state before dropping it.
type pool struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*poolEntry
	persist  func(ctx context.Context, record *types.ChatSession) error
	now      func() time.Time
}

func newPool(capacity int, persist func(ctx context.Context, record *types.ChatSession) error) *pool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &pool{
		capacity: capacity,
		entries:  make(map[string]*poolEntry),
		persist:  persist,
		now:      time.Now,
	}
}

// get returns the resident session and refreshes its access time.
func (p *pool) get(id string) (resident, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[id]
	if !ok {
		return nil, false
	}
	entry.lastAccess = p.now()
	return entry.live, true
}

// put registers a live session, evicting the least recently used resident
// first if the pool is full.
func (p *pool) put(ctx context.Context, id string, live resident) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[id]; !ok && len(p.entries) >= p.capacity {
		if err := p.evictOldestLocked(ctx); err != nil {
			return err
		}
	}
	p.entries[id] = &poolEntry{live: live, lastAccess: p.now()}
	return nil
}

// remove drops a session from the pool without persisting. Callers that need
// the state saved persist before calling.
func (p *pool) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}

func (p *pool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// evictOldestLocked persists and releases the entry with the oldest access
// time. Persistence failure aborts the eviction so no unsaved state is lost.
func (p *pool) evictOldestLocked(ctx context.Context) error {
	var oldestID string
	var oldest time.Time
	for id, entry := range p.entries {
		if oldestID == "" || entry.lastAccess.Before(oldest) {
			oldestID = id
			oldest = entry.lastAccess
		}
	}
	if oldestID == "" {
		return nil
	}

	entry := p.entries[oldestID]
	if err := p.persist(ctx, entry.live.Serialize()); err != nil {
		return fmt.Errorf("failed to persist session %s before eviction: %w", oldestID, err)
	}
	if err := entry.live.Cleanup(); err != nil {
		logging.Warn().Err(err).Str("session", oldestID).Msg("cleanup failed during eviction")
	}
	delete(p.entries, oldestID)
	logging.Debug().Str("session", oldestID).Msg("session evicted from pool")
	return nil
}
