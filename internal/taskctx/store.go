// Package taskctx caches the latest known tree snapshot per session so a
// "what is happening right now" inquiry can be answered without replaying
// the progress stream. The cache is bounded and time-limited; it is not the
// source of truth for execution.
package taskctx

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ShayCichocki/maestro/pkg/models"
)

const (
	// DefaultTTL is how long a snapshot stays readable without updates.
	DefaultTTL = 30 * time.Minute
	// DefaultMaxEntries bounds the cache independent of TTL.
	DefaultMaxEntries = 1024
	// sweepInterval is how often the background sweep evicts stale entries.
	sweepInterval = 5 * time.Minute
)

// Snapshot is the cached view of one session's execution.
type Snapshot struct {
	// Description is the originating task description.
	Description string `json:"description,omitempty"`
	// Strategy is the chosen execution strategy.
	Strategy string `json:"strategy,omitempty"`
	// Status is the coarse session status (running, completed, error).
	Status string `json:"status,omitempty"`
	// Progress is the last reported completion percentage.
	Progress int `json:"progress"`
	// Breakdown is the latest tree snapshot, if a tree exists.
	Breakdown *models.Task `json:"breakdown,omitempty"`
	// Result is the final result once the session completed.
	Result string `json:"result,omitempty"`
	// LastUpdate is when the snapshot was last written.
	LastUpdate time.Time `json:"last_update"`
}

// Store is a TTL-bounded session snapshot cache.
//
// Writes merge into the existing entry: zero-valued fields inherit the
// previous snapshot, so partial updates never erase known state. Expired
// entries are swept by the underlying cache and additionally treated as
// absent on read.
type Store struct {
	mu       sync.Mutex
	cache    *expirable.LRU[string, Snapshot]
	ttl      time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a store with the given capacity and TTL. Zero values select
// the defaults. A background sweep evicts stale entries every five minutes,
// bounding memory independent of read traffic; call Stop to halt it.
func New(maxEntries int, ttl time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		cache: expirable.NewLRU[string, Snapshot](maxEntries, nil, ttl),
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Stop halts the background sweep. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep evicts entries whose last update is older than the TTL.
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.cache.Keys() {
		if snap, ok := s.cache.Peek(key); ok && s.now().Sub(snap.LastUpdate) > s.ttl {
			s.cache.Remove(key)
		}
	}
}

// Set merges the partial snapshot into any existing entry for the session
// and refreshes LastUpdate.
func (s *Store) Set(sessionID string, partial Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, _ := s.cache.Get(sessionID)
	if partial.Description != "" {
		merged.Description = partial.Description
	}
	if partial.Strategy != "" {
		merged.Strategy = partial.Strategy
	}
	if partial.Status != "" {
		merged.Status = partial.Status
	}
	if partial.Progress != 0 {
		merged.Progress = partial.Progress
	}
	if partial.Breakdown != nil {
		merged.Breakdown = partial.Breakdown
	}
	if partial.Result != "" {
		merged.Result = partial.Result
	}
	merged.LastUpdate = s.now()
	s.cache.Add(sessionID, merged)
}

// Get returns the snapshot for a session. A stale entry counts as absent
// and is evicted on the spot.
func (s *Store) Get(sessionID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.cache.Get(sessionID)
	if !ok {
		return Snapshot{}, false
	}
	if s.now().Sub(snap.LastUpdate) > s.ttl {
		s.cache.Remove(sessionID)
		return Snapshot{}, false
	}
	return snap, true
}

// Remove deletes a session's snapshot.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(sessionID)
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
