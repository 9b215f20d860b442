// Package progress provides the per-session progress event bus.
//
// The bus assigns a monotonic sequence id to every accepted event, drops
// exact back-to-back repeats, and refuses further events once a session
// emitted a terminal update.
package progress

import (
	"hash/fnv"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// Publisher is the emit-side contract. The orchestrator and supervisor
// depend on this rather than on the concrete bus so a distributed
// deployment can swap in a shared implementation.
type Publisher interface {
	Emit(update models.ProgressUpdate)
}

// subscriberBuffer is the per-subscriber channel capacity. A slow subscriber
// loses events rather than stalling the execution loop.
const subscriberBuffer = 64

// session holds the bus-side state for one session id.
//
// seq and terminal survive CleanupSession so a reused session id can never
// restart numbering or resurrect a finished stream.
type session struct {
	seq      uint64
	lastHash uint64
	hasLast  bool
	terminal bool
	subs     []chan models.ProgressUpdate
}

// Bus is the in-process Publisher implementation with channel fan-out.
type Bus struct {
	mu           sync.Mutex
	sessions     map[string]*session
	droppedCount atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{sessions: make(map[string]*session)}
}

// Emit assigns a sequence id to the update and delivers it to every
// subscriber of the session.
//
// The update is dropped silently when it exactly repeats the previous
// (type, message, progress) triple for the session, or when the session is
// already terminal. A completed/error update marks the session terminal.
func (b *Bus) Emit(update models.ProgressUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.ensureLocked(update.SessionID)
	if s.terminal {
		return
	}

	h := updateHash(update)
	if s.hasLast && h == s.lastHash {
		return
	}

	s.seq++
	update.Seq = s.seq
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	s.lastHash = h
	s.hasLast = true

	if update.Type.Terminal() {
		s.terminal = true
		// The dedup hash has no further use once the session is closed.
		s.lastHash = 0
		s.hasLast = false
	}

	for _, ch := range s.subs {
		select {
		case ch <- update:
		default:
			count := b.droppedCount.Add(1)
			if count%10 == 1 { // Log every 10th drop to avoid spam.
				log.Printf("[progress] WARNING: subscriber buffer full, dropped event (total dropped: %d): type=%s", count, update.Type)
			}
		}
	}
}

// Subscribe registers a new observer for the session and returns its channel
// together with an unsubscribe function. Multiple observers per session are
// supported; each receives every subsequent event.
func (b *Bus) Subscribe(sessionID string) (<-chan models.ProgressUpdate, func()) {
	ch := make(chan models.ProgressUpdate, subscriberBuffer)

	b.mu.Lock()
	s := b.ensureLocked(sessionID)
	s.subs = append(s.subs, ch)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			s, ok := b.sessions[sessionID]
			if !ok {
				return
			}
			for i, sub := range s.subs {
				if sub == ch {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(s.subs)
}

// LastSeq returns the last sequence id assigned for a session, 0 when none.
func (b *Bus) LastSeq(sessionID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return 0
	}
	return s.seq
}

// CleanupSession drops the subscriber list for a session. The sequence
// counter and terminal flag are retained to protect against session-id
// reuse.
func (b *Bus) CleanupSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[sessionID]; ok {
		s.subs = nil
	}
}

// DroppedCount returns the total number of events dropped on full buffers.
func (b *Bus) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

func (b *Bus) ensureLocked(sessionID string) *session {
	s, ok := b.sessions[sessionID]
	if !ok {
		s = &session{}
		b.sessions[sessionID] = s
	}
	return s
}

// updateHash computes the cheap dedup hash over the fields that define an
// observable repeat.
func updateHash(u models.ProgressUpdate) uint64 {
	h := fnv.New64a()
	h.Write([]byte(u.Type))
	h.Write([]byte{0})
	h.Write([]byte(u.Message))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(u.Progress)))
	return h.Sum64()
}
