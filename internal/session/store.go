// Package session maintains bounded, time-evicted conversation state per
// conversant.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/plumehq/plume/internal/config"
	"github.com/plumehq/plume/internal/thread"
)

// Session is one active conversation with a conversant. The transcript is
// populated once at creation from thread reconstruction; later turns live in
// the completion engine's own history for the session id.
type Session struct {
	ID           string
	ConversantID string
	ThreadRootID string
	LastActivity time.Time
	Transcript   []thread.Turn

	seq uint64
}

// Store maps conversant ids to their single active session. Access is
// mutex-protected: dispatch handling is sequential, but the sweep runs on an
// independent schedule.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	capacity int
	seq      uint64
	onEvict  func(sessionID string)
	now      func() time.Time
	logger   *slog.Logger
}

// NewStore creates a Store with the configured TTL and capacity.
func NewStore(log *slog.Logger, cfg config.SessionConfig) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		sessions: map[string]*Session{},
		ttl:      cfg.TTLDuration(),
		capacity: cfg.Capacity,
		now:      time.Now,
		logger:   log.With(slog.String("service", "session")),
	}
}

// SetEvictHook registers a callback fired with the session id of every
// removed session, so dependent state (engine history) can be dropped too.
func (s *Store) SetEvictHook(fn func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// SessionID derives the stable conversation id for a conversant/root pair.
func SessionID(conversantID, threadRootID string) string {
	return conversantID + "-" + threadRootID
}

// GetOrCreate returns the conversant's session for threadRootID, refreshing
// its last activity. When no session exists, or the detected root differs
// from the stored one, build is invoked to reconstruct the transcript and a
// fresh session replaces the entry; the second return value is then true.
func (s *Store) GetOrCreate(conversantID, threadRootID string, build func() []thread.Turn) (Session, bool) {
	s.mu.Lock()
	if existing, ok := s.sessions[conversantID]; ok && existing.ThreadRootID == threadRootID {
		if now := s.now(); now.After(existing.LastActivity) {
			existing.LastActivity = now
		}
		snapshot := *existing
		s.mu.Unlock()
		return snapshot, false
	}
	s.mu.Unlock()

	// Transcript reconstruction fetches over the network; keep it outside
	// the lock so the sweep is never blocked on I/O.
	var transcript []thread.Turn
	if build != nil {
		transcript = build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[conversantID]; ok {
		s.evictLocked(conversantID, old)
	}
	s.seq++
	created := &Session{
		ID:           SessionID(conversantID, threadRootID),
		ConversantID: conversantID,
		ThreadRootID: threadRootID,
		LastActivity: s.now(),
		Transcript:   transcript,
		seq:          s.seq,
	}
	s.sessions[conversantID] = created
	s.logger.Debug("session created",
		slog.String("session_id", created.ID),
		slog.Int("transcript_turns", len(transcript)))
	return *created, true
}

// Clear removes the conversant's session, if any.
func (s *Store) Clear(conversantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[conversantID]; ok {
		s.evictLocked(conversantID, old)
	}
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle longer than the TTL, then trims the store to
// capacity by ascending last activity (insertion order on ties).
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for conversantID, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.ttl {
			s.evictLocked(conversantID, sess)
			removed++
		}
	}

	if len(s.sessions) > s.capacity {
		ordered := make([]*Session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			ordered = append(ordered, sess)
		}
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].LastActivity.Equal(ordered[j].LastActivity) {
				return ordered[i].seq < ordered[j].seq
			}
			return ordered[i].LastActivity.Before(ordered[j].LastActivity)
		})
		for _, sess := range ordered {
			if len(s.sessions) <= s.capacity {
				break
			}
			s.evictLocked(sess.ConversantID, sess)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("session sweep",
			slog.Int("removed", removed),
			slog.Int("remaining", len(s.sessions)))
	}
}

func (s *Store) evictLocked(conversantID string, sess *Session) {
	delete(s.sessions, conversantID)
	if s.onEvict != nil {
		s.onEvict(sess.ID)
	}
}
