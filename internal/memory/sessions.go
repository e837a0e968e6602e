package memory

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santosobot/santoso/internal/events"
)

// consolidateTimeout bounds one background archive write.
const consolidateTimeout = 2 * time.Minute

// Sessions maps session keys to their History and owns the
// consolidation policy: once a history grows past twice the window,
// the oldest entries beyond half a window are archived and dropped.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*History
	running  map[string]bool

	window   int
	archiver Archiver
	events   *events.Bus
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewSessions creates a session map. archiver may be nil, in which
// case history is never consolidated.
func NewSessions(window int, archiver Archiver, bus *events.Bus, logger *slog.Logger) *Sessions {
	if window <= 0 {
		window = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		sessions: make(map[string]*History),
		running:  make(map[string]bool),
		window:   window,
		archiver: archiver,
		events:   bus,
		logger:   logger.With("component", "memory"),
	}
}

// Window returns the number of entries kept in context.
func (s *Sessions) Window() int { return s.window }

// Get returns the history for key, creating it on first use.
func (s *Sessions) Get(key string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.sessions[key]
	if !ok {
		h = NewHistory()
		s.sessions[key] = h
	}
	return h
}

// Keys returns the known session keys, sorted.
func (s *Sessions) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// NeedsConsolidation reports whether the session is over its limit.
func (s *Sessions) NeedsConsolidation(key string) bool {
	return s.archiver != nil && s.Get(key).Len() > 2*s.window
}

// MaybeConsolidate starts a background consolidation for key when it
// is over the limit and none is already running for it. It returns
// whether one was started. Failures are logged, never returned.
func (s *Sessions) MaybeConsolidate(key string) bool {
	if !s.NeedsConsolidation(key) {
		return false
	}

	s.mu.Lock()
	if s.running[key] {
		s.mu.Unlock()
		return false
	}
	s.running[key] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, key)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), consolidateTimeout)
		defer cancel()
		if _, err := s.Consolidate(ctx, key); err != nil {
			s.logger.Warn("history consolidation failed", "session", key, "error", err)
		}
	}()
	return true
}

// Consolidate archives and drops the oldest len - window/2 entries of
// key. When no archiver stored the block the history is left untouched
// so the next trigger retries. When only some did, the entries are
// still dropped, since a retry would write the block twice to the ones
// that succeeded. It returns the number of entries removed.
func (s *Sessions) Consolidate(ctx context.Context, key string) (int, error) {
	if s.archiver == nil {
		return 0, nil
	}
	h := s.Get(key)
	n := h.Len() - s.window/2
	if n <= 0 {
		return 0, nil
	}

	oldest := h.Oldest(n)
	text := FormatEntries(oldest)
	if text != "" {
		if err := s.archiver.Append(WithSession(ctx, key), text); err != nil {
			var te *TeeError
			if !errors.As(err, &te) || !te.Partial() {
				return 0, err
			}
			s.logger.Warn("history archived with failures", "session", key, "error", err)
		}
	}
	h.DropFront(len(oldest))

	s.logger.Info("history consolidated", "session", key, "archived", len(oldest), "kept", h.Len())
	s.events.Emit(events.SourceMemory, events.KindConsolidated, map[string]any{
		"session": key,
		"entries": len(oldest),
	})
	return len(oldest), nil
}

// Wait blocks until background consolidations finish.
func (s *Sessions) Wait() {
	s.wg.Wait()
}
