package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entry struct {
	score   int64
	payload []byte
}

type userLog struct {
	entries   []entry // ascending by score, then payload
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments and tests.
// It mirrors the sorted set semantics of RedisStore, including member
// uniqueness (appending an identical payload moves it to the new score) and
// tie order (entries with equal scores sort by payload, so trimming drops the
// lexicographically smallest first).
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu   sync.Mutex
	logs map[string]*userLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts: opts.withDefaults(),
		now:  time.Now,
		logs: make(map[string]*userLog),
	}
}

// SetClock replaces the time source. Used by tests to step through expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Append(_ context.Context, uid string, payload []byte, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	log := s.live(uid, now)
	if log == nil {
		log = &userLog{}
		s.logs[uid] = log
	}

	p := string(payload)
	for i, e := range log.entries {
		if string(e.payload) == p {
			log.entries = append(log.entries[:i], log.entries[i+1:]...)
			break
		}
	}
	e := entry{score: ts, payload: append([]byte(nil), payload...)}
	// Equal scores order by payload bytes, as in a Redis sorted set.
	i := sort.Search(len(log.entries), func(i int) bool {
		e := log.entries[i]
		return e.score > ts || (e.score == ts && string(e.payload) > p)
	})
	log.entries = append(log.entries, entry{})
	copy(log.entries[i+1:], log.entries[i:])
	log.entries[i] = e

	log.expiresAt = now.Add(s.opts.TTL)
	if extra := len(log.entries) - s.opts.Len; extra > 0 {
		log.entries = append([]entry(nil), log.entries[extra:]...)
	}
	return nil
}

func (s *MemoryStore) Replay(_ context.Context, uid string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.live(uid, s.now())
	if log == nil {
		return [][]byte{}, nil
	}
	entries := log.entries
	if len(entries) > s.opts.ReplayWindow {
		entries = entries[len(entries)-s.opts.ReplayWindow:]
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = append([]byte(nil), e.payload...)
	}
	return out, nil
}

// Sweep drops every expired collection and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for uid, log := range s.logs {
		if !now.Before(log.expiresAt) {
			delete(s.logs, uid)
			n++
		}
	}
	return n
}

// live returns the log for uid, dropping it first if it has expired.
func (s *MemoryStore) live(uid string, now time.Time) *userLog {
	log, ok := s.logs[uid]
	if !ok {
		return nil
	}
	if !now.Before(log.expiresAt) {
		delete(s.logs, uid)
		return nil
	}
	return log
}
