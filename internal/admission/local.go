package admission

import (
	"context"
	"sync"
	"time"
)

type localWindow struct {
	count int64
	start time.Time
}

type localLedger struct {
	total    float64
	expireAt time.Time
}

// LocalStore is the in-process approximation of the shared store, used
// when Redis is unreachable. Same day-keying, same atomic contract;
// correctness degrades from cluster-wide to instance-local.
type LocalStore struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*localWindow
	ledgers map[string]*localLedger
}

func NewLocalStore() *LocalStore {
	return &LocalStore{
		now:     time.Now,
		windows: make(map[string]*localWindow),
		ledgers: make(map[string]*localLedger),
	}
}

func (s *LocalStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= window {
		// Stale windows self-reset on next use; no eviction needed.
		w = &localWindow{start: now}
		s.windows[key] = w
	}
	w.count++
	return w.count, nil
}

func (s *LocalStore) ledger(key DayKey) *localLedger {
	l, ok := s.ledgers[key.String()]
	if ok && !l.expireAt.IsZero() && !s.now().Before(l.expireAt) {
		delete(s.ledgers, key.String())
		ok = false
	}
	if !ok {
		return nil
	}
	return l
}

func (s *LocalStore) ReadCost(_ context.Context, key DayKey) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l := s.ledger(key); l != nil {
		return l.total, nil
	}
	return 0, nil
}

func (s *LocalStore) AddCost(_ context.Context, key DayKey, amount, ceiling float64, expireAt time.Time) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ledger(key)
	current := 0.0
	if l != nil {
		current = l.total
	}
	if ceiling > 0 && current+amount > ceiling {
		return false, current, nil
	}
	if l == nil {
		l = &localLedger{expireAt: expireAt}
		s.ledgers[key.String()] = l
	}
	l.total += amount
	return true, l.total, nil
}
