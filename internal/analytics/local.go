package analytics

import (
	"context"
	"fmt"
	"sync"

	"github.com/axiomhq/hyperloglog"
)

type localDay struct {
	questions   int64
	tokens      int64
	costJPY     float64
	hits        int64
	zeroHits    int64
	feedbackYes int64
	feedbackNo  int64
	clients     *hyperloglog.Sketch
	topChunks   map[string]int64
}

// LocalSink is the in-process counterpart of the Redis sink, used when
// the shared backend is down. The distinct-client estimate uses the
// same kind of probabilistic sketch Redis provides with PFADD.
type LocalSink struct {
	mu   sync.Mutex
	days map[string]*localDay
}

func NewLocalSink() *LocalSink {
	return &LocalSink{days: make(map[string]*localDay)}
}

func (s *LocalSink) day(tenantID int, day string) *localDay {
	key := fmt.Sprintf("%s:%d", day, tenantID)
	d, ok := s.days[key]
	if !ok {
		d = &localDay{
			clients:   hyperloglog.New14(),
			topChunks: make(map[string]int64),
		}
		s.days[key] = d
	}
	return d
}

func (s *LocalSink) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.day(ev.TenantID, ev.Day)
	d.questions++
	d.tokens += int64(ev.Tokens)
	d.costJPY += ev.CostJPY
	if ev.ClientID != "" {
		d.clients.Insert([]byte(ev.ClientID))
	}
	if ev.Hit {
		d.hits++
	} else {
		d.zeroHits++
	}
	for _, id := range ev.UsedChunks {
		d.topChunks[id]++
	}
	return nil
}

func (s *LocalSink) RecordFeedback(_ context.Context, tenantID int, day string, resolved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.day(tenantID, day)
	if resolved {
		d.feedbackYes++
	} else {
		d.feedbackNo++
	}
	return nil
}

func (s *LocalSink) DaySnapshot(_ context.Context, tenantID int, day string) (DaySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s:%d", day, tenantID)
	d, ok := s.days[key]
	if !ok {
		return DaySnapshot{TopChunks: map[string]int64{}}, nil
	}

	top := make(map[string]int64, len(d.topChunks))
	for k, v := range d.topChunks {
		top[k] = v
	}
	return DaySnapshot{
		Questions:   d.questions,
		UniqueUsers: int64(d.clients.Estimate()),
		Tokens:      d.tokens,
		CostJPY:     d.costJPY,
		Hits:        d.hits,
		ZeroHits:    d.zeroHits,
		FeedbackYes: d.feedbackYes,
		FeedbackNo:  d.feedbackNo,
		TopChunks:   top,
	}, nil
}
