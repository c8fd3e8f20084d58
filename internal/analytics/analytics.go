package analytics

import (
	"context"
	"log"
)

// topChunksCap bounds how many used chunks one request may count
// toward the frequency table.
const topChunksCap = 10

// recentEventsCap bounds the per-tenant audit log; oldest entries drop.
const recentEventsCap = 200

// Event describes one successfully answered question.
type Event struct {
	TenantID     int
	Day          string // YYYY-MM-DD in the billing timezone
	ClientID     string
	IP           string
	KeyHash      string
	QuestionHash string
	Tokens       int
	CostJPY      float64
	Hit          bool     // at least one chunk made it into context
	UsedChunks   []string // "file_id:chunk_index" of chunks used as context
}

// DaySnapshot is one tenant-day's counter bundle, read-aggregated by
// reporting across date ranges.
type DaySnapshot struct {
	Questions   int64
	UniqueUsers int64
	Tokens      int64
	CostJPY     float64
	Hits        int64
	ZeroHits    int64
	FeedbackYes int64
	FeedbackNo  int64
	TopChunks   map[string]int64
}

// Sink persists usage counters. All writes are best-effort.
type Sink interface {
	Record(ctx context.Context, ev Event) error
	RecordFeedback(ctx context.Context, tenantID int, day string, resolved bool) error
	DaySnapshot(ctx context.Context, tenantID int, day string) (DaySnapshot, error)
}

// Aggregator decouples analytics writes from the response path with a
// bounded queue: a full queue drops the event rather than block, and a
// failing shared sink falls through to the in-process one.
type Aggregator struct {
	sink     Sink
	fallback Sink
	queue    chan Event
	done     chan struct{}
}

func NewAggregator(sink Sink, queueSize int) *Aggregator {
	if queueSize < 1 {
		queueSize = 256
	}
	a := &Aggregator{
		sink:     sink,
		fallback: NewLocalSink(),
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Aggregator) run() {
	defer close(a.done)
	for ev := range a.queue {
		if len(ev.UsedChunks) > topChunksCap {
			ev.UsedChunks = ev.UsedChunks[:topChunksCap]
		}
		if err := a.sink.Record(context.Background(), ev); err != nil {
			log.Printf("analytics: shared sink unavailable, using local: %v", err)
			if err := a.fallback.Record(context.Background(), ev); err != nil {
				log.Printf("analytics: dropped event: %v", err)
			}
		}
	}
}

// Enqueue never blocks; when the queue is full the event is dropped.
func (a *Aggregator) Enqueue(ev Event) {
	select {
	case a.queue <- ev:
	default:
		log.Printf("analytics: queue full, dropping event for tenant %d", ev.TenantID)
	}
}

// Feedback records a yes/no resolution vote for the day.
func (a *Aggregator) Feedback(ctx context.Context, tenantID int, day string, resolved bool) {
	if err := a.sink.RecordFeedback(ctx, tenantID, day, resolved); err != nil {
		log.Printf("analytics: shared sink unavailable, using local: %v", err)
		if err := a.fallback.RecordFeedback(ctx, tenantID, day, resolved); err != nil {
			log.Printf("analytics: dropped feedback: %v", err)
		}
	}
}

// Snapshot reads one tenant-day's counters, preferring the shared sink.
func (a *Aggregator) Snapshot(ctx context.Context, tenantID int, day string) (DaySnapshot, error) {
	snap, err := a.sink.DaySnapshot(ctx, tenantID, day)
	if err != nil {
		return a.fallback.DaySnapshot(ctx, tenantID, day)
	}
	return snap, nil
}

// Close drains the queue and stops the worker.
func (a *Aggregator) Close() {
	close(a.queue)
	<-a.done
}
