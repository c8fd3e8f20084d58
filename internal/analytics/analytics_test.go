package analytics

import (
	"context"
	"errors"
	"testing"
)

func sampleEvent(clientID string, hit bool) Event {
	return Event{
		TenantID:     1,
		Day:          "2025-06-01",
		ClientID:     clientID,
		IP:           "1.2.3.4",
		KeyHash:      "abcd",
		QuestionHash: "ef01",
		Tokens:       120,
		CostJPY:      0.5,
		Hit:          hit,
		UsedChunks:   []string{"f1:0", "f1:1"},
	}
}

func TestLocalSinkAggregates(t *testing.T) {
	sink := NewLocalSink()
	ctx := context.Background()

	sink.Record(ctx, sampleEvent("client-a", true))
	sink.Record(ctx, sampleEvent("client-b", true))
	sink.Record(ctx, sampleEvent("client-a", false))

	snap, err := sink.DaySnapshot(ctx, 1, "2025-06-01")
	if err != nil {
		t.Fatalf("DaySnapshot: %v", err)
	}
	if snap.Questions != 3 {
		t.Fatalf("questions = %d, want 3", snap.Questions)
	}
	if snap.Tokens != 360 {
		t.Fatalf("tokens = %d, want 360", snap.Tokens)
	}
	if snap.CostJPY != 1.5 {
		t.Fatalf("cost = %v, want 1.5", snap.CostJPY)
	}
	if snap.Hits != 2 || snap.ZeroHits != 1 {
		t.Fatalf("hits/zero = %d/%d, want 2/1", snap.Hits, snap.ZeroHits)
	}
	if snap.UniqueUsers != 2 {
		t.Fatalf("unique users = %d, want 2", snap.UniqueUsers)
	}
	if snap.TopChunks["f1:0"] != 3 {
		t.Fatalf("top chunk count = %d, want 3", snap.TopChunks["f1:0"])
	}
}

func TestLocalSinkSeparatesTenantDays(t *testing.T) {
	sink := NewLocalSink()
	ctx := context.Background()

	ev := sampleEvent("c", true)
	sink.Record(ctx, ev)

	other, _ := sink.DaySnapshot(ctx, 2, "2025-06-01")
	if other.Questions != 0 {
		t.Fatal("other tenant saw this tenant's counters")
	}
	otherDay, _ := sink.DaySnapshot(ctx, 1, "2025-06-02")
	if otherDay.Questions != 0 {
		t.Fatal("other day saw this day's counters")
	}
}

func TestLocalSinkFeedback(t *testing.T) {
	sink := NewLocalSink()
	ctx := context.Background()

	sink.RecordFeedback(ctx, 1, "2025-06-01", true)
	sink.RecordFeedback(ctx, 1, "2025-06-01", true)
	sink.RecordFeedback(ctx, 1, "2025-06-01", false)

	snap, _ := sink.DaySnapshot(ctx, 1, "2025-06-01")
	if snap.FeedbackYes != 2 || snap.FeedbackNo != 1 {
		t.Fatalf("feedback = %d yes / %d no, want 2/1", snap.FeedbackYes, snap.FeedbackNo)
	}
}

func TestLocalSinkEmptySnapshot(t *testing.T) {
	sink := NewLocalSink()

	snap, err := sink.DaySnapshot(context.Background(), 9, "2025-06-01")
	if err != nil {
		t.Fatalf("DaySnapshot: %v", err)
	}
	if snap.Questions != 0 || snap.TopChunks == nil {
		t.Fatalf("empty snapshot = %+v", snap)
	}
}

// failingSink always errors, which should push every write to the
// aggregator's in-process fallback.
type failingSink struct{}

func (failingSink) Record(context.Context, Event) error { return errors.New("redis down") }
func (failingSink) RecordFeedback(context.Context, int, string, bool) error {
	return errors.New("redis down")
}
func (failingSink) DaySnapshot(context.Context, int, string) (DaySnapshot, error) {
	return DaySnapshot{}, errors.New("redis down")
}

func TestAggregatorFallsBackToLocal(t *testing.T) {
	agg := NewAggregator(failingSink{}, 8)

	agg.Enqueue(sampleEvent("client-a", true))
	agg.Feedback(context.Background(), 1, "2025-06-01", true)
	agg.Close()

	snap, err := agg.Snapshot(context.Background(), 1, "2025-06-01")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Questions != 1 {
		t.Fatalf("questions = %d, want 1 via fallback", snap.Questions)
	}
	if snap.FeedbackYes != 1 {
		t.Fatalf("feedback yes = %d, want 1 via fallback", snap.FeedbackYes)
	}
}

func TestAggregatorTruncatesUsedChunks(t *testing.T) {
	sink := NewLocalSink()
	agg := NewAggregator(sink, 8)

	ev := sampleEvent("c", true)
	ev.UsedChunks = nil
	for i := 0; i < topChunksCap+5; i++ {
		ev.UsedChunks = append(ev.UsedChunks, string(rune('a'+i)))
	}
	agg.Enqueue(ev)
	agg.Close()

	snap, _ := sink.DaySnapshot(context.Background(), 1, "2025-06-01")
	if len(snap.TopChunks) != topChunksCap {
		t.Fatalf("recorded %d chunk ids, want cap of %d", len(snap.TopChunks), topChunksCap)
	}
}
