package session

import (
	"fmt"
	"testing"
	"time"

	"live-transcriber/internal/domain"
)

func TestRecordSuccessAppendsInOrder(t *testing.T) {
	state := NewState(10, 100)

	for seq := uint64(1); seq <= 3; seq++ {
		state.RecordSuccess(domain.TranscriptFragment{
			ChunkSeq:    seq,
			Text:        fmt.Sprintf("fragment %d", seq),
			CompletedAt: time.Now().UTC(),
		})
	}

	fragments := state.Fragments()
	if len(fragments) != 3 {
		t.Fatalf("fragments = %d, want 3", len(fragments))
	}
	for i, fragment := range fragments {
		if fragment.ChunkSeq != uint64(i+1) {
			t.Fatalf("fragment[%d].ChunkSeq = %d, want %d", i, fragment.ChunkSeq, i+1)
		}
	}
}

func TestRecordSuccessSupersedesErrorRecord(t *testing.T) {
	state := NewState(10, 100)

	state.RecordFailure(domain.ErrorRecord{ChunkSeq: 2, Cause: "boom"})
	state.RecordFailure(domain.ErrorRecord{ChunkSeq: 3, Cause: "other"})
	state.RecordSuccess(domain.TranscriptFragment{ChunkSeq: 2, Text: "recovered"})

	records := state.Errors()
	if len(records) != 1 {
		t.Fatalf("error records = %d, want 1", len(records))
	}
	if records[0].ChunkSeq != 3 {
		t.Fatalf("remaining error seq = %d, want 3", records[0].ChunkSeq)
	}
}

func TestRecordFailureBoundsErrorList(t *testing.T) {
	state := NewState(3, 100)

	for seq := uint64(1); seq <= 5; seq++ {
		state.RecordFailure(domain.ErrorRecord{ChunkSeq: seq, Cause: "boom"})
	}

	records := state.Errors()
	if len(records) != 3 {
		t.Fatalf("error records = %d, want 3", len(records))
	}
	if records[0].ChunkSeq != 3 || records[2].ChunkSeq != 5 {
		t.Fatalf("kept seqs = %d..%d, want 3..5", records[0].ChunkSeq, records[2].ChunkSeq)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	state := NewState(10, 100)
	state.RecordSuccess(domain.TranscriptFragment{ChunkSeq: 1, Text: "one"})

	fragments := state.Fragments()
	fragments[0].Text = "mutated"

	if got := state.Fragments()[0].Text; got != "one" {
		t.Fatalf("fragment text = %q, internal state must not be mutated", got)
	}
}

func TestFeedPublishAssignsSequence(t *testing.T) {
	feed := NewFeed(100)

	first := feed.Publish(Event{Type: EventTypeStatus, Message: "a"})
	second := feed.Publish(Event{Type: EventTypeStatus, Message: "b"})

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seqs = %d,%d, want 1,2", first.Seq, second.Seq)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("publish must assign a timestamp")
	}
}

func TestFeedSinceReturnsOnlyNewerEvents(t *testing.T) {
	feed := NewFeed(100)
	for i := 0; i < 5; i++ {
		feed.Publish(Event{Type: EventTypeStatus})
	}

	events := feed.Since(3)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Seq != 4 || events[1].Seq != 5 {
		t.Fatalf("seqs = %d,%d, want 4,5", events[0].Seq, events[1].Seq)
	}
}

func TestFeedBoundsEventBuffer(t *testing.T) {
	feed := NewFeed(3)
	for i := 0; i < 6; i++ {
		feed.Publish(Event{Type: EventTypeStatus})
	}

	events := feed.Since(0)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Seq != 4 {
		t.Fatalf("oldest kept seq = %d, want 4", events[0].Seq)
	}
}

func TestStatePublishesFeedEvents(t *testing.T) {
	state := NewState(10, 100)

	state.RecordSuccess(domain.TranscriptFragment{ChunkSeq: 1, Text: "hello", Language: "en"})
	state.RecordFailure(domain.ErrorRecord{ChunkSeq: 2, Cause: "boom"})

	events := state.Feed().Since(0)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != EventTypeFragment || events[0].Text != "hello" {
		t.Fatalf("event[0] = %+v, want fragment event", events[0])
	}
	if events[1].Type != EventTypeError || events[1].Message != "boom" {
		t.Fatalf("event[1] = %+v, want error event", events[1])
	}
}
