package core_test

import (
	"testing"
	"time"

	"chatcore/internal/core"
)

// TestMatchQueuesEnqueueFirstEntryWaits verifies that the first entry into
// an empty queue finds no match and is simply stored.
func TestMatchQueuesEnqueueFirstEntryWaits(t *testing.T) {
	t.Parallel()

	q := core.NewMatchQueues(30 * time.Second)
	result := q.Enqueue(core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText})

	if result.Matched {
		t.Fatalf("expected no match for a lone waiter, got %+v", result)
	}
	if pos := q.Position("conn-a"); pos != 1 {
		t.Errorf("got position %d, want 1", pos)
	}
}

// TestMatchQueuesEnqueueMatchesSecondEntry verifies that a second compatible
// waiter in the same mode is matched immediately, with the enqueuer
// designated as entry A (initiator).
func TestMatchQueuesEnqueueMatchesSecondEntry(t *testing.T) {
	t.Parallel()

	q := core.NewMatchQueues(30 * time.Second)
	q.Enqueue(core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText, Interests: []string{"music"}})

	result := q.Enqueue(core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText, Interests: []string{"music"}})

	if !result.Matched {
		t.Fatal("expected a match, got none")
	}
	if result.A.SessionID != "b" || result.B.SessionID != "a" {
		t.Errorf("got A=%s B=%s, want A=b (enqueuer) B=a (waiter)", result.A.SessionID, result.B.SessionID)
	}
}

// TestMatchQueuesScoreByCommonInterests verifies that, among multiple
// waiting candidates, the one with more common interests is preferred
// (spec.md §4.2's 10-per-interest weight dominates the queue-order tie
// break).
func TestMatchQueuesScoreByCommonInterests(t *testing.T) {
	t.Parallel()

	q := core.NewMatchQueues(30 * time.Second)
	q.Enqueue(core.QueueEntry{SessionID: "low", ConnID: "conn-low", Mode: core.ModeText, Interests: []string{"sports"}})
	q.Enqueue(core.QueueEntry{SessionID: "high", ConnID: "conn-high", Mode: core.ModeText, Interests: []string{"music", "movies"}})

	result := q.Enqueue(core.QueueEntry{SessionID: "new", ConnID: "conn-new", Mode: core.ModeText, Interests: []string{"music", "movies"}})

	if !result.Matched || result.B.SessionID != "high" {
		t.Fatalf("got match=%v partner=%s, want partner=high (2 shared interests)", result.Matched, result.B.SessionID)
	}
}

// TestMatchQueuesStarvationBonusBreaksTie verifies that a waiter who has
// aged past the starvation threshold outscores an equally-interested but
// more recently queued candidate.
func TestMatchQueuesStarvationBonusBreaksTie(t *testing.T) {
	t.Parallel()

	q := core.NewMatchQueues(10 * time.Millisecond)
	q.Enqueue(core.QueueEntry{SessionID: "stale", ConnID: "conn-stale", Mode: core.ModeText, Interests: []string{"music"}})
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(core.QueueEntry{SessionID: "fresh", ConnID: "conn-fresh", Mode: core.ModeText, Interests: []string{"music"}})

	result := q.Enqueue(core.QueueEntry{SessionID: "new", ConnID: "conn-new", Mode: core.ModeText, Interests: []string{"music"}})

	if !result.Matched || result.B.SessionID != "stale" {
		t.Fatalf("got partner=%s, want stale (starvation bonus applies to the older waiter)", result.B.SessionID)
	}
}

// TestMatchQueuesModesAreIsolated verifies that text and video queues never
// match across each other.
func TestMatchQueuesModesAreIsolated(t *testing.T) {
	t.Parallel()

	q := core.NewMatchQueues(30 * time.Second)
	q.Enqueue(core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeVideo})

	result := q.Enqueue(core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText})

	if result.Matched {
		t.Fatalf("expected no cross-mode match, got %+v", result)
	}
}

// TestMatchQueuesRemove verifies that Remove drops a queued connection and
// that it is no longer considered for future matches.
func TestMatchQueuesRemove(t *testing.T) {
	t.Parallel()

	q := core.NewMatchQueues(30 * time.Second)
	q.Enqueue(core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText})
	q.Remove("conn-a")

	if pos := q.Position("conn-a"); pos != 0 {
		t.Errorf("got position %d after remove, want 0", pos)
	}

	result := q.Enqueue(core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText})
	if result.Matched {
		t.Fatalf("removed entry should not be matchable, got %+v", result)
	}
}

// TestMatchQueuesSweepDropsDeadConnections verifies that Sweep discards
// entries whose connection id is absent from the live set.
func TestMatchQueuesSweepDropsDeadConnections(t *testing.T) {
	t.Parallel()

	q := core.NewMatchQueues(30 * time.Second)
	q.Enqueue(core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText})
	q.Enqueue(core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeVideo})

	q.Sweep(map[string]bool{"conn-a": true})

	stats := q.Stats()
	if stats.TextWaiting != 1 || stats.VideoWaiting != 0 {
		t.Fatalf("got %+v, want TextWaiting=1 VideoWaiting=0", stats)
	}
	if pos := q.Position("conn-b"); pos != 0 {
		t.Errorf("swept connection should no longer hold a queue position, got %d", pos)
	}
}

// TestMatchQueuesStats verifies queue depth accounting per mode: c is
// matched with the waiting b, which leaves the video queue empty.
func TestMatchQueuesStats(t *testing.T) {
	t.Parallel()

	q := core.NewMatchQueues(30 * time.Second)
	q.Enqueue(core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText})
	q.Enqueue(core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeVideo})
	q.Enqueue(core.QueueEntry{SessionID: "c", ConnID: "conn-c", Mode: core.ModeVideo})

	stats := q.Stats()
	if stats.TextWaiting != 1 || stats.VideoWaiting != 0 {
		t.Fatalf("got %+v, want TextWaiting=1 VideoWaiting=0", stats)
	}
}
