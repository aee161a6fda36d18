package core

import (
	"log"
	"sync"
	"time"
)

// MatchQueues holds the per-mode waiting queues and implements the
// interest-weighted best-match selection with starvation protection
// (C2, spec.md §4.2).
type MatchQueues struct {
	mu sync.Mutex

	queues          map[Mode][]*QueueEntry
	byConn          map[string]*QueueEntry // connId -> entry, for O(1) existence/removal checks
	starvationBonus time.Duration
}

// NewMatchQueues creates an empty set of queues. starvationBonus is the
// waiter age above which the +3 score bonus applies (spec.md §6
// STARVATION_BONUS_MS, default 30s).
func NewMatchQueues(starvationBonus time.Duration) *MatchQueues {
	return &MatchQueues{
		queues:          make(map[Mode][]*QueueEntry),
		byConn:          make(map[string]*QueueEntry),
		starvationBonus: starvationBonus,
	}
}

// MatchResult is the outcome of an Enqueue call.
type MatchResult struct {
	Matched bool
	A       QueueEntry // the enqueuer — designated initiator on match
	B       QueueEntry // the selected waiting candidate
}

// Enqueue attempts to find a partner for entry; on failure it appends
// entry to the appropriate queue. Enqueue never fails outright (spec.md
// §4.2's "Failure modes").
func (q *MatchQueues) Enqueue(entry QueueEntry) MatchResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now()
	}

	queue := q.queues[entry.Mode]

	bestIdx := -1
	bestScore := -1
	var bestQueuedAt time.Time

	for i, candidate := range queue {
		if candidate.ConnID == entry.ConnID {
			continue
		}
		score := q.score(entry, *candidate)
		if bestIdx == -1 || score > bestScore ||
			(score == bestScore && candidate.QueuedAt.Before(bestQueuedAt)) {
			bestIdx = i
			bestScore = score
			bestQueuedAt = candidate.QueuedAt
		}
	}

	if bestIdx == -1 {
		stored := entry
		q.queues[entry.Mode] = append(queue, &stored)
		q.byConn[entry.ConnID] = &stored
		return MatchResult{Matched: false}
	}

	candidate := *queue[bestIdx]
	q.queues[entry.Mode] = append(append([]*QueueEntry{}, queue[:bestIdx]...), queue[bestIdx+1:]...)
	delete(q.byConn, candidate.ConnID)

	log.Printf("[MatchQueues] matched %s <-> %s (mode=%s, score=%d)", entry.SessionID, candidate.SessionID, entry.Mode, bestScore)
	return MatchResult{Matched: true, A: entry, B: candidate}
}

// score implements spec.md §4.2: 10 × |commonInterests| + 3 × I(waitMs(b) > bonus threshold).
func (q *MatchQueues) score(a QueueEntry, b QueueEntry) int {
	score := 10 * len(commonInterests(a.Interests, b.Interests))
	if time.Since(b.QueuedAt) > q.starvationBonus {
		score += 3
	}
	return score
}

// Remove removes connID's entry from whichever queue holds it. A no-op
// if the connection is not queued.
func (q *MatchQueues) Remove(connID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.byConn[connID]
	if !ok {
		return
	}
	delete(q.byConn, connID)
	queue := q.queues[entry.Mode]
	for i, e := range queue {
		if e.ConnID == connID {
			q.queues[entry.Mode] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
}

// Position reports the 1-based queue position for connID, or 0 if not queued.
func (q *MatchQueues) Position(connID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.byConn[connID]
	if !ok {
		return 0
	}
	for i, e := range q.queues[entry.Mode] {
		if e.ConnID == connID {
			return i + 1
		}
	}
	return 0
}

// Sweep discards queue entries whose connection is no longer live,
// guarding against races between disconnect and the match loop (spec.md
// §4.2, 30s cadence).
func (q *MatchQueues) Sweep(liveConnIDs map[string]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for mode, queue := range q.queues {
		kept := queue[:0:0]
		for _, e := range queue {
			if liveConnIDs[e.ConnID] {
				kept = append(kept, e)
			} else {
				delete(q.byConn, e.ConnID)
			}
		}
		q.queues[mode] = kept
	}
}

// QueueStats is a read-only snapshot for the statistics HTTP surface.
type QueueStats struct {
	TextWaiting  int
	VideoWaiting int
}

// Stats returns queue depth per mode.
func (q *MatchQueues) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		TextWaiting:  len(q.queues[ModeText]),
		VideoWaiting: len(q.queues[ModeVideo]),
	}
}
