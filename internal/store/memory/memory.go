// Package memory provides in-process implementations of core.MessageStore,
// core.HotStore, and core.ReportStore for tests and local development,
// so the pairing/moderation/relay logic can be exercised without a live
// Postgres or Redis instance.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/core"
)

// MessageStore is a mutex-guarded, map-backed (keyed by message id)
// core.MessageStore.
type MessageStore struct {
	mu   sync.Mutex
	byID map[string]core.ChatMessage
}

// NewMessageStore creates an empty in-memory MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]core.ChatMessage)}
}

// Save stores msg, assigning an id if absent.
func (s *MessageStore) Save(_ context.Context, msg core.ChatMessage) (core.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.byID[msg.ID] = msg
	return msg, nil
}

// ListByRoom returns pairID's messages, newest first, paginated.
func (s *MessageStore) ListByRoom(_ context.Context, pairID string, limit, skip int) ([]core.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []core.ChatMessage
	for _, m := range s.byID {
		if m.PairID == pairID {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if limit <= 0 {
		limit = 50
	}
	if skip >= len(all) {
		return []core.ChatMessage{}, nil
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]core.ChatMessage, end-skip)
	copy(out, all[skip:end])
	return out, nil
}

// MarkRead advances status to read for every message in pairID addressed
// to recipientID that isn't already read.
func (s *MessageStore) MarkRead(_ context.Context, pairID, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	for id, m := range s.byID {
		if m.PairID == pairID && m.RecipientID == recipientID && m.Status != core.MessageRead {
			m.Status = core.MessageRead
			s.byID[id] = m
			count++
		}
	}
	return count, nil
}

// ScheduleTTL rewrites expires_at for every message in pairID.
func (s *MessageStore) ScheduleTTL(_ context.Context, pairID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.byID {
		if m.PairID == pairID {
			m.ExpiresAt = expiresAt
			s.byID[id] = m
		}
	}
	return nil
}

// DeleteByRoom removes every message belonging to pairID.
func (s *MessageStore) DeleteByRoom(_ context.Context, pairID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.byID {
		if m.PairID == pairID {
			delete(s.byID, id)
		}
	}
	return nil
}

// HotStore is a mutex-guarded map-backed core.HotStore, simulating TTL
// expiry with a stored deadline rather than a background sweep.
type HotStore struct {
	mu     sync.Mutex
	typing map[string]time.Time // key -> expiry
}

// NewHotStore creates an empty in-memory HotStore.
func NewHotStore() *HotStore {
	return &HotStore{typing: make(map[string]time.Time)}
}

func (h *HotStore) key(pairID, sessionID string) string { return pairID + ":" + sessionID }

func (h *HotStore) SetTyping(_ context.Context, pairID, sessionID string, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.typing[h.key(pairID, sessionID)] = time.Now().Add(ttl)
	return nil
}

func (h *HotStore) ClearTyping(_ context.Context, pairID, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.typing, h.key(pairID, sessionID))
	return nil
}

func (h *HotStore) IsTyping(_ context.Context, pairID, sessionID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	deadline, ok := h.typing[h.key(pairID, sessionID)]
	if !ok {
		return false, nil
	}
	return time.Now().Before(deadline), nil
}

// ReportStore is a mutex-guarded in-memory core.ReportStore.
type ReportStore struct {
	mu      sync.Mutex
	reports []report
}

type report struct {
	ID, ReporterID, ReportedID, Reason string
}

// NewReportStore creates an empty in-memory ReportStore.
func NewReportStore() *ReportStore {
	return &ReportStore{}
}

func (r *ReportStore) Save(_ context.Context, reporterSessionID, reportedSessionID, reason string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.reports = append(r.reports, report{ID: id, ReporterID: reporterSessionID, ReportedID: reportedSessionID, Reason: reason})
	return id, nil
}

var (
	_ core.MessageStore = (*MessageStore)(nil)
	_ core.HotStore     = (*HotStore)(nil)
	_ core.ReportStore  = (*ReportStore)(nil)
)
