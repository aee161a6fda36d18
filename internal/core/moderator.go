package core

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// blockedLayer identifies which moderation layer flagged content.
type blockedLayer string

const (
	layerLocal  blockedLayer = "local"
	layerRemote blockedLayer = "remote"
)

// escalation actions, per the table in spec.md §4.6.
const (
	actionNone    = "none"
	actionWarn    = "warn"
	actionKick    = "kick"
)

// defaultBlocklist is a small, local set of exact-substring prohibited
// terms (Layer 1(i)). It is intentionally minimal — this is not a content
// policy, it's the always-on local backstop that runs even when the
// remote classifier (Layer 2) is disabled or unreachable.
var defaultBlocklist = []string{
	"kill yourself",
	"child porn",
	"csam",
}

// defaultProfanity is the naive substring list backing Layer 1(ii). No
// dependency in the retrieval pack covers profanity filtering (see
// DESIGN.md); a small local list is the idiomatic minimal stand-in.
var defaultProfanity = []string{
	"fuck", "shit", "bitch", "asshole", "cunt",
}

// ModerationResult is the outcome of Check.
type ModerationResult struct {
	Allowed    bool
	Reason     string
	Categories []string
	Layer      blockedLayer
	Action     string
}

// classifierLabel is one entry of a Layer 2 response.
type classifierLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Moderator implements the two-layer content classification pipeline and
// per-session violation escalation (C6, spec.md §4.6).
type Moderator struct {
	mu     sync.Mutex
	counts map[string]int // sessionId -> violation count

	remoteURL     string
	threshold     float64
	timeout       time.Duration
	blockOnFail   bool
	warnThreshold int
	kickThreshold int

	httpClient *http.Client
}

// NewModerator constructs a Moderator. remoteURL empty disables Layer 2
// entirely (spec.md §4.6 "if enabled").
func NewModerator(remoteURL string, threshold float64, timeout time.Duration, blockOnFail bool, warnThreshold, kickThreshold int) *Moderator {
	return &Moderator{
		counts:        make(map[string]int),
		remoteURL:     remoteURL,
		threshold:     threshold,
		timeout:       timeout,
		blockOnFail:   blockOnFail,
		warnThreshold: warnThreshold,
		kickThreshold: kickThreshold,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// Check runs content through both layers and updates sessionId's
// violation counter on any block, returning the escalation action to
// take (spec.md §4.6's table).
func (m *Moderator) Check(ctx context.Context, content, sessionID string) ModerationResult {
	if res, blocked := m.checkLocal(content); blocked {
		return m.escalate(sessionID, res)
	}

	if m.remoteURL != "" {
		res, blocked, err := m.checkRemote(ctx, content)
		if err != nil {
			log.Printf("[Moderator] WARNING: layer 2 classifier unreachable: %v", err)
			if m.blockOnFail {
				return m.escalate(sessionID, ModerationResult{
					Allowed: false, Reason: "moderation backend unavailable",
					Layer: layerRemote, Categories: []string{"backend-failure"},
				})
			}
			return ModerationResult{Allowed: true, Action: actionNone}
		}
		if blocked {
			return m.escalate(sessionID, res)
		}
	}

	return ModerationResult{Allowed: true, Action: actionNone}
}

func (m *Moderator) checkLocal(content string) (ModerationResult, bool) {
	lower := strings.ToLower(content)
	for _, term := range defaultBlocklist {
		if strings.Contains(lower, term) {
			return ModerationResult{Allowed: false, Reason: "prohibited content", Layer: layerLocal, Categories: []string{"prohibited-terms"}}, true
		}
	}
	for _, term := range defaultProfanity {
		if strings.Contains(lower, term) {
			return ModerationResult{Allowed: false, Reason: "inappropriate language", Layer: layerLocal, Categories: []string{"profanity"}}, true
		}
	}
	return ModerationResult{}, false
}

func (m *Moderator) checkRemote(ctx context.Context, content string) (ModerationResult, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return ModerationResult{}, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.remoteURL, bytes.NewReader(body))
	if err != nil {
		return ModerationResult{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return ModerationResult{}, false, err
	}
	defer resp.Body.Close()

	var labels []classifierLabel
	if err := json.NewDecoder(resp.Body).Decode(&labels); err != nil {
		return ModerationResult{}, false, err
	}

	var categories []string
	for _, l := range labels {
		if l.Score >= m.threshold {
			categories = append(categories, l.Label)
		}
	}
	if len(categories) == 0 {
		return ModerationResult{}, false, nil
	}
	return ModerationResult{Allowed: false, Reason: "flagged by content classifier", Layer: layerRemote, Categories: categories}, true, nil
}

// escalate increments sessionId's violation counter and attaches the
// appropriate action per the escalation table (spec.md §4.6).
func (m *Moderator) escalate(sessionID string, res ModerationResult) ModerationResult {
	m.mu.Lock()
	m.counts[sessionID]++
	count := m.counts[sessionID]
	m.mu.Unlock()

	switch {
	case count >= m.kickThreshold:
		res.Action = actionKick
	case count >= m.warnThreshold:
		res.Action = actionWarn
	default:
		res.Action = actionNone
	}
	return res
}

// GetFlagCount returns sessionId's current violation count.
func (m *Moderator) GetFlagCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[sessionID]
}

// ResetFlagCount clears sessionId's violation count — called on clean
// pair dissolution and accepted reconnect (spec.md §3 invariant 6).
func (m *Moderator) ResetFlagCount(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, sessionID)
}
