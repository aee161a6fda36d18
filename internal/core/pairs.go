package core

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DissolveHook is invoked whenever a Pair is dissolved, for side effects
// that live outside the pairing state graph: scheduling MessageStore TTL
// deletion for the room and resetting the Moderator's violation counter
// on clean-end reasons (spec.md §4.3, §4.6). It must not block.
type DissolveHook func(pairID string, member1, member2 Member, reason DissolveReason)

// PairRegistry owns every active Pair and its state machine (C3, spec.md
// §4.3). Lock ordering: PairRegistry's mutex is always acquired before
// Presence's (spec.md §5), which Reconnector and the grace-timer callback
// both respect; Heartbeat never touches PairRegistry at all.
type PairRegistry struct {
	mu sync.Mutex

	pairs     map[string]*Pair
	bySession map[string]string // sessionId -> pairId

	presence     *Presence
	graceTimeout time.Duration
	onDissolve   DissolveHook
}

// NewPairRegistry creates an empty registry bound to presence for
// notification delivery and session-state updates.
func NewPairRegistry(presence *Presence, graceTimeout time.Duration, onDissolve DissolveHook) *PairRegistry {
	return &PairRegistry{
		pairs:        make(map[string]*Pair),
		bySession:    make(map[string]string),
		presence:     presence,
		graceTimeout: graceTimeout,
		onDissolve:   onDissolve,
	}
}

// Create mints a new Pair from a MatchQueues result. entryA (the
// enqueuer whose join-queue triggered the match) is designated
// initiator, per spec.md §4.3 — it is never ambiguous because the
// matched candidate was already waiting. Returns ErrSessionAlreadyPaired
// (ProtocolViolationInternal) if either session is already a member of a
// live pair.
func (r *PairRegistry) Create(entryA, entryB QueueEntry) (*Pair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySession[entryA.SessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyPaired, entryA.SessionID)
	}
	if _, ok := r.bySession[entryB.SessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyPaired, entryB.SessionID)
	}

	pair := &Pair{
		ID:              uuid.NewString(),
		Member1:         Member{SessionID: entryA.SessionID, ConnID: entryA.ConnID},
		Member2:         Member{SessionID: entryB.SessionID, ConnID: entryB.ConnID},
		Mode:            entryA.Mode,
		CommonInterests: commonInterests(entryA.Interests, entryB.Interests),
		State:           PairMatched,
		CreatedAt:       time.Now(),
	}
	r.pairs[pair.ID] = pair
	r.bySession[entryA.SessionID] = pair.ID
	r.bySession[entryB.SessionID] = pair.ID

	r.presence.UpdateSession(entryA.SessionID, func(s *Session) { s.State = StateMatched; s.PairID = pair.ID })
	r.presence.UpdateSession(entryB.SessionID, func(s *Session) { s.State = StateMatched; s.PairID = pair.ID })

	r.presence.Emit(entryA.ConnID, EvMatchFound, MatchFoundPayload{
		PartnerID:       entryB.SessionID,
		CommonInterests: pair.CommonInterests,
		Mode:            string(pair.Mode),
		SendOffer:       true,
		RoomID:          pair.ID,
	})
	r.presence.Emit(entryB.ConnID, EvMatchFound, MatchFoundPayload{
		PartnerID:       entryA.SessionID,
		CommonInterests: pair.CommonInterests,
		Mode:            string(pair.Mode),
		SendOffer:       false,
		RoomID:          pair.ID,
	})

	// Both match-found sends above are enqueued synchronously onto bounded
	// per-connection channels; there is no further transport-level ack in
	// this design, so delivery is considered complete once queued and the
	// pair advances straight to chatting.
	pair.State = PairChatting

	log.Printf("[PairRegistry] created pair %s: %s (initiator) <-> %s", pair.ID, entryA.SessionID, entryB.SessionID)
	return pair, nil
}

// Get returns the Pair for pairID.
func (r *PairRegistry) Get(pairID string) (*Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[pairID]
	return p, ok
}

// PairOfSession returns the live pair for sessionID, if any.
func (r *PairRegistry) PairOfSession(sessionID string) (*Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pairID, ok := r.bySession[sessionID]
	if !ok {
		return nil, false
	}
	p, ok := r.pairs[pairID]
	return p, ok
}

// IsMemberOf reports whether connID belongs to pairID.
func (r *PairRegistry) IsMemberOf(pairID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[pairID]
	if !ok {
		return false
	}
	_, member := p.MemberByConn(connID)
	return member
}

// PartnerOf returns the other member of the pair connID belongs to.
func (r *PairRegistry) PartnerOf(pairID, connID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[pairID]
	if !ok {
		return Member{}, false
	}
	me, ok := p.MemberByConn(connID)
	if !ok {
		return Member{}, false
	}
	return p.OtherMember(me.SessionID)
}

// EnterGrace transitions a chatting Pair into the grace state after one
// member's connection drops. It arms a cancellable timer for the grace
// period and does not notify the other member (spec.md §4.3 — "does not
// notify the other member yet").
func (r *PairRegistry) EnterGrace(pairID, departingSessionID string) {
	r.mu.Lock()
	pair, ok := r.pairs[pairID]
	if !ok || pair.State != PairChatting || !pair.HasSession(departingSessionID) {
		r.mu.Unlock()
		return
	}
	pair.State = PairGrace
	pair.AbsentSessionID = departingSessionID
	pair.GraceDeadline = time.Now().Add(r.graceTimeout)
	pair.graceTimer = time.AfterFunc(r.graceTimeout, func() { r.expireGrace(pairID) })
	r.mu.Unlock()

	r.presence.UpdateSession(departingSessionID, func(s *Session) { s.State = StateGrace })
	log.Printf("[PairRegistry] pair %s entered grace: %s is absent", pairID, departingSessionID)
}

// expireGrace fires when a grace timer elapses with no reconnection. If
// both members happened to disconnect in rapid succession, this is the
// first expiry to run and dissolves the pair with no notification to the
// already-absent side (spec.md §9, open question (i)).
func (r *PairRegistry) expireGrace(pairID string) {
	r.mu.Lock()
	pair, ok := r.pairs[pairID]
	if !ok || pair.State != PairGrace {
		r.mu.Unlock()
		return
	}
	r.finishDissolveLocked(pair, ReasonTimeout)
	r.mu.Unlock()

	retained, ok := pair.OtherMember(pair.AbsentSessionID)
	if ok {
		if _, live := r.presence.Get(retained.ConnID); live {
			r.presence.Emit(retained.ConnID, EvPartnerDisconnected, PartnerDisconnectedPayload{
				Reason:  ReasonTimeout,
				Message: "Your partner did not reconnect in time.",
			})
		}
	}
	r.presence.UpdateSession(pair.Member1.SessionID, resetToIdle)
	r.presence.UpdateSession(pair.Member2.SessionID, resetToIdle)

	if r.onDissolve != nil {
		r.onDissolve(pairID, pair.Member1, pair.Member2, ReasonTimeout)
	}
	log.Printf("[PairRegistry] pair %s dissolved: grace expired, %s never returned", pairID, pair.AbsentSessionID)
}

// Restore binds a new connection to the absent member of a pair in
// grace, cancelling the timer and advancing back to chatting (C4
// Reconnector calls this; spec.md §4.4).
func (r *PairRegistry) Restore(pairID, sessionID, newConnID string) (*Pair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair, ok := r.pairs[pairID]
	if !ok {
		return nil, ErrPairNotFound
	}
	if pair.State != PairGrace || pair.AbsentSessionID != sessionID {
		return nil, ErrPairNotInGrace
	}

	if pair.graceTimer != nil {
		pair.graceTimer.Stop()
		pair.graceTimer = nil
	}

	if pair.Member1.SessionID == sessionID {
		pair.Member1.ConnID = newConnID
	} else {
		pair.Member2.ConnID = newConnID
	}
	pair.State = PairChatting
	pair.AbsentSessionID = ""

	retained, _ := pair.OtherMember(sessionID)
	r.presence.Emit(retained.ConnID, EvPartnerReconnected, PartnerReconnectedPayload{
		PartnerID: sessionID,
		RoomID:    pair.ID,
	})

	log.Printf("[PairRegistry] pair %s restored: %s reconnected", pairID, sessionID)
	return pair, nil
}

// Dissolve immediately ends a pair for a voluntary reason (skip, leave,
// kick) — no grace window. The other member is notified right away.
func (r *PairRegistry) Dissolve(pairID string, byConnID string, reason DissolveReason) error {
	r.mu.Lock()
	pair, ok := r.pairs[pairID]
	if !ok {
		r.mu.Unlock()
		return ErrPairNotFound
	}
	r.finishDissolveLocked(pair, reason)
	r.mu.Unlock()

	leaver, hasLeaver := pair.MemberByConn(byConnID)
	leaverSessionID := pair.Member1.SessionID
	if hasLeaver {
		leaverSessionID = leaver.SessionID
	}
	partner, hasPartner := pair.OtherMember(leaverSessionID)
	if hasPartner {
		r.presence.Emit(partner.ConnID, EvPartnerDisconnected, PartnerDisconnectedPayload{
			Reason:  reason,
			Message: disconnectMessage(reason),
		})
	}
	if hasLeaver && reason == ReasonSkipped {
		r.presence.Emit(byConnID, EvSkipConfirmed, nil)
	}

	r.presence.UpdateSession(pair.Member1.SessionID, resetToIdle)
	r.presence.UpdateSession(pair.Member2.SessionID, resetToIdle)

	if r.onDissolve != nil {
		r.onDissolve(pairID, pair.Member1, pair.Member2, reason)
	}
	log.Printf("[PairRegistry] pair %s dissolved: reason=%s", pairID, reason)
	return nil
}

// finishDissolveLocked removes all registry bookkeeping for pair. Caller
// holds r.mu.
func (r *PairRegistry) finishDissolveLocked(pair *Pair, reason DissolveReason) {
	if pair.graceTimer != nil {
		pair.graceTimer.Stop()
		pair.graceTimer = nil
	}
	pair.State = PairDissolved
	delete(r.pairs, pair.ID)
	delete(r.bySession, pair.Member1.SessionID)
	delete(r.bySession, pair.Member2.SessionID)
}

// Stats is a read-only snapshot for the statistics HTTP surface.
type PairStats struct {
	Matched  int
	Chatting int
	Grace    int
}

func (r *PairRegistry) Stats() PairStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s PairStats
	for _, p := range r.pairs {
		switch p.State {
		case PairMatched:
			s.Matched++
		case PairChatting:
			s.Chatting++
		case PairGrace:
			s.Grace++
		}
	}
	return s
}

func resetToIdle(s *Session) {
	s.State = StateIdle
	s.PairID = ""
}

func disconnectMessage(reason DissolveReason) string {
	switch reason {
	case ReasonSkipped:
		return "Your partner skipped the conversation."
	case ReasonTimeout:
		return "Your partner did not reconnect in time."
	case ReasonKicked:
		return "Your partner was removed for repeated violations."
	default:
		return "Your partner has left the conversation."
	}
}

