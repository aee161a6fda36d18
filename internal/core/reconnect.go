package core

import "log"

// Reconnector binds a new connection to a pre-existing session within
// its grace window and restores the session's pairing (C4, spec.md
// §4.4). It sits between Presence (rebinding) and PairRegistry
// (restoring), acquiring PairRegistry's lock before Presence's — the
// same order the grace-timer callback uses (spec.md §5).
type Reconnector struct {
	presence  *Presence
	pairs     *PairRegistry
	moderator *Moderator
}

// NewReconnector wires a Reconnector to the shared Presence/PairRegistry
// roots and the Moderator, whose violation counter resets on an accepted
// reconnect (spec.md §3 invariant 6).
func NewReconnector(presence *Presence, pairs *PairRegistry, moderator *Moderator) *Reconnector {
	return &Reconnector{presence: presence, pairs: pairs, moderator: moderator}
}

// ReconnectResult reports what Try did, so the caller (EventDispatcher's
// user-join handler) knows whether to also run a fresh Presence.Bind.
type ReconnectResult struct {
	Restored  bool
	Pair      *Pair
	PartnerID string
}

// Try attempts to treat sessionID as a reconnection: if Presence already
// knows sessionID is a member of a Pair currently in grace, it rebinds
// the session and restores the pair. Any other situation (fresh session,
// session idle/queued, pair already dissolved) returns Restored=false and
// the caller treats the join as a fresh one.
func (rc *Reconnector) Try(newConnID, sessionID string) ReconnectResult {
	sess, ok := rc.presence.SessionByID(sessionID)
	if !ok || sess.State != StateGrace || sess.PairID == "" {
		return ReconnectResult{}
	}

	oldConnID := sess.ConnID
	pair, err := rc.pairs.Restore(sess.PairID, sessionID, newConnID)
	if err != nil {
		log.Printf("[Reconnector] restore failed for session %s pair %s: %v", sessionID, sess.PairID, err)
		return ReconnectResult{}
	}

	rc.presence.Rebind(oldConnID, newConnID, sessionID)
	rc.presence.UpdateSession(sessionID, func(s *Session) { s.State = StateMatched })
	rc.moderator.ResetFlagCount(sessionID)

	partner, _ := pair.OtherMember(sessionID)
	return ReconnectResult{Restored: true, Pair: pair, PartnerID: partner.SessionID}
}

// StartGraceOrDispose is called by the transport when a connection
// closes. If the owning session is a member of a chatting pair, it opens
// a grace window; if the session was only queued or idle, the queue
// entry and connection are simply removed with no grace window (spec.md
// §4.4, last paragraph).
func (rc *Reconnector) StartGraceOrDispose(connID string, queues *MatchQueues) {
	sess, ok := rc.presence.Session(connID)
	if !ok {
		rc.presence.Remove(connID)
		return
	}

	switch sess.State {
	case StateMatched, StateGrace:
		if pair, ok := rc.pairs.PairOfSession(sess.ID); ok && pair.State == PairChatting {
			rc.pairs.EnterGrace(pair.ID, sess.ID)
		}
		rc.presence.Remove(connID)
	default:
		queues.Remove(connID)
		rc.presence.Remove(connID)
		rc.presence.RemoveSession(sess.ID)
	}
}
