package core

// SignalingRelay relays WebRTC offer/answer/ICE-candidate payloads
// between the members of a pair, unmodified, for video mode (C8,
// spec.md §4.8). It never inspects payload contents — it only verifies
// the sender is currently a member of a pair before forwarding.
type SignalingRelay struct {
	presence *Presence
	pairs    *PairRegistry
}

// NewSignalingRelay wires a SignalingRelay to the shared Presence/
// PairRegistry roots.
func NewSignalingRelay(presence *Presence, pairs *PairRegistry) *SignalingRelay {
	return &SignalingRelay{presence: presence, pairs: pairs}
}

// partnerOf resolves connID's session and pair partner, or ok=false if
// connID is not currently paired (spec.md §4.8: relay silently drops
// signaling for unpaired connections rather than erroring).
func (s *SignalingRelay) partnerOf(connID string) (sess *Session, partner Member, ok bool) {
	sess, ok = s.presence.Session(connID)
	if !ok || sess.PairID == "" {
		return nil, Member{}, false
	}
	pair, ok := s.pairs.Get(sess.PairID)
	if !ok {
		return nil, Member{}, false
	}
	partner, ok = pair.OtherMember(sess.ID)
	return sess, partner, ok
}

// RelayOffer forwards a webrtc-offer to the caller's current pair partner.
func (s *SignalingRelay) RelayOffer(connID string, payload WebRTCOfferPayload) {
	sess, partner, ok := s.partnerOf(connID)
	if !ok {
		return
	}
	s.presence.Emit(partner.ConnID, EvWebRTCOffer, WebRTCRelayPayload{From: sess.ID, Offer: payload.Offer})
}

// RelayAnswer forwards a webrtc-answer to the caller's current pair partner.
func (s *SignalingRelay) RelayAnswer(connID string, payload WebRTCAnswerPayload) {
	sess, partner, ok := s.partnerOf(connID)
	if !ok {
		return
	}
	s.presence.Emit(partner.ConnID, EvWebRTCAnswer, WebRTCRelayPayload{From: sess.ID, Answer: payload.Answer})
}

// RelayICECandidate forwards a webrtc-ice-candidate to the caller's
// current pair partner.
func (s *SignalingRelay) RelayICECandidate(connID string, payload WebRTCICECandidatePayload) {
	sess, partner, ok := s.partnerOf(connID)
	if !ok {
		return
	}
	s.presence.Emit(partner.ConnID, EvWebRTCICECandidate, WebRTCRelayPayload{From: sess.ID, Candidate: payload.Candidate})
}
