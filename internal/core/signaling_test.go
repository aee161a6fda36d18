package core_test

import (
	"testing"
	"time"

	"chatcore/internal/core"
)

// TestSignalingRelayForwardsOfferAnswerAndCandidate verifies that each
// WebRTC signaling message is forwarded unmodified to the caller's current
// pair partner, tagged with the sender's session id.
func TestSignalingRelayForwardsOfferAnswerAndCandidate(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	presence.Accept("conn-a")
	presence.Accept("conn-b")
	if _, err := presence.Bind("conn-a", "a", nil, core.ModeVideo, false); err != nil {
		t.Fatal(err)
	}
	if _, err := presence.Bind("conn-b", "b", nil, core.ModeVideo, false); err != nil {
		t.Fatal(err)
	}
	pairs := core.NewPairRegistry(presence, time.Hour, nil)
	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeVideo}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeVideo}
	if _, err := pairs.Create(entryA, entryB); err != nil {
		t.Fatal(err)
	}
	drainAll(presence, "conn-a")
	drainAll(presence, "conn-b")

	signal := core.NewSignalingRelay(presence, pairs)

	signal.RelayOffer("conn-a", core.WebRTCOfferPayload{Offer: "sdp-offer"})
	env := recvEnvelope(t, presence, "conn-b")
	if env.Type != core.EvWebRTCOffer {
		t.Fatalf("got event %q, want webrtc-offer", env.Type)
	}

	signal.RelayAnswer("conn-b", core.WebRTCAnswerPayload{Answer: "sdp-answer"})
	env = recvEnvelope(t, presence, "conn-a")
	if env.Type != core.EvWebRTCAnswer {
		t.Fatalf("got event %q, want webrtc-answer", env.Type)
	}

	signal.RelayICECandidate("conn-a", core.WebRTCICECandidatePayload{Candidate: "ice-candidate"})
	env = recvEnvelope(t, presence, "conn-b")
	if env.Type != core.EvWebRTCICECandidate {
		t.Fatalf("got event %q, want webrtc-ice-candidate", env.Type)
	}
}

// TestSignalingRelayDropsUnpairedConnection verifies that signaling from a
// connection with no current pair is silently dropped rather than erroring.
func TestSignalingRelayDropsUnpairedConnection(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	presence.Accept("conn-solo")
	if _, err := presence.Bind("conn-solo", "solo", nil, core.ModeVideo, false); err != nil {
		t.Fatal(err)
	}
	pairs := core.NewPairRegistry(presence, time.Hour, nil)
	signal := core.NewSignalingRelay(presence, pairs)

	signal.RelayOffer("conn-solo", core.WebRTCOfferPayload{Offer: "sdp-offer"})

	conn, _ := presence.Get("conn-solo")
	select {
	case raw := <-conn.Send:
		t.Fatalf("expected no relayed message, got %s", raw)
	default:
	}
}
