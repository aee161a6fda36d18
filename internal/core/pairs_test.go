package core_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chatcore/internal/core"
)

// TestPairRegistryCreateAdvancesToChatting verifies that Create mints a
// pair in the chatting state, with entryA recorded as the initiator
// (Member1), and both sessions updated to matched with the new pair id.
func TestPairRegistryCreateAdvancesToChatting(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	presence.Accept("conn-a")
	presence.Accept("conn-b")
	if _, err := presence.Bind("conn-a", "a", []string{"music"}, core.ModeText, false); err != nil {
		t.Fatal(err)
	}
	if _, err := presence.Bind("conn-b", "b", []string{"music"}, core.ModeText, false); err != nil {
		t.Fatal(err)
	}

	reg := core.NewPairRegistry(presence, time.Minute, nil)
	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText, Interests: []string{"music"}}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText, Interests: []string{"music"}}

	pair, err := reg.Create(entryA, entryB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.State != core.PairChatting {
		t.Fatalf("got state %q, want chatting", pair.State)
	}
	if pair.Member1.SessionID != "a" {
		t.Errorf("got initiator %q, want a", pair.Member1.SessionID)
	}

	sess, _ := presence.SessionByID("a")
	if sess.State != core.StateMatched || sess.PairID != pair.ID {
		t.Errorf("session a not updated correctly: %+v", sess)
	}
}

// TestPairRegistryCreateRejectsDoublePairing verifies that a session
// already a member of a live pair cannot be placed into a second pair.
func TestPairRegistryCreateRejectsDoublePairing(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	reg := core.NewPairRegistry(presence, time.Minute, nil)
	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText}
	if _, err := reg.Create(entryA, entryB); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entryC := core.QueueEntry{SessionID: "c", ConnID: "conn-c", Mode: core.ModeText}
	if _, err := reg.Create(entryA, entryC); !errors.Is(err, core.ErrSessionAlreadyPaired) {
		t.Fatalf("got err %v, want ErrSessionAlreadyPaired", err)
	}
}

// TestPairRegistryPartnerOfAndIsMemberOf verifies the lookup helpers used
// by ChatRelay and SignalingRelay to resolve the other side of a pair.
func TestPairRegistryPartnerOfAndIsMemberOf(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	reg := core.NewPairRegistry(presence, time.Minute, nil)
	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText}
	pair, err := reg.Create(entryA, entryB)
	if err != nil {
		t.Fatal(err)
	}

	if !reg.IsMemberOf(pair.ID, "conn-a") || !reg.IsMemberOf(pair.ID, "conn-b") {
		t.Error("both connections should be recognized as pair members")
	}
	if reg.IsMemberOf(pair.ID, "conn-x") {
		t.Error("unrelated connection should not be a pair member")
	}

	partner, ok := reg.PartnerOf(pair.ID, "conn-a")
	if !ok || partner.SessionID != "b" {
		t.Errorf("got partner %+v, want session b", partner)
	}
}

// TestPairRegistryEnterGraceThenExpireDissolves verifies that a grace
// window which elapses with no reconnection dissolves the pair, notifies
// the retained member, and invokes the dissolve hook with reason timeout.
func TestPairRegistryEnterGraceThenExpireDissolves(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	presence.Accept("conn-a")
	presence.Accept("conn-b")
	if _, err := presence.Bind("conn-a", "a", nil, core.ModeText, false); err != nil {
		t.Fatal(err)
	}
	if _, err := presence.Bind("conn-b", "b", nil, core.ModeText, false); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var gotReason core.DissolveReason
	done := make(chan struct{})
	reg := core.NewPairRegistry(presence, 20*time.Millisecond, func(pairID string, m1, m2 core.Member, reason core.DissolveReason) {
		mu.Lock()
		gotReason = reason
		mu.Unlock()
		close(done)
	})

	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText}
	pair, err := reg.Create(entryA, entryB)
	if err != nil {
		t.Fatal(err)
	}
	// Create already queued a match-found event on both sides.
	drainAll(presence, "conn-a")
	drainAll(presence, "conn-b")

	reg.EnterGrace(pair.ID, "a")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dissolve hook was not invoked within timeout")
	}

	mu.Lock()
	reason := gotReason
	mu.Unlock()
	if reason != core.ReasonTimeout {
		t.Errorf("got reason %q, want timeout", reason)
	}

	if _, ok := reg.Get(pair.ID); ok {
		t.Error("pair should no longer exist after grace expiry")
	}

	bConn, _ := presence.Get("conn-b")
	select {
	case raw := <-bConn.Send:
		var env core.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != core.EvPartnerDisconnected {
			t.Errorf("got event %q, want partner-disconnected", env.Type)
		}
	default:
		t.Error("retained member should have been notified of the timeout")
	}
}

// TestPairRegistryRestoreCancelsGraceAndResumesChatting verifies that
// Restore, called before a grace window expires, returns the pair to
// chatting and notifies the retained member of the reconnection.
func TestPairRegistryRestoreCancelsGraceAndResumesChatting(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	presence.Accept("conn-a")
	presence.Accept("conn-b")
	if _, err := presence.Bind("conn-a", "a", nil, core.ModeText, false); err != nil {
		t.Fatal(err)
	}
	if _, err := presence.Bind("conn-b", "b", nil, core.ModeText, false); err != nil {
		t.Fatal(err)
	}

	reg := core.NewPairRegistry(presence, time.Hour, nil)
	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText}
	pair, err := reg.Create(entryA, entryB)
	if err != nil {
		t.Fatal(err)
	}

	reg.EnterGrace(pair.ID, "a")

	restored, err := reg.Restore(pair.ID, "a", "conn-a2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored.State != core.PairChatting {
		t.Errorf("got state %q, want chatting", restored.State)
	}
	if restored.AbsentSessionID != "" {
		t.Errorf("got AbsentSessionID %q, want empty", restored.AbsentSessionID)
	}
}

// TestPairRegistryRestoreRejectsWrongSession verifies Restore refuses to
// restore a pair for a session that is not the one currently absent.
func TestPairRegistryRestoreRejectsWrongSession(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	reg := core.NewPairRegistry(presence, time.Hour, nil)
	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText}
	pair, err := reg.Create(entryA, entryB)
	if err != nil {
		t.Fatal(err)
	}
	reg.EnterGrace(pair.ID, "a")

	if _, err := reg.Restore(pair.ID, "b", "conn-b2"); err != core.ErrPairNotInGrace {
		t.Fatalf("got err %v, want ErrPairNotInGrace", err)
	}
}

// TestPairRegistryDissolveNotifiesPartnerAndInvokesHook verifies that a
// voluntary Dissolve (e.g. skip-user) immediately removes the pair and
// notifies the other member with the given reason.
func TestPairRegistryDissolveNotifiesPartnerAndInvokesHook(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	presence.Accept("conn-a")
	presence.Accept("conn-b")
	if _, err := presence.Bind("conn-a", "a", nil, core.ModeText, false); err != nil {
		t.Fatal(err)
	}
	if _, err := presence.Bind("conn-b", "b", nil, core.ModeText, false); err != nil {
		t.Fatal(err)
	}

	var hookReason core.DissolveReason
	reg := core.NewPairRegistry(presence, time.Hour, func(pairID string, m1, m2 core.Member, reason core.DissolveReason) {
		hookReason = reason
	})
	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText}
	pair, err := reg.Create(entryA, entryB)
	if err != nil {
		t.Fatal(err)
	}
	// Create already queued a match-found event on both sides.
	drainAll(presence, "conn-a")
	drainAll(presence, "conn-b")

	if err := reg.Dissolve(pair.ID, "conn-a", core.ReasonSkipped); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hookReason != core.ReasonSkipped {
		t.Errorf("got hook reason %q, want skipped", hookReason)
	}
	if _, ok := reg.Get(pair.ID); ok {
		t.Error("pair should be gone after Dissolve")
	}

	bConn, _ := presence.Get("conn-b")
	select {
	case raw := <-bConn.Send:
		var env core.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != core.EvPartnerDisconnected {
			t.Errorf("got event %q, want partner-disconnected", env.Type)
		}
	default:
		t.Error("partner should have been notified")
	}

	aConn, _ := presence.Get("conn-a")
	select {
	case raw := <-aConn.Send:
		var env core.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != core.EvSkipConfirmed {
			t.Errorf("got event %q, want skip-confirmed", env.Type)
		}
	default:
		t.Error("the skipper should have received a skip-confirmed ack")
	}
}

// TestPairRegistryDissolveUnknownPair verifies Dissolve reports
// ErrPairNotFound for an id it has no record of.
func TestPairRegistryDissolveUnknownPair(t *testing.T) {
	t.Parallel()

	reg := core.NewPairRegistry(core.NewPresence(), time.Hour, nil)
	if err := reg.Dissolve("does-not-exist", "conn-a", core.ReasonLeft); err != core.ErrPairNotFound {
		t.Fatalf("got err %v, want ErrPairNotFound", err)
	}
}

// TestPairRegistryStats verifies pair counts are bucketed by state.
func TestPairRegistryStats(t *testing.T) {
	t.Parallel()

	presence := core.NewPresence()
	reg := core.NewPairRegistry(presence, time.Hour, nil)

	entryA := core.QueueEntry{SessionID: "a", ConnID: "conn-a", Mode: core.ModeText}
	entryB := core.QueueEntry{SessionID: "b", ConnID: "conn-b", Mode: core.ModeText}
	if _, err := reg.Create(entryA, entryB); err != nil {
		t.Fatal(err)
	}

	entryC := core.QueueEntry{SessionID: "c", ConnID: "conn-c", Mode: core.ModeText}
	entryD := core.QueueEntry{SessionID: "d", ConnID: "conn-d", Mode: core.ModeText}
	pair2, err := reg.Create(entryC, entryD)
	if err != nil {
		t.Fatal(err)
	}
	reg.EnterGrace(pair2.ID, "c")

	stats := reg.Stats()
	if stats.Chatting != 1 || stats.Grace != 1 {
		t.Fatalf("got %+v, want Chatting=1 Grace=1", stats)
	}
}
