package core

import (
	"context"
	"log"
	"time"
)

// Heartbeat periodically pings every live connection and evicts those
// that have missed too many consecutive pongs (C5, spec.md §4.5).
type Heartbeat struct {
	presence       *Presence
	interval       time.Duration
	maxMissed      int
	onEvict        func(connID string) // forces the normal disconnect path
}

// NewHeartbeat wires a Heartbeat to the shared Presence root. onEvict is
// called (forcibly closing the connection) once a connection's missed
// count exceeds maxMissed; it must trigger the same path a real
// transport close would (Reconnector.StartGraceOrDispose), so grace
// windows still open for chatting pairs.
func NewHeartbeat(presence *Presence, interval time.Duration, maxMissed int, onEvict func(connID string)) *Heartbeat {
	return &Heartbeat{presence: presence, interval: interval, maxMissed: maxMissed, onEvict: onEvict}
}

// Run walks Presence on each tick, forever, until ctx is cancelled.
// Ordering contract (spec.md §4.5): the missed-ping counter is
// incremented before the ping is emitted, so a connection that has
// already exceeded the threshold is evicted on this tick rather than
// surviving to the next.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	log.Println("[Heartbeat] running")
	for {
		select {
		case <-ticker.C:
			h.tick()
		case <-ctx.Done():
			log.Println("[Heartbeat] stopped")
			return
		}
	}
}

func (h *Heartbeat) tick() {
	var toEvict []string
	h.presence.ForEachConnection(func(connID string) {
		missed, ok := h.presence.IncrementMissedPings(connID)
		if !ok {
			return
		}
		if missed > h.maxMissed {
			toEvict = append(toEvict, connID)
			return
		}
		h.presence.Emit(connID, EvPing, nil)
	})
	for _, connID := range toEvict {
		log.Printf("[Heartbeat] evicting conn %s: exceeded missed-ping budget", connID)
		if h.onEvict != nil {
			h.onEvict(connID)
		}
	}
}
