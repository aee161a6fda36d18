package core

import (
	"context"
	"log"
	"time"
)

// Config bundles every spec.md §6 configuration key the core consults.
// internal/config.Config is converted into this at startup so internal/
// core has no dependency on the env-loading package.
type Config struct {
	GracePeriod      time.Duration
	PingInterval     time.Duration
	MaxMissedPings   int
	StarvationBonus  time.Duration
	QueueSweepPeriod time.Duration

	ModerationURL         string
	ModerationThreshold   float64
	ModerationTimeout     time.Duration
	ModerationBlockOnFail bool
	MaxFlagsBeforeWarn    int
	MaxFlagsBeforeKick    int

	MessageExpiry time.Duration
}

// Root is the single owning handle for every core component (spec.md §9:
// "object-ish service singletons become structs owned by a root" — no
// process-wide globals). cmd/chatcore/main.go constructs exactly one Root
// and wires the HTTP/WS transport to it.
type Root struct {
	Presence   *Presence
	Queues     *MatchQueues
	Pairs      *PairRegistry
	Recon      *Reconnector
	Heartbeat  *Heartbeat
	Moderator  *Moderator
	Chat       *ChatRelay
	Signal     *SignalingRelay
	Dispatcher *EventDispatcher

	cfg Config
}

// NewRoot wires every component in dependency order (spec.md §9: the
// cross-service call graph is a DAG once Reconnector/ChatRelay/
// SignalingRelay are expressed as leaf consumers of Presence+PairRegistry).
func NewRoot(cfg Config, messages MessageStore, hot HotStore, reports ReportStore) *Root {
	presence := NewPresence()
	queues := NewMatchQueues(cfg.StarvationBonus)
	moderator := NewModerator(cfg.ModerationURL, cfg.ModerationThreshold, cfg.ModerationTimeout, cfg.ModerationBlockOnFail, cfg.MaxFlagsBeforeWarn, cfg.MaxFlagsBeforeKick)
	chat := NewChatRelay(presence, nil, moderator, messages, hot, cfg.MessageExpiry)

	pairs := NewPairRegistry(presence, cfg.GracePeriod, nil)
	// ChatRelay needs PairRegistry and PairRegistry needs ChatRelay's
	// DissolveHook: the cycle is broken by constructing both with a nil
	// counterpart first, then wiring each side once both exist.
	chat.pairs = pairs
	pairs.onDissolve = chat.DissolveHook()

	recon := NewReconnector(presence, pairs, moderator)
	signal := NewSignalingRelay(presence, pairs)
	dispatcher := NewEventDispatcher(presence, queues, pairs, recon, chat, signal, reports)

	heartbeat := NewHeartbeat(presence, cfg.PingInterval, cfg.MaxMissedPings, func(connID string) {
		dispatcher.HandleDisconnect(connID)
	})

	return &Root{
		Presence:   presence,
		Queues:     queues,
		Pairs:      pairs,
		Recon:      recon,
		Heartbeat:  heartbeat,
		Moderator:  moderator,
		Chat:       chat,
		Signal:     signal,
		Dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Run starts every background worker (heartbeat ticker, queue sweeper)
// and blocks until ctx is cancelled.
func (r *Root) Run(ctx context.Context) {
	go r.Heartbeat.Run(ctx)
	go r.sweepLoop(ctx)
	<-ctx.Done()
}

func (r *Root) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.QueueSweepPeriod)
	defer ticker.Stop()
	log.Println("[Root] queue sweeper running")
	for {
		select {
		case <-ticker.C:
			r.Queues.Sweep(r.Presence.LiveConnIDs())
		case <-ctx.Done():
			log.Println("[Root] queue sweeper stopped")
			return
		}
	}
}

// QueueStats exposes MatchQueues depth for the HTTP statistics surface.
func (r *Root) QueueStats() QueueStats { return r.Queues.Stats() }

// PairStats exposes Pair counts by state for the HTTP statistics surface.
func (r *Root) PairStats() PairStats { return r.Pairs.Stats() }

// ConnectionCount exposes the live connection count for the HTTP
// statistics surface.
func (r *Root) ConnectionCount() int {
	count := 0
	r.Presence.ForEachConnection(func(string) { count++ })
	return count
}
