package core

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-playground/validator/v10"
)

// EventDispatcher is the single entry point for every inbound client
// event (C9, spec.md §4.9). The transport layer owns the socket; it only
// calls HandleMessage (for each decoded frame) and HandleDisconnect (when
// the socket closes). Every other core component is reached only through
// the dispatcher's routing table, matching the teacher's
// handleIncomingMessage switch-on-type convention.
type EventDispatcher struct {
	presence *Presence
	queues   *MatchQueues
	pairs    *PairRegistry
	recon    *Reconnector
	chat     *ChatRelay
	signal   *SignalingRelay
	reports  ReportStore

	validate *validator.Validate
}

// NewEventDispatcher wires an EventDispatcher to every core collaborator.
func NewEventDispatcher(presence *Presence, queues *MatchQueues, pairs *PairRegistry, recon *Reconnector, chat *ChatRelay, signal *SignalingRelay, reports ReportStore) *EventDispatcher {
	return &EventDispatcher{
		presence: presence,
		queues:   queues,
		pairs:    pairs,
		recon:    recon,
		chat:     chat,
		signal:   signal,
		reports:  reports,
		validate: validator.New(),
	}
}

// envelopeIn mirrors Envelope but keeps Data raw so each handler can
// unmarshal into its own payload type only once routing has decided
// which one applies.
type envelopeIn struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleMessage decodes and routes one inbound frame for connID. It never
// panics: a malformed frame or an unknown type yields an "error" event
// back to the sender rather than killing the connection (spec.md §4.9).
func (d *EventDispatcher) HandleMessage(ctx context.Context, connID string, raw []byte) {
	var env envelopeIn
	if err := json.Unmarshal(raw, &env); err != nil {
		d.presence.Emit(connID, EvError, ErrorPayload{Error: "invalid message format"})
		return
	}

	switch env.Type {
	case EvUserJoin:
		d.handleUserJoin(connID, env.Data)
	case EvJoinQueue:
		d.handleJoinQueue(connID, env.Data)
	case EvLeaveQueue:
		d.handleLeaveQueue(connID)
	case EvSkipUser:
		d.handleSkipUser(connID)
	case EvSendMessage:
		d.handleSendMessage(ctx, connID, env.Data)
	case EvGetMessages:
		d.handleGetMessages(ctx, connID, env.Data)
	case EvTyping:
		d.chat.Typing(ctx, connID, true)
	case EvStopTyping:
		d.chat.Typing(ctx, connID, false)
	case EvMarkMessagesRead:
		d.chat.MarkMessagesRead(ctx, connID)
	case EvReportUser:
		d.handleReportUser(ctx, connID, env.Data)
	case EvDisconnectChat:
		d.chat.DisconnectChat(ctx, connID)
	case EvWebRTCOffer:
		d.handleWebRTCOffer(connID, env.Data)
	case EvWebRTCAnswer:
		d.handleWebRTCAnswer(connID, env.Data)
	case EvWebRTCICECandidate:
		d.handleWebRTCICECandidate(connID, env.Data)
	case EvPong:
		d.presence.RecordPong(connID)
	default:
		d.presence.Emit(connID, EvError, ErrorPayload{Error: "unknown event type: " + env.Type})
	}
}

// decodeAndValidate unmarshals raw into dst and runs struct validation,
// emitting an "error" event and returning false on either failure.
func (d *EventDispatcher) decodeAndValidate(connID string, raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		d.presence.Emit(connID, EvError, ErrorPayload{Error: "invalid payload"})
		return false
	}
	if err := d.validate.Struct(dst); err != nil {
		d.presence.Emit(connID, EvError, ErrorPayload{Error: "validation error: " + err.Error()})
		return false
	}
	return true
}

// handleUserJoin implements spec.md §4.1/§4.4: first try a reconnect; on
// failure, bind fresh and confirm the session.
func (d *EventDispatcher) handleUserJoin(connID string, raw json.RawMessage) {
	var payload UserJoinPayload
	if !d.decodeAndValidate(connID, raw, &payload) {
		return
	}

	if result := d.recon.Try(connID, payload.SessionID); result.Restored {
		d.presence.Emit(connID, EvReconnectSuccess, ReconnectSuccessPayload{
			MatchRestored: true,
			RoomID:        result.Pair.ID,
			PartnerID:     result.PartnerID,
		})
		return
	}

	mode := Mode(payload.Mode)
	if _, err := d.presence.Bind(connID, payload.SessionID, payload.Interests, mode, false); err != nil {
		d.presence.Emit(connID, EvError, ErrorPayload{Error: err.Error()})
		return
	}
	d.presence.Emit(connID, EvSessionConfirmed, SessionConfirmedPayload{SessionID: payload.SessionID})
}

// handleJoinQueue implements spec.md §4.2: enqueue, and either pair
// immediately or report queue position.
func (d *EventDispatcher) handleJoinQueue(connID string, raw json.RawMessage) {
	var payload JoinQueuePayload
	if !d.decodeAndValidate(connID, raw, &payload) {
		return
	}

	sess, ok := d.presence.Session(connID)
	if !ok {
		d.presence.Emit(connID, EvError, ErrorPayload{Error: "must join before queueing"})
		return
	}

	mode := Mode(payload.Mode)
	interests := payload.Interests
	if len(interests) == 0 {
		interests = sess.Interests
	}
	d.presence.UpdateSession(sess.ID, func(s *Session) {
		s.State = StateQueued
		s.Mode = mode
		if len(payload.Interests) > 0 {
			s.Interests = payload.Interests
		}
	})

	entry := QueueEntry{SessionID: sess.ID, ConnID: connID, Interests: interests, Mode: mode}
	result := d.queues.Enqueue(entry)

	if !result.Matched {
		pos := d.queues.Position(connID)
		d.presence.Emit(connID, EvQueueStatus, QueueStatusPayload{
			Position:      pos,
			EstimatedWait: pos * 5,
			Message:       "Waiting for a match...",
		})
		return
	}

	if _, err := d.pairs.Create(result.A, result.B); err != nil {
		log.Printf("[EventDispatcher] pair creation failed for %s/%s: %v", result.A.SessionID, result.B.SessionID, err)
		d.presence.Emit(connID, EvError, ErrorPayload{Error: "failed to create match"})
	}
}

// handleLeaveQueue implements leave-queue: drop the queue entry and
// return the session to idle.
func (d *EventDispatcher) handleLeaveQueue(connID string) {
	d.queues.Remove(connID)
	sess, ok := d.presence.Session(connID)
	if !ok {
		return
	}
	d.presence.UpdateSession(sess.ID, resetToIdle)
}

// handleSkipUser implements skip-user: dissolve the caller's active pair
// with reason "skipped". If the caller is only queued (no pair yet), this
// is a no-op — the client is expected to send leave-queue instead.
func (d *EventDispatcher) handleSkipUser(connID string) {
	sess, ok := d.presence.Session(connID)
	if !ok || sess.PairID == "" {
		return
	}
	if err := d.pairs.Dissolve(sess.PairID, connID, ReasonSkipped); err != nil {
		log.Printf("[EventDispatcher] skip-user: %v", err)
	}
}

func (d *EventDispatcher) handleSendMessage(ctx context.Context, connID string, raw json.RawMessage) {
	var payload SendMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		d.presence.Emit(connID, EvMessageError, ErrorPayload{Error: "invalid payload"})
		return
	}
	d.chat.SendMessage(ctx, connID, payload)
}

func (d *EventDispatcher) handleGetMessages(ctx context.Context, connID string, raw json.RawMessage) {
	var payload GetMessagesPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			d.presence.Emit(connID, EvMessagesError, ErrorPayload{Error: "invalid payload"})
			return
		}
	}
	d.chat.GetMessages(ctx, connID, payload)
}

// handleReportUser persists a report-user submission (SPEC_FULL.md §6
// supplement) and always acknowledges, even on store failure, since the
// report itself (not its durability) is what the client cares about.
func (d *EventDispatcher) handleReportUser(ctx context.Context, connID string, raw json.RawMessage) {
	var payload ReportUserPayload
	if !d.decodeAndValidate(connID, raw, &payload) {
		return
	}
	sess, ok := d.presence.Session(connID)
	if !ok {
		d.presence.Emit(connID, EvError, ErrorPayload{Error: "must join before reporting"})
		return
	}

	reportID, err := d.reports.Save(ctx, sess.ID, payload.ReportedUserID, payload.Reason)
	if err != nil {
		log.Printf("[EventDispatcher] report-user store failure: %v", err)
		d.presence.Emit(connID, EvReportSubmitted, ReportSubmittedPayload{Success: false, Message: "failed to record report"})
		return
	}
	d.presence.Emit(connID, EvReportSubmitted, ReportSubmittedPayload{Success: true, ReportID: reportID, Message: "Report received."})
}

func (d *EventDispatcher) handleWebRTCOffer(connID string, raw json.RawMessage) {
	var payload WebRTCOfferPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	d.signal.RelayOffer(connID, payload)
}

func (d *EventDispatcher) handleWebRTCAnswer(connID string, raw json.RawMessage) {
	var payload WebRTCAnswerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	d.signal.RelayAnswer(connID, payload)
}

func (d *EventDispatcher) handleWebRTCICECandidate(connID string, raw json.RawMessage) {
	var payload WebRTCICECandidatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	d.signal.RelayICECandidate(connID, payload)
}

// HandleDisconnect is called by the transport exactly once per connection
// close, regardless of cause (clean close, error, or heartbeat eviction).
func (d *EventDispatcher) HandleDisconnect(connID string) {
	d.recon.StartGraceOrDispose(connID, d.queues)
}
