package core

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxContentLength = 1000

// ChatRelay handles send-message, get-messages, typing, mark-read, and
// voluntary disconnect-chat (C7, spec.md §4.7).
type ChatRelay struct {
	presence  *Presence
	pairs     *PairRegistry
	moderator *Moderator
	messages  MessageStore
	hot       HotStore

	messageExpiry time.Duration
	typingTTL     time.Duration

	kickDelay time.Duration // spec.md §4.6: ~500ms before terminating a kicked connection
}

// NewChatRelay wires a ChatRelay to the shared roots and its moderation/
// storage collaborators.
func NewChatRelay(presence *Presence, pairs *PairRegistry, moderator *Moderator, messages MessageStore, hot HotStore, messageExpiry time.Duration) *ChatRelay {
	return &ChatRelay{
		presence:      presence,
		pairs:         pairs,
		moderator:     moderator,
		messages:      messages,
		hot:           hot,
		messageExpiry: messageExpiry,
		typingTTL:     10 * time.Second,
		kickDelay:     500 * time.Millisecond,
	}
}

// activeChat resolves connID to its session and chatting pair, or
// returns ok=false if the connection is not currently in an active chat
// (spec.md §4.7 step 1).
func (c *ChatRelay) activeChat(connID string) (sess *Session, pair *Pair, ok bool) {
	sess, ok = c.presence.Session(connID)
	if !ok || sess.PairID == "" {
		return nil, nil, false
	}
	pair, ok = c.pairs.Get(sess.PairID)
	if !ok || pair.State != PairChatting {
		return nil, nil, false
	}
	return sess, pair, true
}

// SendMessage implements the send-message contract (spec.md §4.7).
func (c *ChatRelay) SendMessage(ctx context.Context, connID string, payload SendMessagePayload) {
	sess, pair, ok := c.activeChat(connID)
	if !ok {
		c.presence.Emit(connID, EvMessageError, ErrorPayload{Error: "Not in an active chat session"})
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		c.presence.Emit(connID, EvMessageError, ErrorPayload{Error: "message is empty"})
		return
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		c.presence.Emit(connID, EvMessageError, ErrorPayload{Error: "message exceeds maximum length"})
		return
	}

	partner, _ := pair.OtherMember(sess.ID)

	result := c.moderator.Check(ctx, content, sess.ID)
	if !result.Allowed {
		c.presence.Emit(connID, EvMessageBlocked, MessageBlockedPayload{
			Reason:     result.Reason,
			Categories: result.Categories,
			Action:     result.Action,
		})
		switch result.Action {
		case actionWarn:
			c.presence.Emit(connID, EvModerationWarning, ModerationWarningPayload{
				Message:   "Please keep the conversation respectful.",
				FlagCount: c.moderator.GetFlagCount(sess.ID),
			})
		case actionKick:
			c.presence.Emit(connID, EvModerationKick, ModerationKickPayload{
				Message: "You have been removed for repeated violations.",
			})
			go func(pairID, connID string) {
				time.Sleep(c.kickDelay)
				c.pairs.Dissolve(pairID, connID, ReasonKicked)
				c.presence.Remove(connID)
			}(pair.ID, connID)
		}
		return
	}

	msgType := payload.Type
	if msgType == "" {
		msgType = "text"
	}
	now := time.Now()
	msg := ChatMessage{
		ID:          uuid.NewString(),
		PairID:      pair.ID,
		SenderID:    sess.ID,
		RecipientID: partner.SessionID,
		Content:     content,
		Type:        msgType,
		Status:      MessageSent,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.messageExpiry),
	}

	stored, err := c.messages.Save(ctx, msg)
	if err != nil {
		// StoreFailure (spec.md §7): best-effort reply with a transient id
		// rather than failing the relay outright.
		log.Printf("[ChatRelay] WARNING: failed to persist message for pair %s: %v", pair.ID, err)
		stored = msg
	}

	c.presence.Emit(partner.ConnID, EvMessageReceived, stored)
	c.presence.Emit(connID, EvMessageSent, stored)
}

// GetMessages implements get-messages.
func (c *ChatRelay) GetMessages(ctx context.Context, connID string, payload GetMessagesPayload) {
	sess, pair, ok := c.activeChat(connID)
	if !ok {
		c.presence.Emit(connID, EvMessagesError, ErrorPayload{Error: "Not in an active chat session"})
		return
	}
	_ = sess

	limit := payload.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := c.messages.ListByRoom(ctx, pair.ID, limit, payload.Skip)
	if err != nil {
		log.Printf("[ChatRelay] get-messages store failure for pair %s: %v", pair.ID, err)
		c.presence.Emit(connID, EvMessagesError, ErrorPayload{Error: "failed to load messages"})
		return
	}
	c.presence.Emit(connID, EvMessagesLoaded, MessagesLoadedPayload{Messages: msgs, RoomID: pair.ID})
}

// Typing implements typing/stop-typing. Idempotent; HotStore failures are
// swallowed per spec.md §4.7.
func (c *ChatRelay) Typing(ctx context.Context, connID string, typing bool) {
	sess, pair, ok := c.activeChat(connID)
	if !ok {
		return
	}
	partner, _ := pair.OtherMember(sess.ID)

	var err error
	if typing {
		err = c.hot.SetTyping(ctx, pair.ID, sess.ID, c.typingTTL)
	} else {
		err = c.hot.ClearTyping(ctx, pair.ID, sess.ID)
	}
	if err != nil {
		log.Printf("[ChatRelay] typing flag store failure for pair %s: %v (swallowed)", pair.ID, err)
	}

	c.presence.Emit(partner.ConnID, EvPartnerTyping, typing)
}

// MarkMessagesRead implements mark-messages-read.
func (c *ChatRelay) MarkMessagesRead(ctx context.Context, connID string) {
	sess, pair, ok := c.activeChat(connID)
	if !ok {
		c.presence.Emit(connID, EvMessagesError, ErrorPayload{Error: "Not in an active chat session"})
		return
	}
	partner, _ := pair.OtherMember(sess.ID)

	count, err := c.messages.MarkRead(ctx, pair.ID, sess.ID)
	if err != nil {
		log.Printf("[ChatRelay] mark-messages-read store failure for pair %s: %v", pair.ID, err)
		c.presence.Emit(connID, EvMessagesError, ErrorPayload{Error: "failed to mark messages read"})
		return
	}

	c.presence.Emit(connID, EvMessagesMarkedRead, MessagesMarkedReadPayload{Count: count, RoomID: pair.ID})
	c.presence.Emit(partner.ConnID, EvMessagesReadByPartner, MessagesReadByPartnerPayload{ReadBy: sess.ID, Count: count})
}

// DisconnectChat implements the voluntary disconnect-chat event:
// immediate dissolve, TTL scheduling (via PairRegistry's DissolveHook),
// and violation counter reset for the leaver (spec.md §4.7).
func (c *ChatRelay) DisconnectChat(ctx context.Context, connID string) {
	sess, pair, ok := c.activeChat(connID)
	if !ok {
		return
	}
	if err := c.pairs.Dissolve(pair.ID, connID, ReasonLeft); err != nil {
		log.Printf("[ChatRelay] disconnect-chat: %v", err)
		return
	}
	c.moderator.ResetFlagCount(sess.ID)
}

// DissolveHook returns the hook ChatRelay registers with PairRegistry to
// schedule TTL deletion and reset moderation state on any dissolve path
// (voluntary, skip, kick, or grace timeout) — wired once at startup.
func (c *ChatRelay) DissolveHook() DissolveHook {
	return func(pairID string, m1, m2 Member, reason DissolveReason) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.messages.ScheduleTTL(ctx, pairID, time.Now().Add(c.messageExpiry)); err != nil {
			log.Printf("[ChatRelay] WARNING: failed to schedule TTL deletion for room %s: %v", pairID, err)
		}
		if reason == ReasonLeft || reason == ReasonSkipped {
			c.moderator.ResetFlagCount(m1.SessionID)
			c.moderator.ResetFlagCount(m2.SessionID)
		}
	}
}
