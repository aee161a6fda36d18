package core

import "errors"

// Error taxonomy (spec.md §7). These are not exhaustive failure values but
// sentinel kinds: callers check with errors.Is and decide how to surface
// them to the originating connection. None of them are fatal to the
// connection; only a FatalProcess-kind panic (handled by the transport's
// recover guard) closes it.
var (
	// ErrSessionOwnedElsewhere: a Bind was attempted for a session id
	// already bound to a different live connection, and the caller was
	// not the Reconnector performing an explicit takeover.
	ErrSessionOwnedElsewhere = errors.New("session already owned by another connection")

	// ErrNotInChat: the sender is not a member of a Pair in the chatting
	// state, e.g. send-message while idle or queued.
	ErrNotInChat = errors.New("not in an active chat session")

	// ErrPairNotInGrace: Restore was called for a pair that is not
	// currently in the grace state, or the session is not the absent
	// member.
	ErrPairNotInGrace = errors.New("pair is not awaiting reconnection for this session")

	// ErrPairNotFound: operation referenced a pair id with no live Pair.
	ErrPairNotFound = errors.New("pair not found")

	// ErrSessionAlreadyPaired: ProtocolViolationInternal — an attempt to
	// create a Pair where a session is already a member of a live Pair.
	ErrSessionAlreadyPaired = errors.New("session is already a member of a pair")

	// ErrEmptyContent: send-message with empty (post-trim) content.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrContentTooLong: send-message content exceeds the 1000 char cap.
	ErrContentTooLong = errors.New("message content exceeds maximum length")
)
