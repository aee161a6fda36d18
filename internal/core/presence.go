package core

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// sendBufferSize bounds each connection's outbound channel (spec.md §9,
// "Fan-out via bounded channels"). Overflow is treated as the connection
// being unhealthy: Emit closes it rather than blocking the writer that
// produced the event.
const sendBufferSize = 256

// Presence is the authoritative map of connected clients and the
// connection↔session binding (C1). All mutations are serialized through
// a single mutex; a reader either observes a fully updated Session or
// none, satisfying spec.md §4.1's guarantee.
type Presence struct {
	mu sync.RWMutex

	conns    map[string]*Connection // connId -> Connection
	sessions map[string]*Session    // sessionId -> Session
	bySess   map[string]string      // sessionId -> connId
	byConn   map[string]string      // connId -> sessionId

	onEvicted func(connID string) // not set by any wiring; Heartbeat takes its eviction callback in NewHeartbeat
}

// NewPresence creates an empty Presence registry.
func NewPresence() *Presence {
	return &Presence{
		conns:    make(map[string]*Connection),
		sessions: make(map[string]*Session),
		bySess:   make(map[string]string),
		byConn:   make(map[string]string),
	}
}

// Accept registers a brand-new connection with no session bound yet.
func (p *Presence) Accept(connID string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &Connection{ID: connID, LastPong: time.Now(), Send: make(chan []byte, sendBufferSize)}
	p.conns[connID] = c
	return c
}

// Bind associates connID with sessionID, creating the Session on first
// contact. It is idempotent when called again with the same (connID,
// sessionID) pair. A conflicting bind — sessionID already owned by a
// different live connection — fails with ErrSessionOwnedElsewhere unless
// allowTakeover is set (the Reconnector's explicit rebind path).
func (p *Presence) Bind(connID, sessionID string, interests []string, mode Mode, allowTakeover bool) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existingConn, ok := p.bySess[sessionID]; ok && existingConn != connID && !allowTakeover {
		if _, live := p.conns[existingConn]; live {
			return nil, ErrSessionOwnedElsewhere
		}
	}

	sess, ok := p.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID, State: StateIdle}
		p.sessions[sessionID] = sess
	}
	if len(interests) > 0 {
		sess.Interests = normalizeInterests(interests)
	}
	if mode != "" {
		sess.Mode = mode
	}
	sess.ConnID = connID

	if prevConn := p.bySess[sessionID]; prevConn != "" && prevConn != connID {
		delete(p.byConn, prevConn)
	}
	p.bySess[sessionID] = connID
	p.byConn[connID] = sessionID

	if conn, ok := p.conns[connID]; ok {
		conn.SessionID = sessionID
	}

	return sess, nil
}

// Rebind moves sessionID's binding from oldConnID to newConnID. Used by
// the Reconnector when a new connection presents a session id that was
// previously bound elsewhere.
func (p *Presence) Rebind(oldConnID, newConnID, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if oldConnID != "" {
		delete(p.byConn, oldConnID)
	}
	p.bySess[sessionID] = newConnID
	p.byConn[newConnID] = sessionID
	if sess, ok := p.sessions[sessionID]; ok {
		sess.ConnID = newConnID
	}
	if conn, ok := p.conns[newConnID]; ok {
		conn.SessionID = sessionID
	}
}

// Get returns the Connection for connID.
func (p *Presence) Get(connID string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[connID]
	return c, ok
}

// Session returns the Session bound to connID, if any.
func (p *Presence) Session(connID string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sessID, ok := p.byConn[connID]
	if !ok {
		return nil, false
	}
	sess, ok := p.sessions[sessID]
	return sess, ok
}

// GetBySession returns the connId currently bound to sessionID.
func (p *Presence) GetBySession(sessionID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	connID, ok := p.bySess[sessionID]
	return connID, ok
}

// SessionByID returns the Session struct for sessionID.
func (p *Presence) SessionByID(sessionID string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.sessions[sessionID]
	return sess, ok
}

// UpdateSession applies patch under the Presence lock. patch must not
// retain the pointer past the call.
func (p *Presence) UpdateSession(sessionID string, patch func(*Session)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.sessions[sessionID]; ok {
		patch(sess)
	}
}

// Remove destroys a connection (spec.md's Connection lifecycle: accept →
// ... → destroyed). It does not touch the Session — callers decide
// whether the owning session should be reset to idle or enter grace.
func (p *Presence) Remove(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(connID)
}

func (p *Presence) removeLocked(connID string) {
	conn, ok := p.conns[connID]
	if !ok {
		return
	}
	delete(p.conns, connID)
	if sessID, ok := p.byConn[connID]; ok {
		delete(p.byConn, connID)
		// Only clear the session's forward pointer if it still points at
		// this connection (it may have already been rebound elsewhere).
		if p.bySess[sessID] == connID {
			delete(p.bySess, sessID)
		}
	}
	closeSendChan(conn)
}

// RemoveSession fully forgets sessionID (used when a session leaves
// idle/queued with no pair to preserve).
func (p *Presence) RemoveSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
	if connID, ok := p.bySess[sessionID]; ok {
		delete(p.bySess, sessionID)
		delete(p.byConn, connID)
	}
}

// RecordPong resets a connection's missed-ping counter (C5 Heartbeat).
func (p *Presence) RecordPong(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[connID]; ok {
		c.MissedPings = 0
		c.LastPong = time.Now()
	}
}

// IncrementMissedPings increments and returns the new missed-ping count.
func (p *Presence) IncrementMissedPings(connID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[connID]
	if !ok {
		return 0, false
	}
	c.MissedPings++
	return c.MissedPings, true
}

// ForEachConnection calls f for every connection id live at the time of
// the call. The ids are snapshotted under the read lock and f runs after
// the lock is released, so f may call back into Presence.
func (p *Presence) ForEachConnection(f func(connID string)) {
	p.mu.RLock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	for _, id := range ids {
		f(id)
	}
}

// LiveConnIDs returns a snapshot of all currently live connection ids,
// used by MatchQueues.Sweep.
func (p *Presence) LiveConnIDs() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.conns))
	for id := range p.conns {
		out[id] = true
	}
	return out
}

// Emit marshals an event envelope and delivers it to connID's outbound
// channel without blocking. If the channel is full the connection is
// deemed unhealthy and closed (spec.md §9).
func (p *Presence) Emit(connID, eventType string, data any) {
	p.mu.RLock()
	conn, ok := p.conns[connID]
	p.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(Envelope{Type: eventType, Data: data})
	if err != nil {
		log.Printf("[Presence] CRITICAL: failed to marshal event %q for conn %s: %v", eventType, connID, err)
		return
	}

	select {
	case conn.Send <- payload:
	default:
		log.Printf("[Presence] send buffer full for conn %s, closing connection", connID)
		p.Remove(connID)
	}
}

func closeSendChan(c *Connection) {
	defer func() { recover() }() // guards against a double-close race with the transport
	close(c.Send)
}

func normalizeInterests(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		n := normalizeInterest(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		if len(out) == 10 {
			break
		}
	}
	return out
}
