// Package httpapi is the minimal HTTP surface spec.md §1 treats as an
// external collaborator: health, read-only statistics, and session-token
// issuance, plus the WebSocket upgrade route that hands a connection off
// to internal/transport/ws. None of it touches the pairing state machine
// beyond reading stats snapshots. Grounded on the teacher's
// cmd/api/main.go setupRouter/setupCORS and its chi middleware stack.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"chatcore/internal/auth"
	"chatcore/internal/core"
)

// Stats is the read-only snapshot returned by GET /api/admin/stats (SPEC_FULL.md
// §6's admin statistics endpoint).
type Stats struct {
	Queues QueueStats `json:"queues"`
	Pairs  PairStats  `json:"pairs"`
	Conns  int        `json:"connections"`
}

type QueueStats = core.QueueStats
type PairStats = core.PairStats

// StatsSource is the subset of the core root this router needs for the
// read-only statistics view.
type StatsSource interface {
	QueueStats() core.QueueStats
	PairStats() core.PairStats
	ConnectionCount() int
}

// WSHandler upgrades and drives a single WebSocket connection; satisfied
// by *ws.Transport.
type WSHandler interface {
	ServeWs(w http.ResponseWriter, r *http.Request)
}

// NewRouter builds the chi router: health, stats, session issuance, and
// the WS upgrade route.
func NewRouter(stats StatsSource, issuer *auth.SessionIssuer, transport WSHandler, corsOrigins string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger, chimiddleware.Recoverer)
	setupCORS(r, corsOrigins)

	r.Get("/health", handleHealth)
	r.Get("/api/admin/stats", handleStats(stats))
	r.Post("/api/session", handleSessionIssue(issuer))
	r.Get("/ws", transport.ServeWs)

	return r
}

func setupCORS(r *chi.Mux, origins string) {
	allowed := strings.Split(origins, ",")
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin"},
		MaxAge:           300,
	}).Handler)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStats(stats StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Stats{
			Queues: stats.QueueStats(),
			Pairs:  stats.PairStats(),
			Conns:  stats.ConnectionCount(),
		})
	}
}

// sessionTokenResponse is the body of POST /api/session.
type sessionTokenResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// handleSessionIssue mints a fresh opaque session id and a signed token
// carrying it (SPEC_FULL.md §6). The core never consults this token; it
// exists purely so a client has something to persist across page loads.
func handleSessionIssue(issuer *auth.SessionIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := uuid.NewString()
		token, err := issuer.IssueSessionToken(sessionID)
		if err != nil {
			http.Error(w, "failed to issue session token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, sessionTokenResponse{SessionID: sessionID, Token: token})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
