// Package server exposes the turn pipeline over HTTP: clients POST
// transcribed utterances and hold a WebSocket open for live task updates.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/voicetask/internal/orchestrator"
	"github.com/normanking/voicetask/internal/push"
	"github.com/normanking/voicetask/internal/router"
	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/pkg/types"
)

// maxTurnBody caps the request body for /api/turn. Utterances are short
// transcripts; anything bigger is not speech.
const maxTurnBody = 64 * 1024

// Server is the HTTP/WebSocket front end.
type Server struct {
	db      *store.Store
	httpSrv *http.Server
	log     zerolog.Logger

	turns  *orchestrator.Driver
	hub    *push.Hub
	routes *router.SmartRouter
}

// New assembles the server. The hub may be nil when push is disabled.
func New(addr string, turns *orchestrator.Driver, hub *push.Hub, s *store.Store, rt *router.SmartRouter) *Server {
	srv := &Server{
		db:     s,
		turns:  turns,
		hub:    hub,
		routes: rt,
		log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("component", "server").Logger(),
	}
	srv.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/turn", s.handleTurn)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/traces", s.handleTraces)
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.ServeWS)
	}
	return s.logRequests(mux)
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════

// TurnRequest is the body of POST /api/turn.
type TurnRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Utterance      string `json:"utterance"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req TurnRequest
	body := http.MaxBytesReader(w, r.Body, maxTurnBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.ConversationID == "" || req.Utterance == "" {
		writeError(w, http.StatusBadRequest, "user_id, conversation_id and utterance are required")
		return
	}

	result, err := s.turns.ProcessTurn(r.Context(), req.UserID, req.ConversationID, req.Utterance)
	if err != nil {
		s.log.Warn().
			Str("user_id", req.UserID).
			Str("conversation_id", req.ConversationID).
			Err(err).
			Msg("turn failed")
		if result == nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Failed turns still carry a presentable result; the client shows the
		// message and may retry as a fresh turn.
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	var detail string
	if err := s.db.Health(); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		detail = err.Error()
	}

	writeJSON(w, code, map[string]string{
		"status":  status,
		"service": "voicetask",
		"detail":  detail,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.routes.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"router": map[string]interface{}{
			"total_requests":       stats.TotalRequests,
			"fast_path_ratio":      stats.FastPathRatio(),
			"average_confidence":   stats.AverageConfidence,
			"low_confidence_count": stats.LowConfidenceCount,
			"intent_distribution":  stats.IntentDistribution,
		},
	})
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	traces, err := s.db.ListTraces(r.Context(), conversationID, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traces == nil {
		traces = []*types.TraceRecord{}
	}
	writeJSON(w, http.StatusOK, traces)
}

// ═══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE AND HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades hijack the connection; wrapping the writer
		// breaks the upgrade, so pass those through untouched.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
