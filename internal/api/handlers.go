package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/admission"
	"github.com/screenvet/screenvet/internal/logger"
	"github.com/screenvet/screenvet/internal/models"
	"github.com/screenvet/screenvet/internal/store"
	"github.com/screenvet/screenvet/internal/vetting"
)

// taskTimeout bounds the detached work a webhook kicks off. Each reply can
// issue two LLM calls and an email send.
const taskTimeout = 2 * time.Minute

// ScreeningHandler receives screened candidates from the upstream scorer.
type ScreeningHandler struct {
	controller *admission.Controller
	orch       *vetting.Orchestrator
	logger     *zap.Logger
}

// NewScreeningHandler creates the screening handler.
func NewScreeningHandler(controller *admission.Controller, orch *vetting.Orchestrator, log *zap.Logger) *ScreeningHandler {
	return &ScreeningHandler{controller: controller, orch: orch, logger: log}
}

type screeningRequest struct {
	Candidate models.Candidate `json:"candidate"`
	Matches   []*models.Match  `json:"matches"`
}

type screeningResponse struct {
	Created int     `json:"created"`
	Queued  int     `json:"queued"`
	Skipped int     `json:"skipped"`
	IDs     []int64 `json:"session_ids"`
}

// Initiate admits the candidate's matches and dispatches outreach for the
// created sessions off the request path.
func (h *ScreeningHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req screeningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Candidate.Email == "" {
		writeError(w, http.StatusBadRequest, "candidate email is required")
		return
	}

	result, err := h.controller.Initiate(r.Context(), req.Candidate, req.Matches)
	if err != nil {
		h.logger.Error("admission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "admission failed")
		return
	}

	// Outreach issues LLM and SMTP calls; run it detached so the upstream
	// service is not held on our transports.
	ids := result.CreatedIDs()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		h.orch.DispatchBatch(ctx, ids)
	}()

	writeJSON(w, http.StatusAccepted, screeningResponse{
		Created: len(result.Created),
		Queued:  len(result.Queued),
		Skipped: result.Skipped,
		IDs:     ids,
	})
}

// EmailHandler receives inbound candidate replies from the mail provider.
type EmailHandler struct {
	orch   *vetting.Orchestrator
	logger *zap.Logger
}

// NewEmailHandler creates the inbound email webhook handler.
func NewEmailHandler(orch *vetting.Orchestrator, log *zap.Logger) *EmailHandler {
	return &EmailHandler{orch: orch, logger: log}
}

// Inbound accepts the reply and processes it off the request path. The
// provider always gets a 202; unroutable messages are dropped silently.
func (h *EmailHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var email models.InboundEmail
	if err := json.NewDecoder(r.Body).Decode(&email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		if err := h.orch.HandleInbound(ctx, &email); err != nil {
			h.logger.Warn("inbound reply processing failed",
				zap.String("from", email.From),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// SessionHandler exposes read access to sessions for operators.
type SessionHandler struct {
	sessions *store.SessionStore
	turns    *store.TurnStore
	logger   *zap.Logger
}

// NewSessionHandler creates the session read handler.
func NewSessionHandler(sessions *store.SessionStore, turns *store.TurnStore, log *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, turns: turns, logger: log}
}

type sessionResponse struct {
	Session *models.Session `json:"session"`
	Turns   []*models.Turn  `json:"turns"`
}

// Get returns one session with its full turn history.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := h.sessions.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("load session failed", logger.SessionField(id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load session failed")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	turns, err := h.turns.ListBySession(r.Context(), id)
	if err != nil {
		h.logger.Error("load turns failed", logger.SessionField(id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load turns failed")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Turns: turns})
}

// HealthHandler reports liveness and database reachability.
type HealthHandler struct {
	db *store.DB
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(db *store.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health pings the database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
