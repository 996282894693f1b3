package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-missions/internal/board"
	"github.com/nidhogg/nuka-missions/internal/gateway"
	"github.com/nidhogg/nuka-missions/internal/memory"
	"github.com/nidhogg/nuka-missions/internal/mission"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Missions is the orchestrator surface the API exposes.
type Missions interface {
	CreateMission(ctx context.Context, label string, defs []mission.SubtaskDef, requester mission.Requester, opts mission.CreateOptions) (string, error)
	GetMission(id string) (*mission.Mission, error)
	ListMissions() []*mission.Mission
	FindMissionByRunID(runID string) (*mission.Mission, string, bool)
	FindSubtaskBySessionKey(sessionKey string) (*mission.Mission, *mission.Subtask, bool)
}

// RunCompleter accepts completion reports from an external substrate.
type RunCompleter interface {
	Complete(ctx context.Context, runID string, outcome mission.Outcome, endedAt time.Time) error
}

// BoardLister lists task-board entries.
type BoardLister interface {
	List(ctx context.Context) ([]board.Entry, error)
}

// NoteReader reads agent memory notes.
type NoteReader interface {
	Notes(ctx context.Context, agentID string, limit int) ([]*memory.Note, error)
	MissionNotes(ctx context.Context, missionID string) ([]*memory.Note, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	missions Missions
	runs     RunCompleter
	gw       *gateway.Gateway
	inbox    *gateway.InboxAdapter
	board    BoardLister
	notes    NoteReader
	logger   *zap.Logger
}

// NewHandler creates a new API handler. gw, inbox, board and notes may be nil.
func NewHandler(
	missions Missions,
	runs RunCompleter,
	gw *gateway.Gateway,
	inbox *gateway.InboxAdapter,
	board BoardLister,
	notes NoteReader,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		missions: missions,
		runs:     runs,
		gw:       gw,
		inbox:    inbox,
		board:    board,
		notes:    notes,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/missions", h.createMission)
		r.Get("/missions", h.listMissions)
		r.Get("/missions/{id}", h.getMission)
		r.Get("/missions/{id}/result", h.missionResult)
		r.Get("/missions/{id}/notes", h.missionNotes)
		r.Get("/agents/{agentID}/notes", h.agentNotes)

		r.Get("/runs/{runID}/mission", h.missionForRun)
		r.Post("/runs/{runID}/complete", h.completeRun)
		r.Get("/sessions/{key}/subtask", h.subtaskForSession)

		r.Get("/inbox/{channel}", h.readInbox)
		r.Get("/gateway/status", h.gatewayStatus)
		r.Get("/board", h.listBoard)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "nuka-missions"})
}

type subtaskRequest struct {
	ID         string   `json:"id"`
	AgentID    string   `json:"agent_id"`
	Task       string   `json:"task"`
	After      []string `json:"after"`
	MaxRetries *int     `json:"max_retries"`
	MaxLoops   *int     `json:"max_loops"`
}

type createMissionRequest struct {
	Label     string                `json:"label"`
	Subtasks  []subtaskRequest      `json:"subtasks"`
	Requester mission.Requester     `json:"requester"`
	Options   mission.CreateOptions `json:"options"`
}

func (h *Handler) createMission(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "bad_request"})
		return
	}

	defs := make([]mission.SubtaskDef, len(req.Subtasks))
	for i, s := range req.Subtasks {
		defs[i] = mission.SubtaskDef{
			ID:         s.ID,
			AgentID:    s.AgentID,
			Task:       s.Task,
			After:      s.After,
			MaxRetries: s.MaxRetries,
			MaxLoops:   s.MaxLoops,
		}
	}

	id, err := h.missions.CreateMission(r.Context(), req.Label, defs, req.Requester, req.Options)
	if err != nil {
		var verr *mission.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":      verr.Error(),
				"kind":       string(verr.Kind),
				"subtask_id": verr.SubtaskID,
			})
			return
		}
		h.logger.Error("create mission failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"mission_id": id})
}

type missionSummary struct {
	ID          string               `json:"id"`
	Label       string               `json:"label"`
	Status      mission.Status       `json:"status"`
	Counts      mission.StatusCounts `json:"counts"`
	Subtasks    int                  `json:"subtasks"`
	TotalSpawns int                  `json:"total_spawns"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

func (h *Handler) listMissions(w http.ResponseWriter, r *http.Request) {
	all := h.missions.ListMissions()
	status := mission.Status(r.URL.Query().Get("status"))

	out := make([]missionSummary, 0, len(all))
	for _, m := range all {
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, missionSummary{
			ID:          m.ID,
			Label:       m.Label,
			Status:      m.Status,
			Counts:      mission.Counts(m),
			Subtasks:    len(m.Subtasks),
			TotalSpawns: m.TotalSpawns,
			CreatedAt:   m.CreatedAt,
			CompletedAt: m.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getMission(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) missionResult(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if !m.Status.Done() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "mission still running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mission_id": m.ID, "status": string(m.Status), "text": mission.FormatResult(m)})
}

func (h *Handler) lookup(w http.ResponseWriter, id string) (*mission.Mission, bool) {
	m, err := h.missions.GetMission(id)
	if errors.Is(err, mission.ErrMissionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "mission not found"})
		return nil, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	return m, true
}

func (h *Handler) missionForRun(w http.ResponseWriter, r *http.Request) {
	m, subtaskID, ok := h.missions.FindMissionByRunID(chi.URLParam(r, "runID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not in flight"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mission_id": m.ID, "subtask_id": subtaskID})
}

func (h *Handler) subtaskForSession(w http.ResponseWriter, r *http.Request) {
	m, st, ok := h.missions.FindSubtaskBySessionKey(chi.URLParam(r, "key"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mission_id": m.ID, "subtask_id": st.ID})
}

type completeRunRequest struct {
	Status  mission.OutcomeStatus `json:"status"`
	Error   string                `json:"error"`
	EndedAt *time.Time            `json:"ended_at"`
}

func (h *Handler) completeRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var req completeRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var outcome mission.Outcome
	switch req.Status {
	case mission.OutcomeOK:
		outcome = mission.Succeeded()
	case mission.OutcomeError:
		outcome = mission.Failure(req.Error)
		if outcome.Error == "" {
			outcome.Error = "run failed"
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be ok or error"})
		return
	}

	ended := time.Now()
	if req.EndedAt != nil {
		ended = *req.EndedAt
	}
	if err := h.runs.Complete(r.Context(), runID, outcome, ended); err != nil {
		h.logger.Error("complete run failed", zap.String("run", runID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": string(outcome.Status)})
}

func (h *Handler) readInbox(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "inbox not enabled"})
		return
	}
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = t
	}
	msgs := h.inbox.Messages(chi.URLParam(r, "channel"), since)
	if msgs == nil {
		msgs = []gateway.OutboundMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.gw.Statuses())
}

func (h *Handler) listBoard(w http.ResponseWriter, r *http.Request) {
	if h.board == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "task board not enabled"})
		return
	}
	entries, err := h.board.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

const (
	defaultNotesLimit = 20
	maxNotesLimit     = 200
)

func (h *Handler) agentNotes(w http.ResponseWriter, r *http.Request) {
	if h.notes == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory notes not enabled"})
		return
	}
	limit := defaultNotesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxNotesLimit)
	}
	notes, err := h.notes.Notes(r.Context(), chi.URLParam(r, "agentID"), limit)
	if err != nil {
		h.logger.Warn("read agent notes failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nonNilNotes(notes))
}

func (h *Handler) missionNotes(w http.ResponseWriter, r *http.Request) {
	if h.notes == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory notes not enabled"})
		return
	}
	m, ok := h.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	notes, err := h.notes.MissionNotes(r.Context(), m.ID)
	if err != nil {
		h.logger.Warn("read mission notes failed", zap.String("mission", m.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nonNilNotes(notes))
}

func nonNilNotes(notes []*memory.Note) []*memory.Note {
	if notes == nil {
		return []*memory.Note{}
	}
	return notes
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
