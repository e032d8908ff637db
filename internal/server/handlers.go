package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/insights"
	"github.com/dytto-app/dytto/internal/service/journal"
	"github.com/dytto-app/dytto/internal/service/leveling"
	"github.com/dytto-app/dytto/internal/service/quests"
	"github.com/dytto-app/dytto/internal/service/tree"
	"github.com/dytto-app/dytto/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	repo                *storage.Repository
	journal             *journal.Service
	quests              *quests.Service
	insights            *insights.Aggregator
	tree                *tree.Service
	levels              *leveling.Table
	achievements        map[int]string
	logger              *slog.Logger
	backend             string
	analysis            string
	version             string
	maxRequestBodyBytes int64
	startedAt           time.Time
	now                 func() time.Time
}

// NewHandlers creates Handlers from the server configuration.
func NewHandlers(cfg ServerConfig) *Handlers {
	maxBody := cfg.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		repo:                cfg.Repo,
		journal:             cfg.Journal,
		quests:              cfg.Quests,
		insights:            cfg.Insights,
		tree:                cfg.Tree,
		levels:              cfg.Levels,
		achievements:        cfg.Achievements,
		logger:              cfg.Logger,
		backend:             cfg.Backend,
		analysis:            cfg.Analysis,
		version:             cfg.Version,
		maxRequestBodyBytes: maxBody,
		startedAt:           time.Now(),
		now:                 time.Now,
	}
}

// HandleCreateRelationship handles POST /v1/relationships.
func (h *Handlers) HandleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRelationshipRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	rel, err := model.NewRelationship(req, h.now())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := h.repo.PutRelationship(r.Context(), rel); err != nil {
		h.writeInternalError(w, r, "failed to create relationship", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rel)
}

// HandleListRelationships handles GET /v1/relationships.
func (h *Handlers) HandleListRelationships(w http.ResponseWriter, r *http.Request) {
	rels, err := h.repo.ListRelationships(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list relationships", err)
		return
	}
	writeList(w, r, rels)
}

// HandleGetRelationship handles GET /v1/relationships/{id}.
func (h *Handlers) HandleGetRelationship(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rel, err := h.repo.GetRelationship(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "failed to load relationship", err)
		return
	}
	p, err := h.repo.GetProgress(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to load progress", err)
		return
	}
	level := h.levels.CalculateLevel(p.XP)
	p.Level = level
	writeJSON(w, r, http.StatusOK, model.RelationshipSummary{
		Relationship: rel,
		Progress:     p,
		Title:        h.levels.Title(level),
		XPForNext:    h.levels.XPForNextLevel(level),
		InLevel:      h.levels.ProgressInLevel(p.XP, level),
	})
}

// HandleListLevelEvents handles GET /v1/relationships/{id}/level-events.
func (h *Handlers) HandleListLevelEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.relationshipExists(w, r, id) {
		return
	}
	events, err := h.repo.ListLevelEvents(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to list level events", err)
		return
	}
	writeList(w, r, events)
}

// HandleRecordInteraction handles POST /v1/interactions.
func (h *Handlers) HandleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req model.CreateInteractionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.journal.Record(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "failed to record interaction", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, res)
}

// HandleResumeInteraction handles POST /v1/interactions/{id}/resume.
func (h *Handlers) HandleResumeInteraction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.journal.Resume(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "failed to resume interaction", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleListInteractions handles GET /v1/relationships/{id}/interactions.
func (h *Handlers) HandleListInteractions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.relationshipExists(w, r, id) {
		return
	}
	logs, err := h.repo.ListLogs(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to list interactions", err)
		return
	}
	writeList(w, r, logs)
}

// HandleListQuests handles GET /v1/relationships/{id}/quests.
func (h *Handlers) HandleListQuests(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.relationshipExists(w, r, id) {
		return
	}
	qs, err := h.quests.List(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to list quests", err)
		return
	}
	writeList(w, r, qs)
}

// HandleGenerateQuest handles POST /v1/relationships/{id}/quests. It returns
// 204 when no quest applies.
func (h *Handlers) HandleGenerateQuest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	q, err := h.quests.GenerateQuest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "failed to generate quest", err)
		return
	}
	if q == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, r, http.StatusCreated, q)
}

// HandleRelationshipTree handles GET /v1/relationships/{id}/tree.
func (h *Handlers) HandleRelationshipTree(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	t, err := h.tree.Load(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "failed to build tree", err)
		return
	}
	writeJSON(w, r, http.StatusOK, t)
}

// HandleTreeNext handles GET /v1/relationships/{id}/tree/next.
func (h *Handlers) HandleTreeNext(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.relationshipExists(w, r, id) {
		return
	}
	p, err := h.repo.GetProgress(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to load progress", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.TreeEvolution{
		Next:       h.tree.SuggestEvolution(p),
		Completion: h.tree.CompletionStatus(p),
	})
}

// HandleGlobalTree handles GET /v1/tree.
func (h *Handlers) HandleGlobalTree(w http.ResponseWriter, r *http.Request) {
	g, err := h.tree.LoadGlobal(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to build global tree", err)
		return
	}
	writeJSON(w, r, http.StatusOK, g)
}

// HandleRelationshipInsights handles GET /v1/relationships/{id}/insights.
// With ?cached=true it only reads the cache and returns 404 on a miss.
func (h *Handlers) HandleRelationshipInsights(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.serveInsights(w, r, model.ScopeFor(id))
}

// HandleGlobalInsights handles GET /v1/insights.
func (h *Handlers) HandleGlobalInsights(w http.ResponseWriter, r *http.Request) {
	h.serveInsights(w, r, model.GlobalScope)
}

func (h *Handlers) serveInsights(w http.ResponseWriter, r *http.Request, scope string) {
	if r.URL.Query().Get("cached") == "true" {
		ins, ok := h.insights.GetStoredInsights(r.Context(), scope)
		if !ok {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no fresh insights stored for "+scope)
			return
		}
		writeJSON(w, r, http.StatusOK, ins)
		return
	}
	ins, err := h.insights.GenerateAndStoreInsights(r.Context(), scope)
	if err != nil {
		h.writeServiceError(w, r, "failed to generate insights", err)
		return
	}
	writeJSON(w, r, http.StatusOK, ins)
}

// HandleLevels handles GET /v1/levels.
func (h *Handlers) HandleLevels(w http.ResponseWriter, r *http.Request) {
	out := make([]model.LevelInfo, 0, h.levels.MaxLevel())
	for lvl := 1; lvl <= h.levels.MaxLevel(); lvl++ {
		out = append(out, model.LevelInfo{
			Level:       lvl,
			Title:       h.levels.Title(lvl),
			Threshold:   h.levels.Threshold(lvl),
			Achievement: h.achievements[lvl],
		})
	}
	writeList(w, r, out)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, storageStatus, code := "healthy", "connected", http.StatusOK
	if err := h.repo.Ping(r.Context()); err != nil {
		h.logger.Warn("health: storage ping failed", "error", err)
		status, storageStatus, code = "unhealthy", "disconnected", http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Storage:  storageStatus,
		Backend:  h.backend,
		Analysis: h.analysis,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, fmt.Sprintf("invalid id: %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) relationshipExists(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	if _, err := h.repo.GetRelationship(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "failed to load relationship", err)
		return false
	}
	return true
}

// writeServiceError maps service errors onto HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, journal.ErrInvalid):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	default:
		h.writeInternalError(w, r, msg, err)
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
