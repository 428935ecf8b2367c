package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"matchd/internal/engine"

	"github.com/go-chi/chi/v5"
)

// JobsHandler is the collaborator-facing enqueue and dead-letter surface.
type JobsHandler struct {
	Repo *engine.Repo
}

type enqueueReq struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	RunAt       *string         `json:"run_at"` // RFC3339 optional
	MaxAttempts int             `json:"max_attempts"`
	DedupKey    string          `json:"dedup_key"`
}

func (h *JobsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	typ := engine.JobType(req.Type)
	if !engine.ValidType(typ) {
		http.Error(w, "unknown job type", http.StatusBadRequest)
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}

	opts := engine.EnqueueOpts{MaxAttempts: req.MaxAttempts, DedupKey: req.DedupKey}
	if req.RunAt != nil && *req.RunAt != "" {
		t, err := time.Parse(time.RFC3339, *req.RunAt)
		if err != nil {
			http.Error(w, "invalid run_at (RFC3339)", http.StatusBadRequest)
			return
		}
		opts.RunAt = t
	}

	job, err := h.Repo.Enqueue(h.Repo.DB.WithContext(r.Context()), typ, req.Payload, opts)
	if err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": job.ID, "run_at": job.RunAt})
}

func (h *JobsHandler) ListDead(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	jobs, err := h.Repo.ListDead(r.Context(), limit)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	type deadJob struct {
		ID        uint64    `json:"id"`
		Type      string    `json:"type"`
		Attempts  int       `json:"attempts"`
		LastError string    `json:"last_error"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	out := make([]deadJob, 0, len(jobs))
	for _, j := range jobs {
		d := deadJob{ID: j.ID, Type: string(j.Type), Attempts: j.Attempts, UpdatedAt: j.UpdatedAt}
		if j.LastError != nil {
			d.LastError = *j.LastError
		}
		out = append(out, d)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jobs": out})
}

func (h *JobsHandler) RequeueDead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}

	ok, err := h.Repo.RequeueDead(r.Context(), id)
	if err != nil {
		http.Error(w, "requeue failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found or not dead", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
