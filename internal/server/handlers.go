package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/catalogd/tabload/internal/jobstore"
	"github.com/catalogd/tabload/internal/pipeline"
)

type submitRequest struct {
	ResourceID string `json:"resource_id"`
	IgnoreHash bool   `json:"ignore_hash"`
	ResultURL  string `json:"result_url"`
	APIKey     string `json:"api_key"`
}

type submitResponse struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"job_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ResourceID == "" {
		http.Error(w, "resource_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.catalog.ResourceShow(ctx, req.ResourceID); err != nil {
		writeJSON(w, http.StatusNotFound, submitResponse{Reason: "resource not found"})
		return
	}

	if reason, dup := s.isDuplicate(ctx, req.ResourceID); dup {
		writeJSON(w, http.StatusConflict, submitResponse{Reason: reason})
		return
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = s.catalog.Credential()
	}

	jobID := uuid.NewString()
	sent, _ := json.Marshal(req)
	err := s.store.CreatePending(ctx, jobID, "ingest", apiKey, string(sent), s.opts.CallbackURL, []jobstore.Metadata{
		{Key: "resource_id", Value: req.ResourceID, Type: "string"},
		{Key: "ignore_hash", Value: fmt.Sprintf("%t", req.IgnoreHash), Type: "string"},
	})
	if err != nil {
		if errors.Is(err, jobstore.ErrDuplicateJob) {
			writeJSON(w, http.StatusConflict, submitResponse{Reason: "job already exists"})
			return
		}
		s.log.Error("creating job failed", "error", err)
		http.Error(w, "creating job failed", http.StatusInternalServerError)
		return
	}

	err = s.queue.Submit(pipeline.Job{
		ID:          jobID,
		ResourceID:  req.ResourceID,
		IgnoreHash:  req.IgnoreHash,
		APIKey:      apiKey,
		CallbackURL: s.opts.CallbackURL,
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, submitResponse{Reason: "queue full"})
		return
	}

	s.log.Info("job accepted", "job_id", jobID, "resource_id", req.ResourceID)
	writeJSON(w, http.StatusOK, submitResponse{Accepted: true, JobID: jobID})
}

// isDuplicate applies the duplicate-submission guard: a non-terminal job for
// the same resource blocks a new one unless it looks abandoned. Stillborn
// means pending but missing from the queue past a short threshold; stale
// means pending past a long threshold regardless of queue presence.
func (s *Server) isDuplicate(ctx context.Context, resourceID string) (string, bool) {
	latest, err := s.store.LatestForResource(ctx, resourceID)
	if err != nil || latest == nil {
		return "", false
	}
	if latest.Status.Terminal() {
		return "", false
	}

	age := time.Since(latest.Requested)
	if latest.Status == jobstore.StatusPending {
		if !s.queue.Contains(latest.JobID) && age > s.opts.StillbornThreshold {
			s.log.Warn("treating stillborn job as abandoned", "job_id", latest.JobID, "age", age)
			return "", false
		}
		if age > s.opts.StaleThreshold {
			s.log.Warn("treating stale job as abandoned", "job_id", latest.JobID, "age", age)
			return "", false
		}
	}
	return fmt.Sprintf("resource already being ingested by job %s", latest.JobID), true
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		s.log.Error("loading job failed", "error", err)
		http.Error(w, "loading job failed", http.StatusInternalServerError)
		return
	}
	// The credential never leaves the store through this surface.
	job.APIKey = nil
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List(r.Context(), s.opts.ListLimit)
	if err != nil {
		s.log.Error("listing jobs failed", "error", err)
		http.Error(w, "listing jobs failed", http.StatusInternalServerError)
		return
	}
	for i := range jobs {
		jobs[i].APIKey = nil
	}
	writeJSON(w, http.StatusOK, jobs)
}

type resourceStatus struct {
	Status      string     `json:"status"`
	JobID       string     `json:"job_id"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	LogExcerpt  []string   `json:"log_excerpt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

const logExcerptLines = 10

func (s *Server) handleResourceStatus(w http.ResponseWriter, r *http.Request) {
	resourceID := r.PathValue("id")
	latest, err := s.store.LatestForResource(r.Context(), resourceID)
	if err != nil {
		s.log.Error("resource status lookup failed", "error", err)
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}
	if latest == nil {
		http.Error(w, "no jobs for resource", http.StatusNotFound)
		return
	}

	status := resourceStatus{
		Status: string(latest.Status),
		JobID:  latest.JobID,
	}
	if latest.Finished != nil {
		status.LastUpdated = latest.Finished
	} else if len(latest.Logs) > 0 {
		status.LastUpdated = &latest.Logs[len(latest.Logs)-1].Timestamp
	}
	if latest.Error != nil {
		status.Error = *latest.Error
	}
	logs := latest.Logs
	if len(logs) > logExcerptLines {
		logs = logs[len(logs)-logExcerptLines:]
	}
	for _, entry := range logs {
		status.LogExcerpt = append(status.LogExcerpt, entry.Message)
	}
	writeJSON(w, http.StatusOK, status)
}

type hookRequest struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHook is the callback entry point a running job reports through. The
// caller must present the credential the job was submitted with.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	job, err := s.store.Get(r.Context(), req.JobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	credential := r.Header.Get("Authorization")
	if job.APIKey == nil || credential == "" || credential != *job.APIKey {
		http.Error(w, "invalid credential", http.StatusForbidden)
		return
	}

	msg := fmt.Sprintf("callback received: status %s", req.Status)
	if req.Error != "" {
		msg += ", error " + req.Error
	}
	if err := s.store.AppendLog(r.Context(), req.JobID, jobstore.LogEntry{
		Message: msg,
		Level:   "INFO",
	}); err != nil {
		s.log.Error("recording callback failed", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queued": s.queue.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
