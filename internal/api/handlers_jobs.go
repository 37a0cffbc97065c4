package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/quizgest/internal/export"
	"github.com/dgallion1/quizgest/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

func (s *Server) job(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
	}
	return job
}

// finishedJob returns the job only when it succeeded; otherwise it writes
// 409 with the current state.
func (s *Server) finishedJob(w http.ResponseWriter, r *http.Request) (*pipeline.Job, pipeline.JobSnapshot, bool) {
	job := s.job(w, r)
	if job == nil {
		return nil, pipeline.JobSnapshot{}, false
	}
	snap := job.Snapshot()
	if snap.Status != pipeline.StatusSuccess {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   "job has no questions",
			"status":  snap.Status,
			"message": snap.Message,
		})
		return nil, snap, false
	}
	return job, snap, true
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

// handleJobEvents streams snapshots as server-sent events until the job
// reaches a terminal state or the client goes away.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	rc := http.NewResponseController(w)
	// The server write timeout would cut long runs short.
	_ = rc.SetWriteDeadline(time.Time{})

	updates, cancel := job.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				s.log.Error("encode job event", "job_id", snap.ID, "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", snap.Status, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleJobQuestions(w http.ResponseWriter, r *http.Request) {
	job, snap, ok := s.finishedJob(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":    snap.ID,
		"title":     snap.Title,
		"summary":   snap.Summary,
		"questions": job.Questions(),
	})
}

func (s *Server) handleExportHTML(w http.ResponseWriter, r *http.Request) {
	job, snap, ok := s.finishedJob(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.HTML(&buf, exportTitle(snap), job.Questions()); err != nil {
		s.log.Error("html export failed", "job_id", snap.ID, "error", err)
		jsonError(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleExportDOCX(w http.ResponseWriter, r *http.Request) {
	job, snap, ok := s.finishedJob(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.DOCX(&buf, exportTitle(snap), job.Questions(), s.images.Resolve); err != nil {
		s.log.Error("docx export failed", "job_id", snap.ID, "error", err)
		jsonError(w, "export failed", http.StatusInternalServerError)
		return
	}
	name := strings.TrimSuffix(snap.Filename, filepath.Ext(snap.Filename)) + ".docx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Write(buf.Bytes())
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.images.Path(chi.URLParam(r, "name"))
	if err != nil {
		jsonError(w, "image not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeFile(w, r, path)
}

func exportTitle(snap pipeline.JobSnapshot) string {
	if snap.Title != "" {
		return snap.Title
	}
	return snap.Filename
}
