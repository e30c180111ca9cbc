package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"recq/internal/archive"
	"recq/internal/jobs"
	"recq/internal/recorder"
	"recq/pkg/logx"
)

const maxBodyBytes = 1 << 20

type submitRequest struct {
	RecordingsCount int                `json:"recordingsCount"`
	Sessions        []recorder.Session `json:"sessions,omitempty"`
	WebhookURL      string             `json:"webhookUrl,omitempty"`
	UploadToGdrive  bool               `json:"uploadToGdrive,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
}

type submitAccepted struct {
	JobID  string      `json:"jobId"`
	Folder string      `json:"folder"`
	Status jobs.Status `json:"status"`
}

type errorBody struct {
	Error string    `json:"error"`
	Job   *jobs.Job `json:"job,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sessions, err := recorder.SessionsFor(req.RecordingsCount, req.Sessions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := s.sched.Submit(jobs.Spec{
		RecordingsCount: req.RecordingsCount,
		WebhookURL:      req.WebhookURL,
		Metadata:        req.Metadata,
	}, s.newProcessor(sessions, req.UploadToGdrive))
	if err != nil {
		var verr *jobs.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, jobs.ErrNotRunning):
			writeError(w, http.StatusServiceUnavailable, "scheduler is shutting down")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if r.URL.Query().Get("wait") != "1" {
		job, _ := s.sched.GetJob(handle.JobID)
		writeJSON(w, http.StatusAccepted, submitAccepted{
			JobID:  handle.JobID,
			Folder: job.Folder,
			Status: job.Status,
		})
		return
	}

	// wait=1 holds the response open until the job is terminal. The job
	// keeps running if the client disconnects first.
	job, werr := handle.Wait(r.Context())
	if werr != nil {
		var perr *jobs.ProcessingError
		if errors.As(werr, &perr) {
			writeJSON(w, http.StatusBadGateway, errorBody{Error: job.Error, Job: &job})
			return
		}
		// Client context ended; nothing sensible left to write.
		s.log.Debug("wait abandoned", logx.String("job", handle.JobID), logx.Err(werr))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.sched.GetJob(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	active := s.sched.ListActiveJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  active,
		"count": len(active),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.QueueStats())
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}

	if s.archive == nil {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []archive.Record{}})
		return
	}
	recent, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("archive query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": recent})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		"queue":  s.sched.QueueStats(),
	}
	if s.appSup != nil {
		body["supervisor"] = s.appSup.Snapshot()
	}
	if s.bus != nil {
		body["events_dropped"] = s.bus.Dropped()
	}
	if s.probe != nil {
		if last, ok := s.probe.Last(); ok {
			body["bandwidth"] = last
		}
	}
	writeJSON(w, http.StatusOK, body)
}
