package server

import (
	"net/http"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/pulse/async"
)

const (
	// Default and max limits for job listing queries
	defaultJobLimit = 50
	maxJobLimit     = 200
)

// HandleJobs handles requests to /api/jobs
// GET: List known jobs, newest first. ?status= filters by status.
func (s *TallyServer) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit)
	status := r.URL.Query().Get("status")
	if status != "" && !async.IsValidStatus(status) {
		writeWrappedError(w, s.logger, errors.NewInvalidRequestError("unknown job status %q", status), "invalid job query")
		return
	}

	jobs := make([]*async.Job, 0, limit)
	for _, job := range s.runner.List() {
		if status != "" && job.Status != async.JobStatus(status) {
			continue
		}
		jobs = append(jobs, job)
		if len(jobs) == limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// HandleJob handles requests to /api/jobs/{id}
// GET: Job details. ?wait=true blocks until the job is terminal.
func (s *TallyServer) HandleJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}

	if parseBoolQueryParam(r, "wait") {
		s.logger.Debugw("Waiting for job", logger.FieldJobID, jobID)
		job, err := s.runner.Wait(r.Context(), jobID)
		if err != nil {
			writeWrappedError(w, s.logger, err, "failed to wait for job")
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}

	job, ok := s.runner.Get(jobID)
	if !ok {
		writeWrappedError(w, s.logger, errors.NewNotFoundError("job %s not found", jobID), "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
