package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/journal"
	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/pipeline"
)

// DefaultMaxBody bounds a submission request.
const DefaultMaxBody = 64 * 1024

// Runner starts a job in the background and calls done when it finishes.
type Runner interface {
	Go(ctx context.Context, job *models.Job, done func(pipeline.Outcome))
}

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	Direction string `json:"direction"`
	Path      string `json:"path"`
	Secret    string `json:"secret"`
	Bit       int    `json:"bit"`
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API serves job submission, job history and the event feed.
type API struct {
	ctx     context.Context
	runner  Runner
	hub     *Hub
	journal journal.Store
	maxBody int64
	logger  *events.Logger
}

// NewAPI creates the HTTP API. Jobs run under ctx rather than the request
// context so they outlive the submission. store may be nil.
func NewAPI(ctx context.Context, runner Runner, hub *Hub, store journal.Store, maxBody int64, logger *events.Logger) *API {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}

	return &API{
		ctx:     ctx,
		runner:  runner,
		hub:     hub,
		journal: store,
		maxBody: maxBody,
		logger:  logger.WithField("component", "http_api"),
	}
}

// Routes returns the handler for every endpoint.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", a.HandleSubmit)
	mux.HandleFunc("GET /jobs", a.HandleList)
	mux.HandleFunc("GET /jobs/{id}", a.HandleGet)
	mux.HandleFunc("GET /events", a.hub.ServeWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"subscribers": a.hub.Subscribers(),
		})
	})
	return mux
}

// HandleSubmit accepts a job and runs it asynchronously. Progress and the
// outcome are only reported on the event feed.
func (a *API) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)

	var req SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := req.job()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger := a.logger.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"direction": job.Direction,
	})
	logger.Info("Job submitted")

	a.runner.Go(a.ctx, job, func(o pipeline.Outcome) {
		job.Wipe()
		if o.Err != nil {
			logger.WithError(o.Err).Warn("Job failed")
			return
		}
		logger.Info("Job finished")
	})

	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: job.ID})
}

func (req SubmitRequest) job() (*models.Job, error) {
	direction, err := models.ParseDirection(req.Direction)
	if err != nil {
		return nil, err
	}
	if req.Bit < 0 || req.Bit > 255 {
		return nil, errors.New("bit must be between 0 and 255")
	}

	job := models.NewJob(direction, req.Path, []byte(req.Secret), byte(req.Bit))
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// HandleGet returns the journal record for one job.
func (a *API) HandleGet(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusNotFound, "job history is disabled")
		return
	}

	rec, err := a.journal.Get(r.PathValue("id"))
	if errors.Is(err, models.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		a.logger.WithError(err).Error("Journal lookup failed")
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// HandleList returns recent journal records. Supports limit, direction and
// status query parameters.
func (a *API) HandleList(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeJSON(w, http.StatusOK, []*models.JobRecord{})
		return
	}

	q := r.URL.Query()
	opts := journal.ListOptions{
		Limit:  50,
		Status: models.JobStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("direction"); v != "" {
		d, err := models.ParseDirection(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Direction = d
	}

	recs, err := a.journal.List(opts)
	if err != nil {
		a.logger.WithError(err).Error("Journal list failed")
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	if recs == nil {
		recs = []*models.JobRecord{}
	}

	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
