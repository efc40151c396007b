package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reporun/reporun/api/rest/server"
	v1 "github.com/reporun/reporun/api/rest/v1"
	"github.com/reporun/reporun/api/rest/v1/schemas"
	"github.com/reporun/reporun/internal/events"
	"github.com/reporun/reporun/internal/logstore"
	"github.com/reporun/reporun/internal/models"
	"github.com/reporun/reporun/internal/repository"
)

type RunHandler struct {
	server *server.Server
}

func NewRunHandler(server *server.Server) *RunHandler {
	return &RunHandler{
		server: server,
	}
}

// StartRun assigns a run identifier and publishes run.requested. The run
// record itself is created by the orchestrator when it consumes the
// event; the gateway only translates the call onto the stream.
func (rh *RunHandler) StartRun(c *gin.Context) error {
	var req schemas.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	mode := models.RunMode(req.Mode)
	if !mode.Valid() {
		return v1.APIError{Code: http.StatusBadRequest, Err: "mode must be dockerfile or compose"}
	}
	if req.Branch == "" {
		req.Branch = "main"
	}

	id := uuid.New()
	env, err := events.New(events.TypeRunRequested, id, events.RunRequested{
		RepoURL:        req.RepoURL,
		Branch:         req.Branch,
		Mode:           req.Mode,
		ComposePath:    req.ComposePath,
		PrimaryService: req.PrimaryService,
	})
	if err != nil {
		return v1.APIError{Code: http.StatusInternalServerError, Err: "Failed to encode run request"}
	}
	if err := rh.server.Log.Publish(c.Request.Context(), env); err != nil {
		return v1.APIError{Code: http.StatusServiceUnavailable, Err: "Failed to accept run request"}
	}

	return v1.APIResponse{
		Code: http.StatusAccepted,
		Msg:  "Run accepted",
		Data: schemas.StartRunResponse{ID: id.String(), Status: string(models.StatusQueued)},
	}
}

// StopRun publishes run.stop_requested for a known run. Stopping an
// already terminal run is accepted; the orchestrator drops the event as
// a guarded no-op.
func (rh *RunHandler) StopRun(c *gin.Context) error {
	id := c.MustGet("run_id").(uuid.UUID)

	if _, err := rh.findRun(c, id); err != nil {
		return err
	}

	env, err := events.New(events.TypeRunStopRequested, id, nil)
	if err != nil {
		return v1.APIError{Code: http.StatusInternalServerError, Err: "Failed to encode stop request"}
	}
	if err := rh.server.Log.Publish(c.Request.Context(), env); err != nil {
		return v1.APIError{Code: http.StatusServiceUnavailable, Err: "Failed to accept stop request"}
	}

	return v1.APIResponse{
		Code: http.StatusAccepted,
		Msg:  "Stop accepted",
		Data: schemas.StartRunResponse{ID: id.String(), Status: string(models.StatusStopped)},
	}
}

// GetRun returns the run record, served from the cache when possible.
func (rh *RunHandler) GetRun(c *gin.Context) error {
	id := c.MustGet("run_id").(uuid.UUID)

	run, err := rh.findRun(c, id)
	if err != nil {
		return err
	}
	return v1.APIResponse{
		Code: http.StatusOK,
		Msg:  "Successfully retrieved run",
		Data: toResponse(run),
	}
}

// ListRuns returns every run, newest first.
func (rh *RunHandler) ListRuns(c *gin.Context) error {
	runs, err := rh.server.Runs.GetAll(c.Request.Context())
	if err != nil {
		return v1.APIError{
			Code: http.StatusInternalServerError,
			Err:  "Failed to retrieve runs",
		}
	}

	var responses []schemas.RunResponse
	for _, run := range runs {
		responses = append(responses, toResponse(run))
	}

	return v1.APIResponse{
		Code: http.StatusOK,
		Msg:  "Successfully retrieved runs",
		Data: responses,
	}
}

// GetRunLogs returns the persisted logs of a run as plain text.
func (rh *RunHandler) GetRunLogs(c *gin.Context) error {
	id := c.MustGet("run_id").(uuid.UUID)

	if _, err := rh.findRun(c, id); err != nil {
		return err
	}

	data, err := rh.server.Logs.Fetch(c.Request.Context(), id)
	if errors.Is(err, logstore.ErrNoLogs) {
		return v1.APIError{Code: http.StatusNotFound, Err: "No logs for run"}
	}
	if err != nil {
		return v1.APIError{Code: http.StatusInternalServerError, Err: "Failed to retrieve logs"}
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
	return nil
}

// findRun reads through the cache and falls back to the run store. The
// cache is never the source of truth; any miss or error goes to the
// store.
func (rh *RunHandler) findRun(c *gin.Context, id uuid.UUID) (*models.Run, error) {
	if rh.server.Cache != nil {
		if run, ok := rh.server.Cache.Get(c.Request.Context(), id.String()); ok {
			return run, nil
		}
	}
	run, err := rh.server.Runs.FindByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrRunNotFound) {
		return nil, v1.APIError{Code: http.StatusNotFound, Err: "Run not found"}
	}
	if err != nil {
		return nil, v1.APIError{Code: http.StatusInternalServerError, Err: "Failed to retrieve run"}
	}
	return run, nil
}

func toResponse(run *models.Run) schemas.RunResponse {
	return schemas.RunResponse{
		ID:             run.ID.String(),
		RepoURL:        run.RepoURL,
		Branch:         run.Branch,
		Mode:           string(run.Mode),
		ComposePath:    run.ComposePath,
		PrimaryService: run.PrimaryService,
		Status:         string(run.Status),
		ImageRefs:      run.ImageRefs,
		Ports:          run.Ports,
		PreviewURL:     run.PreviewURL,
		Namespace:      run.Namespace,
		ErrorMessage:   run.ErrorMessage,
		CreatedAt:      run.CreatedAt,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
	}
}
