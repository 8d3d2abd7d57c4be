package api

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"quiltmaker/internal/config"
	"quiltmaker/internal/job"
	"quiltmaker/internal/pipeline"
	"quiltmaker/internal/sorter"
	"quiltmaker/internal/view"
)

type createJobRequest struct {
	Folders      []string `json:"folders" form:"folders"`
	SortedFolder string   `json:"sorted_folder" form:"sorted_folder"`
	OutputFolder string   `json:"output_folder" form:"output_folder"`
	Views        int      `json:"views" form:"views"`
	Columns      int      `json:"columns" form:"columns"`
	Rows         int      `json:"rows" form:"rows"`
	Display      string   `json:"display" form:"display"`
	Framerate    *int     `json:"framerate" form:"framerate"`
	Collision    string   `json:"collision" form:"collision"`
	Archive      bool     `json:"archive" form:"archive"`
}

type createJobResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

type folderCheckRequest struct {
	Folder string `json:"folder" binding:"required"`
}

type jobResponse struct {
	job.Job
	CreatedAt  string `json:"created_at"`
	EventsURL  string `json:"events_url"`
	ArchiveURL string `json:"archive_url,omitempty"`
	Quilts     int    `json:"quilts"`
}

type API struct {
	jobs *job.Manager
	cfg  config.Config
}

func NewAPI(jobs *job.Manager, cfg config.Config) *API {
	return &API{jobs: jobs, cfg: cfg}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/jobs", a.CreateJob)
		api.GET("/jobs", a.ListJobs)
		api.GET("/jobs/:id", a.GetJob)
		api.GET("/jobs/:id/events", a.StreamEvents)
		api.GET("/jobs/:id/archive", a.DownloadArchive)
		api.GET("/jobs/:id/quilts/:n/preview", a.PreviewQuilt)
		api.POST("/folders/check", a.CheckFolder)
		api.GET("/displays", a.ListDisplays)
	}
}

// CreateJob validates the request and starts the job in the background
func (a *API) CreateJob(c *gin.Context) {
	if a.jobs.IsBusy() {
		log.Warn().Msg("rejecting job: server is at max concurrency")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}
	var body createJobRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warn().Err(err).Msg("invalid create job request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	created, status, err := a.submit(body)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, createJobResponse{JobID: created.ID, Status: created.Status})
}

// submit resolves defaults and presets and hands the request to the manager.
// The returned status is meaningful only when err is not nil.
func (a *API) submit(body createJobRequest) (*job.Job, int, error) {
	req, err := a.toPipelineRequest(body)
	if err != nil {
		log.Warn().Err(err).Msg("invalid job parameters")
		return nil, http.StatusBadRequest, err
	}
	created, err := a.jobs.Submit(req)
	switch {
	case errors.Is(err, job.ErrBusy):
		log.Warn().Msg("rejecting job: no free slot")
		return nil, http.StatusServiceUnavailable, errors.New("server busy")
	case err != nil:
		log.Warn().Err(err).Msg("job rejected")
		return nil, http.StatusBadRequest, err
	}
	log.Info().Str("job_id", created.ID).Int("columns", req.Columns).Int("rows", req.Rows).Msg("job created")
	return created, http.StatusCreated, nil
}

func (a *API) toPipelineRequest(body createJobRequest) (pipeline.Request, error) {
	folders := make([]string, 0, len(body.Folders))
	for _, f := range body.Folders {
		if f = strings.TrimSpace(f); f != "" {
			folders = append(folders, f)
		}
	}
	req := pipeline.Request{
		Folders:      folders,
		SortedFolder: strings.TrimSpace(body.SortedFolder),
		OutputFolder: strings.TrimSpace(body.OutputFolder),
		Views:        body.Views,
		Columns:      body.Columns,
		Rows:         body.Rows,
		Framerate:    a.cfg.DefaultFramerate,
		Collision:    sorter.Collision(a.cfg.Collision),
		Archive:      body.Archive,
		Workers:      a.cfg.TileWorkers,
	}
	if body.Display != "" {
		display, err := a.cfg.Display(body.Display)
		if err != nil {
			return req, err
		}
		req.Columns, req.Rows = display.Columns, display.Rows
	}
	if body.Framerate != nil {
		req.Framerate = *body.Framerate
	}
	if body.Collision != "" {
		req.Collision = sorter.Collision(body.Collision)
	}
	return req, req.Validate()
}

// ListJobs returns every known job, oldest first
func (a *API) ListJobs(c *gin.Context) {
	jobs := a.jobs.List()
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetJob returns job status
func (a *API) GetJob(c *gin.Context) {
	id := c.Param("id")
	if found, ok := a.jobs.GetJob(id); ok {
		c.JSON(http.StatusOK, toJobResponse(found))
		return
	}
	log.Warn().Str("job_id", id).Msg("job not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": job.ErrJobNotFound.Error()})
}

// DownloadArchive serves the quilt zip when the job produced one
func (a *API) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	found, ok := a.jobs.GetJob(id)
	if !ok {
		log.Warn().Str("job_id", id).Msg("job not found on download")
		c.JSON(http.StatusNotFound, gin.H{"error": job.ErrJobNotFound.Error()})
		return
	}
	if found.Result == nil || found.Result.Archive == "" {
		log.Warn().Str("job_id", id).Str("status", string(found.Status)).Msg("archive not ready to download")
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive not ready"})
		return
	}
	log.Info().Str("job_id", id).Str("path", found.Result.Archive).Msg("serving archive download")
	c.FileAttachment(found.Result.Archive, "quilts-"+found.ID+".zip")
}

// CheckFolder lists files in a folder that lack the view marker
func (a *API) CheckFolder(c *gin.Context) {
	var body folderCheckRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	result, err := view.Check(strings.TrimSpace(body.Folder))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		log.Warn().Str("folder", body.Folder).Err(err).Msg("folder check failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListDisplays returns the configured display presets
func (a *API) ListDisplays(c *gin.Context) {
	c.JSON(http.StatusOK, a.cfg.Displays)
}

func toJobResponse(j *job.Job) jobResponse {
	resp := jobResponse{
		Job:       *j,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
		EventsURL: "/api/v1/jobs/" + j.ID + "/events",
	}
	if j.Result != nil {
		resp.Quilts = len(j.Result.Compose.Quilts)
		if j.Result.Archive != "" {
			resp.ArchiveURL = "/api/v1/jobs/" + j.ID + "/archive"
		}
	}
	return resp
}
