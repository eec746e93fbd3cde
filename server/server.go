// Package server exposes the orchestrator over HTTP. Job submission and
// inspection are plain JSON endpoints, live progress streams over a
// WebSocket per job.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/internal/broker"
	"github.com/casualjim/delver/pkg/slogx"
	"github.com/casualjim/delver/research"
	"github.com/casualjim/delver/runner"
	"github.com/casualjim/delver/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Server struct {
	store  store.Store
	broker broker.Broker
	runner runner.Runner
	logger *slog.Logger
}

func New(st store.Store, br broker.Broker, rn runner.Runner) *Server {
	return &Server{
		store:  st,
		broker: br,
		runner: rn,
		logger: slog.With(slogx.LoggerName("delver.server")),
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)

	api := router.Group("/api")
	api.POST("/jobs", s.submitJob)
	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)
	api.GET("/jobs/:id/tasks", s.listTasks)
	api.GET("/jobs/:id/report", s.getReport)
	api.GET("/jobs/:id/events", s.streamEvents)

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitJobRequest is the payload for POST /api/jobs.
type SubmitJobRequest struct {
	Query       string `json:"query" binding:"required"`
	MaxResults  int    `json:"max_results"`
	MaxAttempts int    `json:"max_attempts"`
}

func (s *Server) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, err := runner.NewJobCommand(req.Query, s.jobHook())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxResults > 0 {
		cmd = cmd.WithMaxResults(req.MaxResults)
	}
	if req.MaxAttempts > 0 {
		cmd = cmd.WithMaxAttempts(req.MaxAttempts)
	}

	// The request context dies with the response, the job must not.
	go func() {
		if err := s.runner.Run(context.WithoutCancel(c.Request.Context()), cmd, runner.NoopPromise()); err != nil {
			s.logger.Error("job failed", slogx.JobID(cmd.ID()), slogx.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": cmd.ID().String(),
		"status": string(research.JobPending),
	})
}

// jobHook observes jobs submitted over HTTP. Interested clients follow the
// WebSocket stream, the server itself only logs.
func (s *Server) jobHook() events.Hook {
	return events.LoggingHook()
}

func (s *Server) listJobs(c *gin.Context) {
	jobs, err := s.store.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(jobs), "jobs": jobs})
}

func (s *Server) getJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listTasks(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	tasks, err := s.store.TasksForJob(c.Request.Context(), job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(tasks), "tasks": tasks})
}

func (s *Server) getReport(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	if job.Report == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "report is not ready",
			"status": string(job.Status),
		})
		return
	}
	c.JSON(http.StatusOK, job.Report)
}

func (s *Server) loadJob(c *gin.Context) (*research.Job, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return nil, false
	}

	job, err := s.store.GetJob(c.Request.Context(), id)
	if err != nil {
		var nf *store.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return job, true
}
