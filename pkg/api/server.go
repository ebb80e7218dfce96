// Package api exposes the HTTP surface: run submission, run inspection,
// abort, and health.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/uiprobe/uiprobe/pkg/admission"
	"github.com/uiprobe/uiprobe/pkg/runner"
	"github.com/uiprobe/uiprobe/pkg/store"
)

// Server holds the HTTP handlers over the orchestration service.
type Server struct {
	service *runner.Service
}

func NewServer(service *runner.Service) *Server {
	return &Server{service: service}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), securityHeaders())

	r.GET("/health", s.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/runs", s.CreateRun)
		v1.GET("/runs", s.ListRuns)
		v1.GET("/runs/:id", s.GetRun)
		v1.DELETE("/runs/:id", s.AbortRun)
	}
	return r
}

// CreateRunRequest is the body for POST /api/v1/runs.
type CreateRunRequest struct {
	TenantID  string   `json:"tenant_id" binding:"required"`
	TargetURL string   `json:"target_url" binding:"required"`
	Goals     []string `json:"goals" binding:"required,min=1"`
	Persona   string   `json:"persona"`
}

// CreateRun handles POST /api/v1/runs. Admission failures map to 429 with
// the limit kind in the body; target-guard rejections map to 400.
func (s *Server) CreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.service.Submit(c.Request.Context(), runner.SubmitRequest{
		TenantID:  req.TenantID,
		ClientIP:  c.ClientIP(),
		TargetURL: req.TargetURL,
		Goals:     req.Goals,
		Persona:   req.Persona,
		UserAgent: c.Request.UserAgent(),
		RequestID: c.GetString("request_id"),
	})
	if err != nil {
		s.mapSubmitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) mapSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, runner.ErrTargetRejected):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"kind":  "SecurityRejection",
		})
	case errors.Is(err, admission.ErrUserLimitExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": err.Error(),
			"kind":  "LimitExceeded",
			"limit": "concurrent_per_user",
		})
	case errors.Is(err, admission.ErrGlobalLimitExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": err.Error(),
			"kind":  "LimitExceeded",
			"limit": "concurrent_global",
		})
	default:
		var rle *admission.RateLimitError
		if errors.As(err, &rle) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": err.Error(),
				"kind":  "LimitExceeded",
				"limit": "rate_" + rle.Scope,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// GetRun handles GET /api/v1/runs/:id.
func (s *Server) GetRun(c *gin.Context) {
	run, err := s.service.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /api/v1/runs?tenant_id=&limit=.
func (s *Server) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.service.ListRuns(c.Request.Context(), c.Query("tenant_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// AbortRun handles DELETE /api/v1/runs/:id.
func (s *Server) AbortRun(c *gin.Context) {
	if !s.service.Abort(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run is not active"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "aborting"})
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"active_runs": s.service.ActiveRuns(),
	})
}
