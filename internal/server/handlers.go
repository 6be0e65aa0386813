package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/vodforge/internal/jobs"
	"github.com/mantonx/vodforge/internal/pipeline"
)

// submitJobRequest is the POST /api/jobs payload. The id is optional; the
// server assigns one when it is empty.
type submitJobRequest struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path" binding:"required"`
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_path is required"})
		return
	}

	id, err := s.pipeline.Enqueue(req.ID, req.SourcePath)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, pipeline.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.store.Snapshot(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) handleGetJob(c *gin.Context) {
	snap, err := s.store.Snapshot(c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleListJobs(c *gin.Context) {
	all := s.store.List()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  all,
		"count": len(all),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
