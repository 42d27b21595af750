package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GET /api/status
func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status())
}

// GET /api/traffic
func (s *Server) traffic(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Accountant.Snapshot())
}

// GET /api/traffic/history?start=<ms>&end=<ms>&limit=<n>
// Defaults to today; ranges over 7 days are rejected.
func (s *Server) trafficHistory(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "traffic history disabled"})
		return
	}

	startMs, _ := strconv.ParseInt(c.DefaultQuery("start", "0"), 10, 64)
	endMs, _ := strconv.ParseInt(c.DefaultQuery("end", "0"), 10, 64)
	if startMs <= 0 || endMs <= 0 || endMs < startMs {
		now := time.Now()
		begin := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
		startMs = begin.UnixMilli()
		endMs = begin.Add(24*time.Hour - time.Millisecond).UnixMilli()
	}
	start := time.UnixMilli(startMs).In(time.Local)
	end := time.UnixMilli(endMs).In(time.Local)

	const maxRange = 7 * 24 * time.Hour
	if end.Sub(start) > maxRange {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "time_range_exceeds_limit",
			"limit_days": 7,
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	rows, err := s.DB.Range(start, end, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": rows, "total": len(rows)})
}

// POST /api/start
func (s *Server) engineStart(c *gin.Context) {
	// Deliberately not the request context: the engine must outlive
	// this API call.
	ctx := s.BaseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Engine.Start(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Engine.Status())
}

// POST /api/stop
func (s *Server) engineStop(c *gin.Context) {
	s.Engine.Stop()
	c.JSON(http.StatusOK, s.Engine.Status())
}
