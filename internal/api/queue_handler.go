package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mirsal/internal/dto/resp"
	"mirsal/internal/model"
	"mirsal/internal/queue"
	"mirsal/internal/repository"
	v1 "mirsal/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

// QueueProvider is what UI surfaces see: the manager's coordination API.
type QueueProvider interface {
	Enqueue(ctx context.Context, opts queue.EnqueueOptions) (string, error)
	ProcessQueue(ctx context.Context, trigger string) (bool, error)
	Stats(ctx context.Context) (*queue.Stats, error)
	PendingRequests(ctx context.Context) ([]model.QueuedRequest, error)
	GetRequest(ctx context.Context, id string) (*model.QueuedRequest, error)
	DeleteRequest(ctx context.Context, id string) (bool, error)
	ClearCompleted(ctx context.Context) (int64, error)
	QueueLength(ctx context.Context) (int64, error)
	IsProcessing() bool
	Hub() *queue.Hub
}

type QueueHandler struct {
	manager QueueProvider
	audits  repository.AuditInterface
}

func NewQueueHandler(manager QueueProvider, audits repository.AuditInterface) *QueueHandler {
	return &QueueHandler{
		manager: manager,
		audits:  audits,
	}
}

func (h *QueueHandler) Enqueue(c *gin.Context) {
	var r v1.EnqueueRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}

	id, err := h.manager.Enqueue(c.Request.Context(), queue.EnqueueOptions{
		URL:              r.URL,
		Method:           r.Method,
		Headers:          r.Headers,
		Body:             r.Body,
		Priority:         r.Priority,
		MaxRetries:       r.MaxRetries,
		Timeout:          time.Duration(r.TimeoutMs) * time.Millisecond,
		ConflictStrategy: model.ConflictStrategy(r.ConflictStrategy),
		ForceQueue:       r.ForceQueue,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStorageUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := string(model.StatusPending)
	if rec, err := h.manager.GetRequest(c.Request.Context(), id); err == nil {
		status = string(rec.Status)
	}
	c.JSON(http.StatusAccepted, v1.EnqueueResponse{ID: id, Status: status})
}

func (h *QueueHandler) Drain(c *gin.Context) {
	started, err := h.manager.ProcessQueue(c.Request.Context(), model.TriggerManual)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v1.DrainResponse{Started: started})
}

func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.manager.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v1.StatsResponse{
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
		Conflict:   stats.Conflict,
		Total:      stats.Total,
	})
}

func (h *QueueHandler) Pending(c *gin.Context) {
	reqs, err := h.manager.PendingRequests(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp.PendingListResponse{Data: reqs, Count: len(reqs)})
}

func (h *QueueHandler) GetRequest(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.manager.GetRequest(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *QueueHandler) DeleteRequest(c *gin.Context) {
	id := c.Param("id")
	existed, err := h.manager.DeleteRequest(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if !existed {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *QueueHandler) ClearCompleted(c *gin.Context) {
	n, err := h.manager.ClearCompleted(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v1.ClearResponse{Removed: n})
}

func (h *QueueHandler) HealthCheck(c *gin.Context) {
	if err := h.audits.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "processing": h.manager.IsProcessing()})
}
