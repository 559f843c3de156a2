package api

import (
	"context"
	"io"
	"strconv"

	"mirsal/internal/model"
	"mirsal/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StreamHandler struct {
	manager QueueProvider
}

func NewStreamHandler(manager QueueProvider) *StreamHandler {
	return &StreamHandler{manager: manager}
}

// Watch streams queue-change events over SSE. Connecting has mount
// semantics: the watcher gets the current queue length, one drain attempt is
// kicked off, and the subscription lives until the client disconnects.
// `last_seq` lets a reconnecting watcher replay missed events.
func (h *StreamHandler) Watch(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	hub := h.manager.Hub()
	sub := hub.NewSubscriber()
	hub.Register <- sub
	defer func() {
		hub.Unregister <- sub
	}()

	logger.Info("queue watcher connected", zap.String("ip", c.ClientIP()))

	length, err := h.manager.QueueLength(c.Request.Context())
	if err != nil {
		c.SSEvent("error", err.Error())
		return
	}
	c.SSEvent("snapshot", gin.H{
		"queue_length": length,
		"processing":   h.manager.IsProcessing(),
	})
	c.Writer.Flush()

	// One drain attempt per mount; offline or busy makes it a no-op.
	go func() {
		if _, err := h.manager.ProcessQueue(context.Background(), model.TriggerMount); err != nil {
			logger.Warn("mount drain failed", zap.Error(err))
		}
	}()

	var lastSeq int64
	if s := c.Query("last_seq"); s != "" {
		lastSeq, _ = strconv.ParseInt(s, 10, 64)
	}
	maxSentSeq := lastSeq
	if lastSeq > 0 {
		missed, ok := hub.EventsSince(lastSeq)
		if !ok {
			c.SSEvent("reset", "sequence_too_old")
		} else {
			for _, ev := range missed {
				c.SSEvent("message", ev)
				maxSentSeq = ev.Seq
			}
		}
		c.Writer.Flush()
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Send:
			if !ok {
				return false
			}
			if ev.Seq <= maxSentSeq {
				return true
			}
			c.SSEvent("message", ev)
			maxSentSeq = ev.Seq
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	logger.Info("queue watcher disconnected", zap.String("ip", c.ClientIP()))
}
