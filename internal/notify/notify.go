package notify

import (
	"context"
	"encoding/json"
	"time"

	"mirsal/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier is the human-visible sync status sink (the toast boundary). All
// implementations are fire-and-forget: a failing sink must never affect
// queue correctness.
type Notifier interface {
	SyncStarted(count int64)
	SyncFinished(completed, failed int)
	EnqueueFailed(err error)
}

type LogNotifier struct{}

func (LogNotifier) SyncStarted(count int64) {
	logger.Info("syncing queued requests", zap.Int64("count", count))
}

func (LogNotifier) SyncFinished(completed, failed int) {
	logger.Info("sync finished",
		zap.Int("completed", completed),
		zap.Int("failed", failed))
}

func (LogNotifier) EnqueueFailed(err error) {
	logger.Error("failed to queue request", zap.Error(err))
}

type syncEvent struct {
	Type      string    `json:"type"`
	Count     int64     `json:"count,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// RedisNotifier publishes sync events on a pub/sub channel so separate UI
// processes can surface them.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) publish(ev syncEvent) {
	ev.At = time.Now()
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		logger.Warn("sync event publish failed", zap.Error(err))
	}
}

func (n *RedisNotifier) SyncStarted(count int64) {
	n.publish(syncEvent{Type: "sync_started", Count: count})
}

func (n *RedisNotifier) SyncFinished(completed, failed int) {
	n.publish(syncEvent{Type: "sync_finished", Completed: completed, Failed: failed})
}

func (n *RedisNotifier) EnqueueFailed(err error) {
	n.publish(syncEvent{Type: "enqueue_failed", Error: err.Error()})
}

// Multi fans out to several sinks.
type Multi []Notifier

func (m Multi) SyncStarted(count int64) {
	for _, n := range m {
		n.SyncStarted(count)
	}
}

func (m Multi) SyncFinished(completed, failed int) {
	for _, n := range m {
		n.SyncFinished(completed, failed)
	}
}

func (m Multi) EnqueueFailed(err error) {
	for _, n := range m {
		n.EnqueueFailed(err)
	}
}

type Nop struct{}

func (Nop) SyncStarted(int64)     {}
func (Nop) SyncFinished(int, int) {}
func (Nop) EnqueueFailed(error)   {}
