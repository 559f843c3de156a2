package v1

import "time"

// QueueEvent is broadcast to subscribers after every enqueue and every
// drain. Seq is a process-local monotonic sequence used by watchers to
// catch up after a reconnect.
type QueueEvent struct {
	Seq         int64     `json:"seq"`
	Type        string    `json:"type"`
	QueueLength int64     `json:"queue_length"`
	Trigger     string    `json:"trigger,omitempty"`
	Processed   int       `json:"processed,omitempty"`
	Completed   int       `json:"completed,omitempty"`
	Failed      int       `json:"failed,omitempty"`
	Conflicts   int       `json:"conflicts,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	EventEnqueue = "enqueue"
	EventDrain   = "drain"
	EventClear   = "clear"
)

type EnqueueRequest struct {
	URL              string            `json:"url" binding:"required"`
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers"`
	Body             []byte            `json:"body"`
	Priority         int               `json:"priority"`
	MaxRetries       int               `json:"max_retries"`
	TimeoutMs        int64             `json:"timeout_ms"`
	ConflictStrategy string            `json:"conflict_strategy"`
	ForceQueue       bool              `json:"force_queue"`
}

type EnqueueResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type StatsResponse struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Conflict   int64 `json:"conflict"`
	Total      int64 `json:"total"`
}

type DrainResponse struct {
	Started bool `json:"started"`
}

type ClearResponse struct {
	Removed int64 `json:"removed"`
}
