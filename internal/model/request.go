package model

import (
	"encoding/json"
	"time"
)

type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusProcessing RequestStatus = "PROCESSING"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusFailed     RequestStatus = "FAILED"
	StatusConflict   RequestStatus = "CONFLICT"
)

type ConflictStrategy string

const (
	// ConflictReplace: the queued write should win once resolution exists.
	// Resolution itself is not implemented; the queue only tags the record.
	ConflictReplace ConflictStrategy = "REPLACE"
	ConflictSkip    ConflictStrategy = "SKIP"
)

// QueuedRequest is one captured write operation awaiting replay.
type QueuedRequest struct {
	ID               string           `json:"id" gorm:"primaryKey;size:36"`
	URL              string           `json:"url" gorm:"size:2048;index"`
	Method           string           `json:"method" gorm:"size:8"`
	Headers          string           `json:"headers" gorm:"type:text"`
	Body             []byte           `json:"body,omitempty" gorm:"type:blob"`
	Status           RequestStatus    `json:"status" gorm:"size:16;index"`
	Priority         int              `json:"priority" gorm:"default:0"`
	RetryCount       int              `json:"retry_count" gorm:"default:0"`
	MaxRetries       int              `json:"max_retries" gorm:"default:3"`
	TimeoutMs        int64            `json:"timeout_ms" gorm:"default:30000"`
	ConflictStrategy ConflictStrategy `json:"conflict_strategy" gorm:"size:16;default:REPLACE"`
	LastError        string           `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt        time.Time        `json:"created_at" gorm:"index"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
}

func (r *QueuedRequest) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusConflict:
		return true
	}
	return false
}

func (r *QueuedRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// HeaderMap decodes the serialized header map. A corrupt or empty column
// yields an empty map rather than an error; headers are advisory.
func (r *QueuedRequest) HeaderMap() map[string]string {
	out := make(map[string]string)
	if r.Headers == "" {
		return out
	}
	_ = json.Unmarshal([]byte(r.Headers), &out)
	return out
}

func (r *QueuedRequest) SetHeaderMap(h map[string]string) {
	if len(h) == 0 {
		r.Headers = ""
		return
	}
	b, err := json.Marshal(h)
	if err != nil {
		return
	}
	r.Headers = string(b)
}
