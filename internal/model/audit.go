package model

import "time"

// SyncAudit records the outcome of one drain for the admin API.
type SyncAudit struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	Trigger    string    `json:"trigger" gorm:"size:32"`
	Processed  int       `json:"processed"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Conflicts  int       `json:"conflicts"`
	DurationMs int64     `json:"duration_ms"`
	TraceID    string    `json:"trace_id" gorm:"size:36;index"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

const (
	TriggerOnline   = "online"
	TriggerManual   = "manual"
	TriggerInterval = "interval"
	TriggerMount    = "mount"
)
