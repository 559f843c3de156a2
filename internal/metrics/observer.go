package metrics

type QueueObserver interface {
	RecordEnqueue()
	RecordAttempt(outcome string)
	RecordTimeout()
	ObserveDrainDuration(seconds float64)
	SetQueueDepth(depth float64)
}

const (
	OutcomeCompleted = "completed"
	OutcomeRequeued  = "requeued"
	OutcomeFailed    = "failed"
	OutcomeConflict  = "conflict"
)
