package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mirsal/internal/connectivity"
	"mirsal/internal/model"
	"mirsal/internal/notify"
	"mirsal/internal/repository"
	v1 "mirsal/pkg/api/v1"
	"mirsal/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ManagerConfig struct {
	// SendImmediate attempts a synchronous replay right after a durable
	// enqueue when the device is online and the caller did not force
	// queueing. The record is persisted first either way.
	SendImmediate bool
	// DrainInterval is the background retry sweep period; zero disables it.
	DrainInterval time.Duration
}

// Manager is the application-facing coordination layer: it is the only
// component that listens to connectivity transitions and the only one that
// guarantees a single full-queue drain at a time. Construct one per process
// and pass it by reference.
type Manager struct {
	core     *Core
	source   connectivity.Source
	notifier notify.Notifier
	hub      *Hub
	audits   repository.AuditInterface
	cfg      ManagerConfig

	processing atomic.Bool

	mu        sync.Mutex
	nextSubID int64
	callbacks map[int64]func(length int64)
}

func NewManager(core *Core, source connectivity.Source, notifier notify.Notifier, hub *Hub, audits repository.AuditInterface, cfg ManagerConfig) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{
		core:      core,
		source:    source,
		notifier:  notifier,
		hub:       hub,
		audits:    audits,
		cfg:       cfg,
		callbacks: make(map[int64]func(int64)),
	}
}

// Enqueue persists the request, then optionally replays it immediately. A
// failed immediate attempt leaves the durable record for the next drain; the
// id is returned either way. Storage failures are surfaced to the notifier
// and the caller, never swallowed.
func (m *Manager) Enqueue(ctx context.Context, opts EnqueueOptions) (string, error) {
	id, err := m.core.Enqueue(ctx, opts)
	if err != nil {
		m.notifier.EnqueueFailed(err)
		return "", err
	}

	if m.cfg.SendImmediate && !opts.ForceQueue && m.source.IsOnline() {
		if _, err := m.core.ProcessOne(ctx, id); err != nil {
			logger.Warn("immediate send failed, request remains queued",
				zap.String("id", id), zap.Error(err))
		}
	}

	m.publishChange(ctx, v1.QueueEvent{Type: v1.EventEnqueue})
	return id, nil
}

// ProcessQueue drains the whole pending set. It is a no-op (started=false)
// while offline or while another drain is in flight; the processing flag is
// reset in a defer so a failing drain can never wedge the queue.
func (m *Manager) ProcessQueue(ctx context.Context, trigger string) (bool, error) {
	if !m.source.IsOnline() {
		logger.Debug("drain skipped, device offline", zap.String("trigger", trigger))
		return false, nil
	}
	if !m.processing.CompareAndSwap(false, true) {
		logger.Debug("drain skipped, already in progress", zap.String("trigger", trigger))
		return false, nil
	}
	defer m.processing.Store(false)

	pending, err := m.core.repo.CountByStatus(ctx, model.StatusPending)
	if err != nil {
		logger.Error("drain aborted, queue stats unavailable", zap.Error(err))
		return true, err
	}
	if pending > 0 {
		m.notifier.SyncStarted(pending)
	}

	start := time.Now()
	result, err := m.core.Drain(ctx, nil)
	if result == nil {
		result = &DrainResult{}
	}
	if result.Processed > 0 || err != nil {
		m.recordAudit(ctx, trigger, result, time.Since(start))
	}
	if result.Processed > 0 {
		m.notifier.SyncFinished(result.Completed, result.Processed-result.Completed)
	}

	m.publishChange(ctx, v1.QueueEvent{
		Type:      v1.EventDrain,
		Trigger:   trigger,
		Processed: result.Processed,
		Completed: result.Completed,
		Failed:    result.Failed + result.Requeued,
		Conflicts: result.Conflicts,
	})

	if err != nil {
		logger.Error("drain aborted", zap.String("trigger", trigger), zap.Error(err))
		return true, err
	}
	logger.Info("drain finished",
		zap.String("trigger", trigger),
		zap.Int("processed", result.Processed),
		zap.Int("completed", result.Completed),
		zap.Int("requeued", result.Requeued),
		zap.Int("failed", result.Failed),
		zap.Int("conflicts", result.Conflicts),
		zap.Duration("took", time.Since(start)))
	return true, nil
}

func (m *Manager) QueueLength(ctx context.Context) (int64, error) {
	return m.core.ActiveCount(ctx)
}

func (m *Manager) PendingRequests(ctx context.Context) ([]model.QueuedRequest, error) {
	return m.core.ActiveRequests(ctx)
}

func (m *Manager) GetRequest(ctx context.Context, id string) (*model.QueuedRequest, error) {
	return m.core.GetRequest(ctx, id)
}

func (m *Manager) DeleteRequest(ctx context.Context, id string) (bool, error) {
	return m.core.DeleteRequest(ctx, id)
}

func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	return m.core.Stats(ctx)
}

func (m *Manager) ClearCompleted(ctx context.Context) (int64, error) {
	n, err := m.core.ClearByStatus(ctx, model.StatusCompleted)
	if err != nil {
		return 0, err
	}
	m.publishChange(ctx, v1.QueueEvent{Type: v1.EventClear})
	return n, nil
}

func (m *Manager) IsProcessing() bool {
	return m.processing.Load()
}

// OnQueueChange registers a callback invoked with the new queue length after
// every enqueue and every drain. The returned unsubscribe is idempotent.
func (m *Manager) OnQueueChange(cb func(length int64)) func() {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.callbacks[id] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.callbacks, id)
		m.mu.Unlock()
	}
}

// Hub exposes the event hub for SSE watchers.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Run wires connectivity transitions and the retry sweep. Online transitions
// trigger a drain; offline transitions are logged only, since the next
// online event retries everything.
func (m *Manager) Run(ctx context.Context) {
	sub := m.source.Subscribe()
	defer sub.Unsubscribe()

	var tick <-chan time.Time
	if m.cfg.DrainInterval > 0 {
		ticker := time.NewTicker(m.cfg.DrainInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	logger.Info("queue manager started", zap.Duration("drain_interval", m.cfg.DrainInterval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("queue manager stopped")
			return
		case online, ok := <-sub.C:
			if !ok {
				return
			}
			if online {
				if _, err := m.ProcessQueue(ctx, model.TriggerOnline); err != nil {
					logger.Error("online drain failed", zap.Error(err))
				}
			}
		case <-tick:
			if _, err := m.ProcessQueue(ctx, model.TriggerInterval); err != nil {
				logger.Error("interval drain failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) publishChange(ctx context.Context, ev v1.QueueEvent) {
	length, err := m.core.ActiveCount(ctx)
	if err != nil {
		logger.Warn("queue length unavailable for change event", zap.Error(err))
		return
	}
	ev.QueueLength = length
	m.core.observer.SetQueueDepth(float64(length))

	if m.hub != nil {
		m.hub.Publish(ev)
	}

	m.mu.Lock()
	cbs := make([]func(int64), 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(length)
	}
}

func (m *Manager) recordAudit(ctx context.Context, trigger string, result *DrainResult, took time.Duration) {
	if m.audits == nil {
		return
	}
	audit := &model.SyncAudit{
		Trigger:    trigger,
		Processed:  result.Processed,
		Completed:  result.Completed,
		Failed:     result.Failed + result.Requeued,
		Conflicts:  result.Conflicts,
		DurationMs: took.Milliseconds(),
		TraceID:    uuid.New().String(),
	}
	if err := m.audits.Create(ctx, audit); err != nil {
		logger.Warn("drain audit not recorded", zap.Error(err))
	}
}
