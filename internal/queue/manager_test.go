package queue

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"mirsal/internal/connectivity"
	"mirsal/internal/model"
	"mirsal/internal/transport"
)

type recordingNotifier struct {
	mu       sync.Mutex
	started  []int64
	finished [][2]int
	enqueue  []error
}

func (n *recordingNotifier) SyncStarted(count int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, count)
}

func (n *recordingNotifier) SyncFinished(completed, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, [2]int{completed, failed})
}

func (n *recordingNotifier) EnqueueFailed(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueue = append(n.enqueue, err)
}

// newTestManager uses a probe-less monitor so tests flip connectivity with
// SetOnline instead of a real network.
func newTestManager(t *testing.T, sender *fakeSender, cfg ManagerConfig) (*Manager, *connectivity.Monitor, *recordingNotifier) {
	t.Helper()
	core, _ := newTestCore(t, sender)
	monitor := connectivity.NewMonitor("", 0, 0)
	notifier := &recordingNotifier{}
	mgr := NewManager(core, monitor, notifier, nil, nil, cfg)
	return mgr, monitor, notifier
}

func TestProcessQueue_OfflineNoop(t *testing.T) {
	sender := &fakeSender{}
	mgr, monitor, _ := newTestManager(t, sender, ManagerConfig{})
	ctx := context.Background()

	id, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	monitor.SetOnline(false)
	started, err := mgr.ProcessQueue(ctx, model.TriggerManual)
	if err != nil {
		t.Fatalf("process queue: %v", err)
	}
	if started {
		t.Error("drain must be a no-op while offline")
	}
	if sender.callCount() != 0 {
		t.Errorf("expected zero executions offline, got %d", sender.callCount())
	}

	rec, err := mgr.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusPending {
		t.Errorf("status must be unchanged, got %s", rec.Status)
	}
}

func TestProcessQueue_SingleDrainInvariant(t *testing.T) {
	release := make(chan struct{})
	sender := &fakeSender{
		fn: func(ctx context.Context, req transport.Request) (*transport.Result, error) {
			<-release
			return &transport.Result{StatusCode: http.StatusOK}, nil
		},
	}
	mgr, _, _ := newTestManager(t, sender, ManagerConfig{})
	ctx := context.Background()

	if _, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks", ForceQueue: true}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := mgr.ProcessQueue(ctx, model.TriggerManual); err != nil {
			t.Errorf("first drain: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !mgr.IsProcessing() {
		if time.Now().After(deadline) {
			t.Fatal("first drain never started")
		}
		time.Sleep(time.Millisecond)
	}

	// The second call must be a no-op while the first is in flight.
	started, err := mgr.ProcessQueue(ctx, model.TriggerManual)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if started {
		t.Error("expected second concurrent drain to be rejected")
	}

	close(release)
	<-done

	if mgr.IsProcessing() {
		t.Error("processing flag must reset after the drain")
	}
	if sender.callCount() != 1 {
		t.Errorf("expected exactly one execution, got %d", sender.callCount())
	}
}

func TestEnqueue_ImmediateSend(t *testing.T) {
	sender := &fakeSender{}
	mgr, _, _ := newTestManager(t, sender, ManagerConfig{SendImmediate: true})
	ctx := context.Background()

	id, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	rec, err := mgr.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusCompleted {
		t.Errorf("expected immediate send to complete the record, got %s", rec.Status)
	}
}

func TestEnqueue_ImmediateSendFailureFallsBack(t *testing.T) {
	sender := &fakeSender{
		fn: func(ctx context.Context, req transport.Request) (*transport.Result, error) {
			return nil, errors.New("connection reset")
		},
	}
	mgr, _, _ := newTestManager(t, sender, ManagerConfig{SendImmediate: true})
	ctx := context.Background()

	id, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks"})
	if err != nil {
		t.Fatalf("enqueue must succeed even when the immediate send fails: %v", err)
	}
	rec, err := mgr.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusPending {
		t.Errorf("failed immediate send must leave a durable PENDING record, got %s", rec.Status)
	}
	if rec.RetryCount != 1 {
		t.Errorf("immediate attempt counts against the retry budget, got %d", rec.RetryCount)
	}
}

func TestEnqueue_ForceQueueSkipsImmediateSend(t *testing.T) {
	sender := &fakeSender{}
	mgr, _, _ := newTestManager(t, sender, ManagerConfig{SendImmediate: true})
	ctx := context.Background()

	if _, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks", ForceQueue: true}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if sender.callCount() != 0 {
		t.Errorf("force_queue must suppress the immediate send, got %d calls", sender.callCount())
	}
}

func TestOnQueueChange(t *testing.T) {
	sender := &fakeSender{}
	mgr, _, _ := newTestManager(t, sender, ManagerConfig{})
	ctx := context.Background()

	var mu sync.Mutex
	var lengths []int64
	unsubscribe := mgr.OnQueueChange(func(length int64) {
		mu.Lock()
		defer mu.Unlock()
		lengths = append(lengths, length)
	})

	if _, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks", ForceQueue: true}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := mgr.ProcessQueue(ctx, model.TriggerManual); err != nil {
		t.Fatalf("drain: %v", err)
	}

	mu.Lock()
	got := append([]int64(nil), lengths...)
	mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications (enqueue + drain), got %d", len(got))
	}
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("expected lengths [1 0], got %v", got)
	}

	// Unsubscribe is idempotent and stops delivery.
	unsubscribe()
	unsubscribe()
	if _, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks", ForceQueue: true}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	mu.Lock()
	after := len(lengths)
	mu.Unlock()
	if after != 2 {
		t.Errorf("expected no notifications after unsubscribe, got %d", after)
	}
}

func TestNotifier_SyncSummaries(t *testing.T) {
	sender := &fakeSender{}
	mgr, _, notifier := newTestManager(t, sender, ManagerConfig{})
	ctx := context.Background()

	// Empty queue: no "syncing" toast.
	if _, err := mgr.ProcessQueue(ctx, model.TriggerManual); err != nil {
		t.Fatalf("drain: %v", err)
	}
	notifier.mu.Lock()
	if len(notifier.started) != 0 {
		t.Errorf("no sync-started toast expected for an empty queue, got %v", notifier.started)
	}
	notifier.mu.Unlock()

	if _, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks", ForceQueue: true}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := mgr.ProcessQueue(ctx, model.TriggerManual); err != nil {
		t.Fatalf("drain: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.started) != 1 || notifier.started[0] != 1 {
		t.Errorf("expected sync-started with count 1, got %v", notifier.started)
	}
	if len(notifier.finished) != 1 || notifier.finished[0] != [2]int{1, 0} {
		t.Errorf("expected summary (1 completed, 0 failed), got %v", notifier.finished)
	}
}

func TestRun_OnlineTransitionTriggersDrain(t *testing.T) {
	sender := &fakeSender{}
	mgr, monitor, _ := newTestManager(t, sender, ManagerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.SetOnline(false)
	if _, err := mgr.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	go mgr.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	monitor.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for sender.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("online transition never triggered a drain")
		}
		time.Sleep(time.Millisecond)
	}
}
