package queue

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"mirsal/internal/model"
	"mirsal/internal/repository"
	"mirsal/internal/transport"
	"mirsal/pkg/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	logger.InitLogger("test")
}

type nopObserver struct{}

func (nopObserver) RecordEnqueue()               {}
func (nopObserver) RecordAttempt(string)         {}
func (nopObserver) RecordTimeout()               {}
func (nopObserver) ObserveDrainDuration(float64) {}
func (nopObserver) SetQueueDepth(float64)        {}

type fakeSender struct {
	mu    sync.Mutex
	calls []transport.Request
	fn    func(ctx context.Context, req transport.Request) (*transport.Result, error)
}

func (s *fakeSender) Send(ctx context.Context, req transport.Request) (*transport.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return &transport.Result{StatusCode: http.StatusOK}, nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSender) callURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, len(s.calls))
	for i, c := range s.calls {
		urls[i] = c.URL
	}
	return urls
}

func newTestCore(t *testing.T, sender *fakeSender) (*Core, *repository.RequestRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.QueuedRequest{}, &model.SyncAudit{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repository.NewRequestRepository(db)
	return NewCore(repo, sender, nopObserver{}, Defaults{}), repo
}

func TestEnqueue_Defaults(t *testing.T) {
	core, repo := newTestCore(t, &fakeSender{})
	ctx := context.Background()

	id, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusPending {
		t.Errorf("expected PENDING, got %s", rec.Status)
	}
	if rec.Method != "POST" {
		t.Errorf("expected default method POST, got %s", rec.Method)
	}
	if rec.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", rec.MaxRetries)
	}
	if rec.TimeoutMs != 30000 {
		t.Errorf("expected default timeout 30000ms, got %d", rec.TimeoutMs)
	}
	if rec.ConflictStrategy != model.ConflictReplace {
		t.Errorf("expected default strategy REPLACE, got %s", rec.ConflictStrategy)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	core, _ := newTestCore(t, &fakeSender{})
	ctx := context.Background()

	if _, err := core.Enqueue(ctx, EnqueueOptions{}); err == nil {
		t.Error("expected error for missing url")
	}
	if _, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://x", Method: "TRACE"}); err == nil {
		t.Error("expected error for unsupported method")
	}
}

func TestDrain_Ordering(t *testing.T) {
	sender := &fakeSender{}
	core, _ := newTestCore(t, sender)
	ctx := context.Background()

	// A(priority 1, oldest), B(priority 5), C(priority 5, newest).
	// Expected drain order: B, C, A.
	enqueue := func(url string, priority int) {
		t.Helper()
		if _, err := core.Enqueue(ctx, EnqueueOptions{URL: url, Priority: priority}); err != nil {
			t.Fatalf("enqueue %s: %v", url, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	enqueue("https://api.example.com/a", 1)
	enqueue("https://api.example.com/b", 5)
	enqueue("https://api.example.com/c", 5)

	result, err := core.Drain(ctx, nil)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Processed != 3 || result.Completed != 3 {
		t.Fatalf("expected 3 processed and completed, got %+v", result)
	}

	want := []string{
		"https://api.example.com/b",
		"https://api.example.com/c",
		"https://api.example.com/a",
	}
	got := sender.callURLs()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drain order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestDrain_RetryBound(t *testing.T) {
	sender := &fakeSender{
		fn: func(ctx context.Context, req transport.Request) (*transport.Result, error) {
			return nil, errors.New("connection refused")
		},
	}
	core, repo := newTestCore(t, sender)
	ctx := context.Background()

	id, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks", MaxRetries: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := core.Drain(ctx, nil); err != nil {
			t.Fatalf("drain %d: %v", attempt, err)
		}
		rec, err := repo.Get(ctx, id)
		if err != nil {
			t.Fatalf("get after drain %d: %v", attempt, err)
		}
		if rec.RetryCount != attempt {
			t.Errorf("after drain %d: retry count %d", attempt, rec.RetryCount)
		}
		if rec.LastError == "" {
			t.Errorf("after drain %d: last error not set", attempt)
		}
		wantStatus := model.StatusPending
		if attempt == 3 {
			wantStatus = model.StatusFailed
		}
		if rec.Status != wantStatus {
			t.Errorf("after drain %d: status %s, want %s", attempt, rec.Status, wantStatus)
		}
	}

	// Terminal FAILED is never retried again.
	if _, err := core.Drain(ctx, nil); err != nil {
		t.Fatalf("final drain: %v", err)
	}
	if sender.callCount() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", sender.callCount())
	}
}

func TestDrain_EndToEnd_SingleRetryBudget(t *testing.T) {
	// maxRetries=1 against a transport that fails once: retryCount goes
	// 0 -> 1 == max, so the first drain already lands in FAILED.
	sender := &fakeSender{
		fn: func(ctx context.Context, req transport.Request) (*transport.Result, error) {
			return nil, errors.New("transient")
		},
	}
	core, repo := newTestCore(t, sender)
	ctx := context.Background()

	id, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks", MaxRetries: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := core.Drain(ctx, nil); err != nil {
		t.Fatalf("drain: %v", err)
	}

	rec, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusFailed {
		t.Errorf("expected FAILED, got %s", rec.Status)
	}
	if rec.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", rec.RetryCount)
	}
}

func TestDrain_TimeoutCausesRetry(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	sender := &fakeSender{
		fn: func(ctx context.Context, req transport.Request) (*transport.Result, error) {
			<-block
			return nil, errors.New("late")
		},
	}
	core, repo := newTestCore(t, sender)
	ctx := context.Background()

	id, err := core.Enqueue(ctx, EnqueueOptions{
		URL:        "https://api.example.com/tasks",
		MaxRetries: 2,
		Timeout:    50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	start := time.Now()
	if _, err := core.Drain(ctx, nil); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Errorf("timeout race took too long: %v", took)
	}

	rec, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusPending {
		t.Errorf("expected PENDING after timed-out attempt, got %s", rec.Status)
	}
	if rec.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", rec.RetryCount)
	}
	if !strings.Contains(rec.LastError, "timed out") {
		t.Errorf("expected timeout last error, got %q", rec.LastError)
	}
}

func TestDrain_ConflictIsTerminal(t *testing.T) {
	sender := &fakeSender{
		fn: func(ctx context.Context, req transport.Request) (*transport.Result, error) {
			return &transport.Result{StatusCode: http.StatusConflict}, nil
		},
	}
	core, repo := newTestCore(t, sender)
	ctx := context.Background()

	id, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result, err := core.Drain(ctx, nil)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Conflicts != 1 {
		t.Errorf("expected 1 conflict, got %+v", result)
	}

	rec, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusConflict {
		t.Errorf("expected CONFLICT, got %s", rec.Status)
	}
	if rec.CancelledAt == nil {
		t.Error("expected cancelled_at to be set")
	}
	if rec.RetryCount != 0 {
		t.Errorf("conflicts must not consume retries, got %d", rec.RetryCount)
	}

	// No further attempts on a terminal record.
	if _, err := core.Drain(ctx, nil); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if sender.callCount() != 1 {
		t.Errorf("expected 1 attempt, got %d", sender.callCount())
	}
}

func TestDrain_ProgressCallback(t *testing.T) {
	fail := true
	sender := &fakeSender{
		fn: func(ctx context.Context, req transport.Request) (*transport.Result, error) {
			if fail {
				fail = false
				return nil, errors.New("boom")
			}
			return &transport.Result{StatusCode: http.StatusCreated}, nil
		},
	}
	core, _ := newTestCore(t, sender)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var progress [][2]int
	_, err := core.Drain(ctx, func(processed, total int) {
		progress = append(progress, [2]int{processed, total})
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Progress fires after every record regardless of outcome.
	want := [][2]int{{1, 2}, {2, 2}}
	if len(progress) != len(want) {
		t.Fatalf("expected %d progress calls, got %d", len(want), len(progress))
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want[i])
		}
	}
}

func TestProcessOne_Errors(t *testing.T) {
	core, repo := newTestCore(t, &fakeSender{})
	ctx := context.Background()

	if _, err := core.ProcessOne(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	id, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/tasks"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := core.ProcessOne(ctx, id); err != nil {
		t.Fatalf("process one: %v", err)
	}

	rec, _ := repo.Get(ctx, id)
	if rec.Status != model.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", rec.Status)
	}
	if _, err := core.ProcessOne(ctx, id); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending on terminal record, got %v", err)
	}
}

func TestStatsAndClear(t *testing.T) {
	calls := 0
	sender := &fakeSender{
		fn: func(ctx context.Context, req transport.Request) (*transport.Result, error) {
			calls++
			if req.URL == "https://api.example.com/fails" {
				return &transport.Result{StatusCode: http.StatusInternalServerError}, nil
			}
			return &transport.Result{StatusCode: http.StatusOK}, nil
		},
	}
	core, _ := newTestCore(t, sender)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/ok"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := core.Enqueue(ctx, EnqueueOptions{URL: "https://api.example.com/fails", MaxRetries: 1}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if _, err := core.Drain(ctx, nil); err != nil {
		t.Fatalf("drain: %v", err)
	}

	stats, err := core.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 3 || stats.Failed != 2 || stats.Total != 5 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	removed, err := core.ClearByStatus(ctx, model.StatusCompleted)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 cleared, got %d", removed)
	}

	stats, err = core.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after clear: %v", err)
	}
	if stats.Completed != 0 || stats.Failed != 2 {
		t.Errorf("failed records must survive the clear: %+v", stats)
	}
}
