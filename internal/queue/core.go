package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"mirsal/internal/metrics"
	"mirsal/internal/model"
	"mirsal/internal/repository"
	"mirsal/internal/transport"
	"mirsal/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotPending is returned for a targeted ProcessOne against a record
	// that is not in PENDING (already terminal, or owned by a drain).
	ErrNotPending = errors.New("request is not pending")

	// ErrRequestTimeout marks an attempt that exceeded its execution budget.
	// The underlying transport call may still complete server-side; the
	// attempt is only recorded as a retryable failure.
	ErrRequestTimeout = errors.New("request timed out")
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true,
	"PATCH": true, "DELETE": true, "HEAD": true,
}

// Defaults applied to enqueue options the caller left unset.
type Defaults struct {
	MaxRetries int
	Timeout    time.Duration
	Priority   int
}

type EnqueueOptions struct {
	URL              string
	Method           string
	Headers          map[string]string
	Body             []byte
	Priority         int
	MaxRetries       int
	Timeout          time.Duration
	ConflictStrategy model.ConflictStrategy
	// ForceQueue suppresses the manager's immediate-send attempt. The core
	// itself ignores it.
	ForceQueue bool
}

type ProgressFunc func(processed, total int)

type DrainResult struct {
	Processed int
	Completed int
	Requeued  int
	Failed    int
	Conflicts int
}

type Stats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	Conflict   int64
	Total      int64
}

// Core owns the durable store and implements ordering, retrying, timing out
// and status transitions. It knows nothing about connectivity or UI; the
// manager layer serializes full-queue drains.
type Core struct {
	repo     repository.RequestInterface
	sender   transport.Sender
	observer metrics.QueueObserver
	defaults Defaults
}

func NewCore(repo repository.RequestInterface, sender transport.Sender, observer metrics.QueueObserver, defaults Defaults) *Core {
	if defaults.MaxRetries <= 0 {
		defaults.MaxRetries = 3
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	return &Core{
		repo:     repo,
		sender:   sender,
		observer: observer,
		defaults: defaults,
	}
}

// Enqueue persists a new PENDING request and returns its id. It fails only
// when the durable store is unavailable.
func (c *Core) Enqueue(ctx context.Context, opts EnqueueOptions) (string, error) {
	if opts.URL == "" {
		return "", errors.New("enqueue: url is required")
	}
	method := opts.Method
	if method == "" {
		method = "POST"
	}
	if !allowedMethods[method] {
		return "", fmt.Errorf("enqueue: unsupported method %q", method)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.defaults.MaxRetries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaults.Timeout
	}
	priority := opts.Priority
	if priority == 0 {
		priority = c.defaults.Priority
	}
	strategy := opts.ConflictStrategy
	if strategy == "" {
		strategy = model.ConflictReplace
	}

	req := &model.QueuedRequest{
		ID:               uuid.New().String(),
		URL:              opts.URL,
		Method:           method,
		Body:             opts.Body,
		Status:           model.StatusPending,
		Priority:         priority,
		MaxRetries:       maxRetries,
		TimeoutMs:        timeout.Milliseconds(),
		ConflictStrategy: strategy,
		CreatedAt:        time.Now(),
	}
	req.SetHeaderMap(opts.Headers)

	if err := c.repo.Put(ctx, req); err != nil {
		return "", err
	}

	c.observer.RecordEnqueue()
	logger.Debug("request enqueued",
		zap.String("id", req.ID),
		zap.String("method", method),
		zap.String("url", opts.URL),
		zap.Int("priority", priority))
	return req.ID, nil
}

// Drain processes every currently pending request, strictly sequentially, in
// priority-descending then oldest-first order. Requests enqueued after the
// snapshot belong to the next drain. Per-request failures are absorbed into
// the record's state; only storage errors abort the loop.
func (c *Core) Drain(ctx context.Context, onProgress ProgressFunc) (*DrainResult, error) {
	pending, err := c.repo.ListByStatus(ctx, model.StatusPending)
	if err != nil {
		return nil, err
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})

	start := time.Now()
	result := &DrainResult{}
	total := len(pending)

	for i := range pending {
		outcome, err := c.processRecord(ctx, &pending[i])
		if err != nil {
			c.observer.ObserveDrainDuration(time.Since(start).Seconds())
			return result, err
		}
		result.Processed++
		switch outcome {
		case metrics.OutcomeCompleted:
			result.Completed++
		case metrics.OutcomeRequeued:
			result.Requeued++
		case metrics.OutcomeFailed:
			result.Failed++
		case metrics.OutcomeConflict:
			result.Conflicts++
		}
		if onProgress != nil {
			onProgress(i+1, total)
		}
	}

	c.observer.ObserveDrainDuration(time.Since(start).Seconds())
	return result, nil
}

// ProcessOne executes exactly one record. Callers must not race it against a
// full drain over the same record.
func (c *Core) ProcessOne(ctx context.Context, id string) (string, error) {
	req, err := c.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if req.Status != model.StatusPending {
		return "", fmt.Errorf("%w: %s is %s", ErrNotPending, id, req.Status)
	}
	return c.processRecord(ctx, req)
}

// processRecord owns the record exclusively for the duration of the attempt.
// The returned error is storage-level only; execution failures land in the
// record's state machine.
func (c *Core) processRecord(ctx context.Context, req *model.QueuedRequest) (string, error) {
	req.Status = model.StatusProcessing
	if err := c.repo.Put(ctx, req); err != nil {
		return "", err
	}

	res, execErr := c.execute(ctx, req)
	now := time.Now()

	var outcome string
	switch {
	case execErr == nil && res.Success():
		req.Status = model.StatusCompleted
		req.CompletedAt = &now
		req.LastError = ""
		outcome = metrics.OutcomeCompleted
		logger.Info("request replayed",
			zap.String("id", req.ID),
			zap.String("url", req.URL),
			zap.Int("status", res.StatusCode))

	case execErr == nil && res.Conflict():
		// Terminal: the queue only tags conflicts, it never retries them.
		req.Status = model.StatusConflict
		req.CancelledAt = &now
		req.LastError = "conflict: server rejected write with HTTP 409"
		outcome = metrics.OutcomeConflict
		logger.Warn("request conflicted",
			zap.String("id", req.ID),
			zap.String("url", req.URL),
			zap.String("strategy", string(req.ConflictStrategy)))

	default:
		msg := ""
		if execErr != nil {
			msg = execErr.Error()
			if errors.Is(execErr, ErrRequestTimeout) {
				c.observer.RecordTimeout()
			}
		} else {
			msg = fmt.Sprintf("transport failure: HTTP %d", res.StatusCode)
		}
		req.RetryCount++
		req.LastError = msg
		if req.RetryCount >= req.MaxRetries {
			req.Status = model.StatusFailed
			outcome = metrics.OutcomeFailed
			logger.Error("request failed permanently",
				zap.String("id", req.ID),
				zap.String("url", req.URL),
				zap.Int("retry_count", req.RetryCount),
				zap.String("last_error", msg))
		} else {
			req.Status = model.StatusPending
			outcome = metrics.OutcomeRequeued
			logger.Warn("request attempt failed, requeued",
				zap.String("id", req.ID),
				zap.String("url", req.URL),
				zap.Int("retry_count", req.RetryCount),
				zap.Int("max_retries", req.MaxRetries),
				zap.String("last_error", msg))
		}
	}

	if err := c.repo.Put(ctx, req); err != nil {
		return "", err
	}
	c.observer.RecordAttempt(outcome)
	return outcome, nil
}

// execute races the transport call against the request's timeout. The losing
// sender goroutine finishes unobserved into the buffered channel; there is no
// way to cancel the server-side effect once the attempt has started.
func (c *Core) execute(ctx context.Context, req *model.QueuedRequest) (*transport.Result, error) {
	type sendResult struct {
		res *transport.Result
		err error
	}
	ch := make(chan sendResult, 1)

	go func() {
		res, err := c.sender.Send(ctx, transport.Request{
			URL:     req.URL,
			Method:  req.Method,
			Headers: req.HeaderMap(),
			Body:    req.Body,
		})
		ch <- sendResult{res: res, err: err}
	}()

	timer := time.NewTimer(req.Timeout())
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.res, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrRequestTimeout, req.Timeout())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Core) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	for _, s := range []struct {
		status model.RequestStatus
		dst    *int64
	}{
		{model.StatusPending, &stats.Pending},
		{model.StatusProcessing, &stats.Processing},
		{model.StatusCompleted, &stats.Completed},
		{model.StatusFailed, &stats.Failed},
		{model.StatusConflict, &stats.Conflict},
	} {
		n, err := c.repo.CountByStatus(ctx, s.status)
		if err != nil {
			return nil, err
		}
		*s.dst = n
	}
	stats.Total = stats.Pending + stats.Processing + stats.Completed + stats.Failed + stats.Conflict
	return stats, nil
}

// ClearByStatus removes every record currently in the given status and
// returns how many were deleted.
func (c *Core) ClearByStatus(ctx context.Context, status model.RequestStatus) (int64, error) {
	return c.repo.DeleteByStatus(ctx, status)
}

// DeleteRequest removes one record and reports whether it existed.
func (c *Core) DeleteRequest(ctx context.Context, id string) (bool, error) {
	return c.repo.Delete(ctx, id)
}

// ActiveRequests returns pending plus processing records for UI inspection.
func (c *Core) ActiveRequests(ctx context.Context) ([]model.QueuedRequest, error) {
	return c.repo.ListByStatuses(ctx, model.StatusPending, model.StatusProcessing)
}

// ActiveCount is the queue length: pending plus processing.
func (c *Core) ActiveCount(ctx context.Context) (int64, error) {
	return c.repo.CountByStatuses(ctx, model.StatusPending, model.StatusProcessing)
}

func (c *Core) GetRequest(ctx context.Context, id string) (*model.QueuedRequest, error) {
	return c.repo.Get(ctx, id)
}
