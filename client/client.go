package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "mirsal/pkg/api/v1"
	"mirsal/pkg/logger"

	"go.uber.org/zap"
)

// MirsalClient is the Go consumer binding over a running mirsal agent: it
// lets application code enqueue writes, inspect the queue, trigger drains,
// and observe queue-change events live.
type MirsalClient struct {
	addr       string
	token      string
	httpClient *http.Client

	mu      sync.Mutex
	lastSeq int64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMirsalClient(addr, token string) *MirsalClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &MirsalClient{
		addr:       strings.TrimRight(addr, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 0},
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *MirsalClient) Close() {
	c.cancel()
}

func (c *MirsalClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *MirsalClient) Enqueue(ctx context.Context, req v1.EnqueueRequest) (*v1.EnqueueResponse, error) {
	var out v1.EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/v1/queue/requests", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MirsalClient) Stats(ctx context.Context) (*v1.StatsResponse, error) {
	var out v1.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/queue/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MirsalClient) Drain(ctx context.Context) (*v1.DrainResponse, error) {
	var out v1.DrainResponse
	if err := c.do(ctx, http.MethodPost, "/v1/queue/drain", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MirsalClient) ClearCompleted(ctx context.Context) (*v1.ClearResponse, error) {
	var out v1.ClearResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/queue/completed", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch subscribes to the agent's SSE queue stream and delivers each event
// to onEvent until Close is called. Disconnects are retried with
// exponential backoff; the last seen sequence is replayed on reconnect.
func (c *MirsalClient) Watch(onEvent func(v1.QueueEvent)) {
	go c.runWatchLoop(onEvent)
}

func (c *MirsalClient) runWatchLoop(onEvent func(v1.QueueEvent)) {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		url := fmt.Sprintf("%s/v1/queue/watch?last_seq=%d", c.addr, c.lastSeq)
		c.mu.Unlock()

		reqCtx, reqCancel := context.WithCancel(c.ctx)
		req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			reqCancel()
			jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
			logger.Warn("queue watch disconnected", zap.Error(err))
			time.Sleep(backoff + jitter)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second
		c.consumeStream(resp.Body, onEvent)
		reqCancel()
		resp.Body.Close()
	}
}

func (c *MirsalClient) consumeStream(body io.Reader, onEvent func(v1.QueueEvent)) {
	scanner := bufio.NewScanner(body)

	var eventType string
	var dataBuffer bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			c.dispatch(eventType, dataBuffer.Bytes(), onEvent)
			eventType = ""
			dataBuffer.Reset()
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			if dataBuffer.Len() > 0 {
				dataBuffer.WriteString("\n")
			}
			dataBuffer.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (c *MirsalClient) dispatch(eventType string, data []byte, onEvent func(v1.QueueEvent)) {
	switch eventType {
	case "message":
		var ev v1.QueueEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Error("bad queue event payload", zap.Error(err))
			return
		}
		c.mu.Lock()
		if ev.Seq > c.lastSeq {
			c.lastSeq = ev.Seq
		}
		c.mu.Unlock()
		onEvent(ev)

	case "snapshot":
		var snap struct {
			QueueLength int64 `json:"queue_length"`
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return
		}
		onEvent(v1.QueueEvent{Type: "snapshot", QueueLength: snap.QueueLength, Timestamp: time.Now()})

	case "reset":
		logger.Warn("queue watch sequence too old, resyncing")
		c.mu.Lock()
		c.lastSeq = 0
		c.mu.Unlock()
	}
}
