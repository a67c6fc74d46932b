// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	ingestionPath = "/api/public/ingestion"
	projectsPath  = "/api/public/projects"

	// DefaultLangfuseHost is the Langfuse cloud endpoint.
	DefaultLangfuseHost = "https://cloud.langfuse.com"

	sdkName = "chattrace"
)

// ExportObserver is notified after every batch export attempt.
// pkg/metrics implements it; nil disables the callback.
type ExportObserver interface {
	ObserveExport(backend string, events int, err error)
}

// LangfuseConfig configures the Langfuse client.
type LangfuseConfig struct {
	// Host is the Langfuse base URL.
	// Default: https://cloud.langfuse.com
	Host string

	// PublicKey and SecretKey are sent as HTTP basic auth.
	PublicKey string
	SecretKey string

	// Debug logs every exported batch at info level instead of debug.
	Debug bool

	// Release is attached to every trace (usually the chattrace version).
	Release string

	// BatchSize is the number of ingestion events to buffer before flushing.
	// Default: 100
	BatchSize int

	// FlushInterval is how often to flush buffered events.
	// Default: 10s
	FlushInterval time.Duration

	// MaxRetries is the maximum number of retry attempts for failed exports.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Default: 1s (doubles with each retry up to 8x)
	RetryBackoff time.Duration

	// Privacy controls PII redaction.
	Privacy PrivacyConfig

	// HTTPClient for custom transport (e.g., timeouts, proxies).
	// If nil, a client with a 30s timeout is used.
	HTTPClient *http.Client

	// Logger for diagnostic output (default: nop logger)
	Logger *zap.Logger

	// Observer receives export outcomes (optional).
	Observer ExportObserver
}

// LangfuseClient exports traces to the Langfuse ingestion API.
type LangfuseClient struct {
	config   LangfuseConfig
	buffer   *eventBuffer
	http     *retryablehttp.Client
	logger   *zap.Logger
	redactor *redactor

	flushMu sync.Mutex
	closed  atomic.Bool

	// Background flusher
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLangfuseClient creates a client that exports to Langfuse.
func NewLangfuseClient(config LangfuseConfig) (*LangfuseClient, error) {
	if config.PublicKey == "" || config.SecretKey == "" {
		return nil, fmt.Errorf("langfuse public and secret keys required")
	}
	if config.Host == "" {
		config.Host = DefaultLangfuseHost
	}
	config.Host = strings.TrimRight(config.Host, "/")
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 1 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	logger := config.Logger.With(zap.String("backend", "langfuse"), zap.String("host", config.Host))

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = config.HTTPClient
	retryClient.RetryMax = config.MaxRetries
	retryClient.RetryWaitMin = config.RetryBackoff
	retryClient.RetryWaitMax = config.RetryBackoff * 8
	retryClient.Logger = &retryLogger{sugar: logger.Sugar()}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := &LangfuseClient{
		config:   config,
		buffer:   newEventBuffer(config.BatchSize),
		http:     retryClient,
		logger:   logger,
		redactor: newRedactor(config.Privacy),
		stopCh:   make(chan struct{}),
	}

	// Start background flusher
	client.wg.Add(1)
	go client.backgroundFlush()

	return client, nil
}

// AuthCheck verifies the key pair against GET /api/public/projects.
func (c *LangfuseClient) AuthCheck(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.config.Host+projectsPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.config.PublicKey, c.config.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("langfuse auth check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: langfuse returned status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return fmt.Errorf("langfuse auth check returned status %d", resp.StatusCode)
	}
}

// UpsertTrace buffers a trace-create event. Langfuse merges by trace ID.
func (c *LangfuseClient) UpsertTrace(ctx context.Context, trace *Trace) error {
	t := c.redactor.trace(trace)
	return c.enqueue(newIngestionEvent(EventTraceCreate, convertTrace(t, c.config.Release)))
}

// StartObservation buffers generation-create or event-create.
func (c *LangfuseClient) StartObservation(ctx context.Context, obs *Observation) error {
	o := c.redactor.observation(obs)
	switch o.Type {
	case ObservationGeneration:
		return c.enqueue(newIngestionEvent(EventGenerationCreate, convertObservation(o)))
	case ObservationEvent:
		return c.enqueue(newIngestionEvent(EventEventCreate, convertObservation(o)))
	default:
		return fmt.Errorf("unknown observation type: %q", o.Type)
	}
}

// EndObservation buffers the closing record.
//
// Generations are updated in place. Langfuse events are immutable points in
// time, so an event is closed by a second event whose parent is the opening one.
func (c *LangfuseClient) EndObservation(ctx context.Context, obs *Observation) error {
	o := c.redactor.observation(obs)
	if o.EndTime.IsZero() {
		o.EndTime = time.Now()
	}

	switch o.Type {
	case ObservationGeneration:
		return c.enqueue(newIngestionEvent(EventGenerationUpdate, convertObservation(o)))
	case ObservationEvent:
		closing := convertObservation(o)
		closing.ParentObservationID = o.ID
		closing.ID = uuid.New().String()
		closing.StartTime = closing.EndTime
		closing.EndTime = ""
		return c.enqueue(newIngestionEvent(EventEventCreate, closing))
	default:
		return fmt.Errorf("unknown observation type: %q", o.Type)
	}
}

// Flush forces immediate export of all buffered events.
func (c *LangfuseClient) Flush(ctx context.Context) error {
	return c.flushNow(ctx)
}

// Pending returns the number of buffered events not yet exported.
func (c *LangfuseClient) Pending() int {
	return c.buffer.size()
}

// Close stops the background flusher and flushes remaining events.
func (c *LangfuseClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopCh)
	c.wg.Wait()
	return c.flushNow(context.Background())
}

func (c *LangfuseClient) enqueue(event ingestionEvent) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.buffer.add(event)

	// Flush if buffer is full
	if c.buffer.shouldFlush() {
		go func() {
			if err := c.flushNow(context.Background()); err != nil {
				c.logger.Warn("langfuse flush failed", zap.Error(err))
			}
		}()
	}
	return nil
}

// backgroundFlush periodically flushes buffered events.
func (c *LangfuseClient) backgroundFlush() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.flushNow(context.Background()); err != nil {
				c.logger.Warn("langfuse periodic flush failed", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// flushNow exports all buffered events. Retries are handled by the
// retryablehttp transport: connection errors, 429 and 5xx are retried with
// exponential backoff, other 4xx fail immediately.
func (c *LangfuseClient) flushNow(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	events := c.buffer.drain()
	if len(events) == 0 {
		return nil
	}

	err := c.export(ctx, events)
	if c.config.Observer != nil {
		c.config.Observer.ObserveExport("langfuse", len(events), err)
	}
	return err
}

func (c *LangfuseClient) export(ctx context.Context, events []ingestionEvent) error {
	payload := ingestionRequest{
		Batch: events,
		Metadata: map[string]interface{}{
			"sdk_name":    sdkName,
			"sdk_version": c.config.Release,
			"batch_size":  len(events),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ingestion batch: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.config.Host+ingestionPath, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.PublicKey, c.config.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send to langfuse (%d events): %w", len(events), err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted:
		c.logBatch(len(events))
		return nil
	case resp.StatusCode == http.StatusMultiStatus:
		return c.handleMultiStatus(respBody, len(events))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: langfuse returned status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return fmt.Errorf("langfuse returned status %d: %s", resp.StatusCode, truncate(string(respBody), 256))
	}
}

// handleMultiStatus logs per-event failures from a 207 response.
func (c *LangfuseClient) handleMultiStatus(body []byte, total int) error {
	var result ingestionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode langfuse multi-status response: %w", err)
	}

	for _, e := range result.Errors {
		c.logger.Warn("langfuse rejected event",
			zap.String("event_id", e.ID),
			zap.Int("status", e.Status),
			zap.String("message", e.Message),
			zap.Any("error", e.Error),
		)
	}
	c.logBatch(len(result.Successes))

	if len(result.Errors) > 0 {
		return fmt.Errorf("langfuse rejected %d of %d events", len(result.Errors), total)
	}
	return nil
}

func (c *LangfuseClient) logBatch(events int) {
	if c.config.Debug {
		c.logger.Info("langfuse batch exported", zap.Int("events", events))
		return
	}
	c.logger.Debug("langfuse batch exported", zap.Int("events", events))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// eventBuffer is a thread-safe buffer for ingestion events.
type eventBuffer struct {
	mu       sync.Mutex
	events   []ingestionEvent
	capacity int
}

func newEventBuffer(capacity int) *eventBuffer {
	return &eventBuffer{
		events:   make([]ingestionEvent, 0, capacity),
		capacity: capacity,
	}
}

func (b *eventBuffer) add(event ingestionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *eventBuffer) shouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events) >= b.capacity
}

func (b *eventBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *eventBuffer) drain() []ingestionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.events
	b.events = make([]ingestionEvent, 0, b.capacity)
	return events
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	sugar *zap.SugaredLogger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Ensure LangfuseClient implements Client interface.
var _ Client = (*LangfuseClient)(nil)
var _ retryablehttp.LeveledLogger = (*retryLogger)(nil)
