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
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/teradata-labs/chattrace"

// OTLPConfig configures the OpenTelemetry client.
type OTLPConfig struct {
	// Endpoint is the full OTLP/HTTP traces URL.
	// Example: "https://cloud.langfuse.com/api/public/otel/v1/traces"
	Endpoint string

	// Headers are sent with every export request.
	Headers map[string]string

	// PublicKey and SecretKey, when both set, add a basic Authorization
	// header the way Langfuse's OTel endpoint expects.
	PublicKey string
	SecretKey string

	// ServiceName is the service.name resource attribute.
	// Default: "chattrace"
	ServiceName string

	// Release is the service.version resource attribute.
	Release string

	// ExportTimeout bounds a single export request.
	// Default: 10s
	ExportTimeout time.Duration

	// Privacy controls PII redaction.
	Privacy PrivacyConfig

	// SpanProcessor replaces the OTLP batch exporter when set (used by tests).
	SpanProcessor sdktrace.SpanProcessor

	// Logger for diagnostic output (default: nop logger)
	Logger *zap.Logger

	// Observer receives export outcomes (optional).
	Observer ExportObserver
}

// OTLPClient maps traces and observations onto OpenTelemetry spans.
//
// The OTel trace id and root span id of a conversation are derived from
// Trace.ID, so a client built later (after a valves update) keeps adding to
// the same OTel trace. A conversation gets its root span the first time its
// trace is upserted; traces older than the client were rooted by an earlier
// client and only get trace.update children. Observations become child
// spans that stay open until EndObservation.
type OTLPClient struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
	logger   *zap.Logger
	redactor *redactor
	created  time.Time

	mu    sync.Mutex
	roots map[string]struct{}
	open  map[string]oteltrace.Span

	closed atomic.Bool
}

// NewOTLPClient creates a client that exports spans over OTLP/HTTP.
func NewOTLPClient(ctx context.Context, config OTLPConfig) (*OTLPClient, error) {
	if config.Endpoint == "" && config.SpanProcessor == nil {
		return nil, fmt.Errorf("otlp endpoint required")
	}
	if config.ServiceName == "" {
		config.ServiceName = sdkName
	}
	if config.ExportTimeout == 0 {
		config.ExportTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	processor := config.SpanProcessor
	if processor == nil {
		headers := make(map[string]string, len(config.Headers)+1)
		for k, v := range config.Headers {
			headers[k] = v
		}
		if config.PublicKey != "" && config.SecretKey != "" {
			token := base64.StdEncoding.EncodeToString([]byte(config.PublicKey + ":" + config.SecretKey))
			headers["Authorization"] = "Basic " + token
		}

		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(config.Endpoint),
			otlptracehttp.WithHeaders(headers),
			otlptracehttp.WithTimeout(config.ExportTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		processor = sdktrace.NewBatchSpanProcessor(&observedExporter{
			SpanExporter: exporter,
			observer:     config.Observer,
		})
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
		attribute.String("service.version", config.Release),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithIDGenerator(conversationIDs{}),
	)

	return &OTLPClient{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
		logger:   config.Logger.With(zap.String("backend", "otlp")),
		redactor: newRedactor(config.Privacy),
		created:  time.Now(),
		roots:    make(map[string]struct{}),
		open:     make(map[string]oteltrace.Span),
	}, nil
}

// AuthCheck always succeeds; OTLP has no credential check.
func (c *OTLPClient) AuthCheck(ctx context.Context) error {
	return nil
}

// UpsertTrace emits the conversation root span, or a trace.update child
// carrying the new trace-level fields.
func (c *OTLPClient) UpsertTrace(ctx context.Context, trace *Trace) error {
	if c.closed.Load() {
		return ErrClosed
	}
	t := c.redactor.trace(trace)
	attrs := traceAttributes(t)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, rooted := c.roots[t.ID]
	c.roots[t.ID] = struct{}{}
	if rooted || t.Timestamp.Before(c.created) {
		parent := oteltrace.ContextWithSpanContext(context.Background(), rootSpanContext(t.ID))
		_, span := c.tracer.Start(parent, "trace.update", oteltrace.WithAttributes(attrs...))
		span.End()
		return nil
	}

	rootCtx := context.WithValue(context.Background(), rootTraceKey{}, otelTraceID(t.ID))
	_, span := c.tracer.Start(rootCtx, t.Name,
		oteltrace.WithNewRoot(),
		oteltrace.WithTimestamp(t.Timestamp),
		oteltrace.WithAttributes(attrs...),
	)
	span.End()
	return nil
}

// StartObservation opens a child span under the conversation root.
func (c *OTLPClient) StartObservation(ctx context.Context, obs *Observation) error {
	if c.closed.Load() {
		return ErrClosed
	}
	o := c.redactor.observation(obs)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.open[o.ID] = c.startLocked(o)
	return nil
}

// EndObservation finishes the observation's span with output and usage.
// An observation that was never started is started and ended in one go.
func (c *OTLPClient) EndObservation(ctx context.Context, obs *Observation) error {
	if c.closed.Load() {
		return ErrClosed
	}
	o := c.redactor.observation(obs)
	if o.EndTime.IsZero() {
		o.EndTime = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	span, ok := c.open[o.ID]
	if ok {
		delete(c.open, o.ID)
	} else {
		span = c.startLocked(o)
	}

	span.SetAttributes(observationEndAttributes(o)...)
	span.End(oteltrace.WithTimestamp(o.EndTime))
	return nil
}

// Flush forces export of finished spans.
func (c *OTLPClient) Flush(ctx context.Context) error {
	return c.provider.ForceFlush(ctx)
}

// Close ends dangling spans and shuts the provider down.
func (c *OTLPClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	for id, span := range c.open {
		span.SetAttributes(attribute.String(AttrObservationLevel, string(LevelWarning)))
		span.End()
		delete(c.open, id)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.provider.Shutdown(ctx)
}

func (c *OTLPClient) startLocked(o *Observation) oteltrace.Span {
	parent := oteltrace.ContextWithSpanContext(context.Background(), rootSpanContext(o.TraceID))
	_, span := c.tracer.Start(parent, o.Name,
		oteltrace.WithTimestamp(o.StartTime),
		oteltrace.WithAttributes(observationStartAttributes(o)...),
	)
	return span
}

// otelTraceID maps a trace id onto an OTel trace id. Trace ids are UUIDs,
// which are already 16 bytes; anything else is hashed into one.
func otelTraceID(traceID string) oteltrace.TraceID {
	u, err := uuid.Parse(traceID)
	if err != nil {
		u = uuid.NewSHA1(uuid.NameSpaceURL, []byte(traceID))
	}
	return oteltrace.TraceID(u)
}

func rootSpanID(tid oteltrace.TraceID) oteltrace.SpanID {
	var sid oteltrace.SpanID
	copy(sid[:], tid[8:])
	if !sid.IsValid() {
		copy(sid[:], tid[:8])
	}
	return sid
}

// rootSpanContext is the span context of a conversation's root span.
func rootSpanContext(traceID string) oteltrace.SpanContext {
	tid := otelTraceID(traceID)
	return oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     rootSpanID(tid),
		TraceFlags: oteltrace.FlagsSampled,
	})
}

type rootTraceKey struct{}

// conversationIDs gives root spans started with a rootTraceKey the derived
// ids. Every other id is random.
type conversationIDs struct{}

func (conversationIDs) NewIDs(ctx context.Context) (oteltrace.TraceID, oteltrace.SpanID) {
	if tid, ok := ctx.Value(rootTraceKey{}).(oteltrace.TraceID); ok {
		return tid, rootSpanID(tid)
	}
	var tid oteltrace.TraceID
	for !tid.IsValid() {
		_, _ = rand.Read(tid[:])
	}
	return tid, randomSpanID()
}

func (conversationIDs) NewSpanID(ctx context.Context, _ oteltrace.TraceID) oteltrace.SpanID {
	return randomSpanID()
}

func randomSpanID() oteltrace.SpanID {
	var sid oteltrace.SpanID
	for !sid.IsValid() {
		_, _ = rand.Read(sid[:])
	}
	return sid
}

func traceAttributes(t *Trace) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrChatTraceID, t.ID),
		attribute.String(AttrTraceName, t.Name),
		attribute.String(AttrTraceSessionID, t.SessionID),
	}
	if t.UserID != "" {
		attrs = append(attrs, attribute.String(AttrTraceUserID, t.UserID))
	}
	if len(t.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrTraceTags, t.Tags))
	}
	if t.Input != nil {
		attrs = append(attrs, attribute.String(AttrTraceInput, jsonString(t.Input)))
	}
	if t.Output != nil {
		attrs = append(attrs, attribute.String(AttrTraceOutput, jsonString(t.Output)))
	}
	if len(t.Metadata) > 0 {
		attrs = append(attrs, attribute.String(AttrTraceMetadata, jsonString(t.Metadata)))
	}
	return attrs
}

func observationStartAttributes(o *Observation) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrChatTraceID, o.TraceID),
		attribute.String(AttrObservationType, o.Type.String()),
	}
	if o.Model != "" {
		attrs = append(attrs, attribute.String(AttrGenAIRequestModel, o.Model))
	}
	if o.Input != nil {
		attrs = append(attrs, attribute.String(AttrObservationInput, jsonString(o.Input)))
	}
	if len(o.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrTraceTags, o.Tags))
	}
	return attrs
}

func observationEndAttributes(o *Observation) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if o.Model != "" {
		attrs = append(attrs, attribute.String(AttrGenAIRequestModel, o.Model))
	}
	if o.Output != nil {
		attrs = append(attrs, attribute.String(AttrObservationOutput, jsonString(o.Output)))
	}
	if len(o.Metadata) > 0 {
		attrs = append(attrs, attribute.String(AttrObservationMetadata, jsonString(o.Metadata)))
	}
	if o.Usage != nil {
		attrs = append(attrs,
			attribute.Int64(AttrGenAIUsageInput, o.Usage.Input),
			attribute.Int64(AttrGenAIUsageOutput, o.Usage.Output),
		)
	}
	if o.Level != "" {
		attrs = append(attrs, attribute.String(AttrObservationLevel, string(o.Level)))
	}
	return attrs
}

func jsonString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// observedExporter reports every batch outcome to an ExportObserver.
type observedExporter struct {
	sdktrace.SpanExporter
	observer ExportObserver
}

func (e *observedExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.SpanExporter.ExportSpans(ctx, spans)
	if e.observer != nil {
		e.observer.ObserveExport("otlp", len(spans), err)
	}
	return err
}

// Ensure OTLPClient implements Client interface.
var _ Client = (*OTLPClient)(nil)
