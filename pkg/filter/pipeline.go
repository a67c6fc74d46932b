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

// Package filter correlates chat requests and responses into traces.
//
// A Pipeline sits in front of a chat backend. Inlet sees the request and
// opens a generation (for model calls) or an event (for every other task)
// on the conversation's trace. Outlet sees the response and closes that
// observation with the assistant output and token usage. Bodies always pass
// through unchanged; tracing failures are logged and never fail the chat.
package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/chattrace/internal/log"
	"github.com/teradata-labs/chattrace/pkg/metrics"
	"github.com/teradata-labs/chattrace/pkg/observability"
)

const (
	// DefaultID is the pipeline id used in the pipelines HTTP protocol.
	DefaultID = "langfuse_filter_pipeline"
	// DefaultName is the display name of the pipeline.
	DefaultName = "Langfuse Filter"
)

// ErrNilBody is returned when Inlet or Outlet is called without a body.
var ErrNilBody = errors.New("request body is required")

// Config configures a Pipeline.
type Config struct {
	ID   string
	Name string

	// Valves are the initial runtime settings.
	Valves Valves

	// GenerationTasks are task names recorded as generations.
	// Default: ["llm_response"]
	GenerationTasks []string

	// Models seeds the model directory (chat id -> model).
	Models map[string]ModelInfo

	// Mode selects the tracing backend. Default: auto.
	Mode observability.ClientMode

	// OTLP settings used in otlp mode (keys come from the valves).
	OTLP observability.OTLPConfig

	// Privacy redaction applied by the client.
	Privacy observability.PrivacyConfig

	// Release is attached to traces.
	Release string

	// BatchSize and FlushInterval tune the Langfuse client (0 = default).
	BatchSize     int
	FlushInterval time.Duration

	// AuthTimeout bounds the auth check done when the client is built.
	// Default: 10s
	AuthTimeout time.Duration
}

// ClientFactory builds a tracing client for the given valves.
type ClientFactory func(ctx context.Context, valves Valves) (observability.Client, error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger (default: the global logger from log.SetLogger).
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records filter activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClientFactory replaces the config-driven client construction.
func WithClientFactory(factory ClientFactory) Option {
	return func(p *Pipeline) {
		p.factory = factory
	}
}

// WithClient uses client regardless of valves.
func WithClient(client observability.Client) Option {
	return WithClientFactory(func(context.Context, Valves) (observability.Client, error) {
		return client, nil
	})
}

// Pipeline is the inlet/outlet filter.
type Pipeline struct {
	id      string
	name    string
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	factory ClientFactory

	registry        *Registry
	models          *ModelDirectory
	generationTasks map[string]bool

	mu     sync.RWMutex
	valves Valves
	client observability.Client
}

// New builds the pipeline and connects its tracing client.
//
// A client that cannot be built, or whose credentials are rejected, is
// logged and does not fail construction: the pipeline keeps filtering and
// traces go to a no-op client (or the unauthenticated one) instead.
func New(ctx context.Context, config Config, opts ...Option) (*Pipeline, error) {
	if config.ID == "" {
		config.ID = DefaultID
	}
	if config.Name == "" {
		config.Name = DefaultName
	}
	if len(config.GenerationTasks) == 0 {
		config.GenerationTasks = []string{DefaultTaskName}
	}
	if config.Mode == "" {
		config.Mode = observability.ClientModeAuto
	}
	if config.AuthTimeout == 0 {
		config.AuthTimeout = 10 * time.Second
	}
	if config.Valves.Host == "" {
		config.Valves.Host = observability.DefaultLangfuseHost
	}
	if config.Valves.Pipelines == nil {
		config.Valves.Pipelines = []string{"*"}
	}
	if _, err := observability.ParseMode(string(config.Mode)); err != nil {
		return nil, err
	}

	p := &Pipeline{
		id:              config.ID,
		name:            config.Name,
		config:          config,
		logger:          log.Logger(),
		registry:        NewRegistry(),
		models:          NewModelDirectory(config.Models),
		generationTasks: make(map[string]bool, len(config.GenerationTasks)),
		valves:          config.Valves,
	}
	for _, task := range config.GenerationTasks {
		p.generationTasks[task] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.factory == nil {
		p.factory = p.defaultFactory
	}
	p.logger = p.logger.With(zap.String("pipeline", p.id))

	p.client = p.connect(ctx, p.valves)
	return p, nil
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string { return p.id }

// Name returns the pipeline display name.
func (p *Pipeline) Name() string { return p.name }

// Registry exposes the trace registry.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Models exposes the model directory.
func (p *Pipeline) Models() *ModelDirectory { return p.models }

// Valves returns the current valves.
func (p *Pipeline) Valves() Valves {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.valves
}

// Client returns the current tracing client.
func (p *Pipeline) Client() observability.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// IsGenerationTask reports whether task is recorded as a generation.
func (p *Pipeline) IsGenerationTask(task string) bool {
	return p.generationTasks[task]
}

// UpdateValves applies new valves. When a valve the tracing client depends
// on changes, the client is rebuilt and the previous one flushed and closed.
func (p *Pipeline) UpdateValves(ctx context.Context, valves Valves) error {
	if valves.Host == "" {
		valves.Host = observability.DefaultLangfuseHost
	}
	if !p.needsReconnect(p.Valves(), valves) {
		p.mu.Lock()
		p.valves = valves
		p.mu.Unlock()
		p.logger.Info("valves updated, tracing client kept")
		return nil
	}
	next := p.connect(ctx, valves)

	p.mu.Lock()
	prev := p.client
	p.valves = valves
	p.client = next
	p.mu.Unlock()

	if prev != nil && prev != next {
		if err := prev.Flush(ctx); err != nil {
			p.logger.Warn("flush previous tracing client", zap.Error(err))
		}
		if err := prev.Close(); err != nil {
			p.logger.Warn("close previous tracing client", zap.Error(err))
		}
	}
	p.logger.Info("valves updated", zap.String("host", valves.Host), zap.Bool("debug", valves.Debug))
	return nil
}

// Flush exports buffered records.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.Client().Flush(ctx)
}

// Close flushes and closes the tracing client.
func (p *Pipeline) Close(ctx context.Context) error {
	client := p.Client()
	flushErr := client.Flush(ctx)
	closeErr := client.Close()
	if flushErr != nil {
		return fmt.Errorf("flush tracing client: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close tracing client: %w", closeErr)
	}
	return nil
}

// needsReconnect reports whether moving from prev to next valves changes the
// tracing client. Routing valves (pipelines, priority, model naming) never do.
func (p *Pipeline) needsReconnect(prev, next Valves) bool {
	keysChanged := prev.PublicKey != next.PublicKey || prev.SecretKey != next.SecretKey
	switch p.config.Mode {
	case observability.ClientModeNone:
		return false
	case observability.ClientModeOTLP:
		// Keys from the OTLP config take precedence over the valves.
		return p.config.OTLP.PublicKey == "" && p.config.OTLP.SecretKey == "" && keysChanged
	default:
		return keysChanged || prev.Host != next.Host || prev.Debug != next.Debug
	}
}

// connect builds a client for valves and checks its credentials.
// It never fails; see New.
func (p *Pipeline) connect(ctx context.Context, valves Valves) observability.Client {
	client, err := p.factory(ctx, valves)
	if err != nil {
		p.logger.Error("tracing client unavailable, tracing disabled", zap.Error(err))
		p.metrics.RecordClientError("connect")
		return observability.NewNoOpClient()
	}

	authCtx, cancel := context.WithTimeout(ctx, p.config.AuthTimeout)
	defer cancel()

	switch err := client.AuthCheck(authCtx); {
	case err == nil:
		p.logger.Info("tracing client initialized", zap.String("client", fmt.Sprintf("%T", client)))
	case errors.Is(err, observability.ErrUnauthorized):
		p.logger.Error("invalid Langfuse credentials, check the valves", zap.Error(err))
		p.metrics.RecordClientError("auth_check")
	default:
		p.logger.Error("tracing backend auth check failed", zap.Error(err))
		p.metrics.RecordClientError("auth_check")
	}
	return client
}

func (p *Pipeline) defaultFactory(ctx context.Context, valves Valves) (observability.Client, error) {
	clientLogger := p.logger
	if valves.Debug {
		clientLogger = clientLogger.With(zap.Bool("debug", true))
	}

	otlp := p.config.OTLP
	otlp.Release = p.config.Release
	otlp.Privacy = p.config.Privacy
	otlp.Observer = p.metrics
	if otlp.PublicKey == "" && otlp.SecretKey == "" {
		otlp.PublicKey = valves.PublicKey
		otlp.SecretKey = valves.SecretKey
	}

	return observability.NewClientFromConfig(ctx, &observability.ClientConfig{
		Mode: p.config.Mode,
		Langfuse: observability.LangfuseConfig{
			Host:          valves.Host,
			PublicKey:     valves.PublicKey,
			SecretKey:     valves.SecretKey,
			Debug:         valves.Debug,
			Release:       p.config.Release,
			BatchSize:     p.config.BatchSize,
			FlushInterval: p.config.FlushInterval,
			Privacy:       p.config.Privacy,
			Observer:      p.metrics,
		},
		OTLP:   otlp,
		Logger: clientLogger,
	})
}

// Inlet records the request side of a chat turn and returns body unchanged.
func (p *Pipeline) Inlet(ctx context.Context, body map[string]interface{}, user map[string]interface{}) (map[string]interface{}, error) {
	if body == nil {
		return nil, ErrNilBody
	}
	start := time.Now()

	cb := NewChatBody(body)
	chatID := cb.ChatID()
	task := cb.TaskName()
	tags := cb.Tags()
	client := p.Client()

	if id, name := cb.MetadataModel(); id != "" || name != "" {
		p.models.Set(chatID, ModelInfo{ID: id, Name: name})
	}

	trace, created := p.registry.GetOrCreate(chatID, func() *observability.Trace {
		t := observability.NewTrace(chatID, userID(user), body)
		t.Tags = tags
		return t
	})

	if created {
		p.logger.Info("creating new trace", zap.String("chat_id", chatID), zap.String("trace_id", trace.ID))
		p.metrics.IncTracesCreated()
		p.metrics.SetTracesActive(p.registry.Len())
		p.report("upsert_trace", client.UpsertTrace(ctx, trace))
	} else {
		p.logger.Info("reusing trace", zap.String("chat_id", chatID), zap.String("trace_id", trace.ID))
		if len(tags) > 0 {
			if updated, ok := p.registry.Update(chatID, func(t *observability.Trace) { t.Tags = tags }); ok {
				p.report("upsert_trace", client.UpsertTrace(ctx, updated))
			}
		}
	}

	obs := p.openObservation(trace.ID, chatID, task, cb, tags)
	p.report("start_observation", client.StartObservation(ctx, obs))
	p.registry.PushOpen(chatID, task, obs)

	p.metrics.RecordFilter("inlet", obs.Type.String(), time.Since(start))
	return body, nil
}

// Outlet records the response side of a chat turn and returns body unchanged.
// A chat with no trace is handed to Inlet instead.
func (p *Pipeline) Outlet(ctx context.Context, body map[string]interface{}, user map[string]interface{}) (map[string]interface{}, error) {
	if body == nil {
		return nil, ErrNilBody
	}
	start := time.Now()

	cb := NewChatBody(body)
	chatID := cb.ChatID()
	task := cb.TaskName()

	if _, ok := p.registry.Get(chatID); !ok {
		p.logger.Warn("no trace for chat, registering again", zap.String("chat_id", chatID))
		return p.Inlet(ctx, body, user)
	}

	tags := cb.Tags()
	messages := cb.Messages()
	client := p.Client()

	assistant := LastAssistantMessage(messages)
	content := MessageContent(assistant)

	usage := ExtractUsage(assistant)
	if usage != nil {
		p.logger.Debug("extracted token usage",
			zap.String("chat_id", chatID),
			zap.Int64("input", usage.Input),
			zap.Int64("output", usage.Output),
		)
		p.metrics.RecordUsage(usage.Input, usage.Output)
	}

	trace, ok := p.registry.Update(chatID, func(t *observability.Trace) { t.Output = content })
	if !ok {
		return body, nil
	}
	p.report("upsert_trace", client.UpsertTrace(ctx, trace))

	obs, open := p.registry.PopOpen(chatID, task)
	if !open {
		obs = observability.NewObservation(trace.ID, p.observationType(task), task)
	}
	obs.Input = messages
	obs.Tags = tags
	obs.SetMetadata(observability.MetaType, task)
	obs.SetMetadata(observability.MetaInterface, observability.InterfaceOpenWebUI)

	if obs.Type == observability.ObservationGeneration {
		p.applyModel(obs, chatID, cb.Model())
		obs.Output = content
		obs.Usage = usage
	} else if usage != nil {
		obs.SetMetadata(observability.MetaUsage, usage.AsMap())
	}

	obs.EndTime = time.Now()
	if !open {
		obs.StartTime = obs.EndTime
	}
	p.report("end_observation", client.EndObservation(ctx, obs))

	if obs.Type == observability.ObservationGeneration {
		p.logger.Info("generation closed", zap.String("chat_id", chatID), zap.String("observation", obs.Name))
	} else {
		p.logger.Info("event recorded", zap.String("chat_id", chatID), zap.String("observation", obs.Name))
	}

	p.metrics.RecordFilter("outlet", obs.Type.String(), time.Since(start))
	return body, nil
}

func (p *Pipeline) openObservation(traceID, chatID, task string, cb *ChatBody, tags []string) *observability.Observation {
	obs := observability.NewObservation(traceID, p.observationType(task), task)
	obs.Input = cb.Messages()
	obs.Tags = tags
	if obs.Type == observability.ObservationGeneration {
		p.applyModel(obs, chatID, cb.Model())
	}
	return obs
}

// applyModel sets the model and its metadata on a generation.
func (p *Pipeline) applyModel(obs *observability.Observation, chatID, bodyModel string) {
	id, name := p.models.Resolve(chatID, bodyModel)
	obs.Model = id
	if p.Valves().UseModelNameInsteadOfIDForGeneration {
		obs.Model = name
	}
	obs.SetMetadata(observability.MetaModelID, id)
	obs.SetMetadata(observability.MetaModelName, name)
}

func (p *Pipeline) observationType(task string) observability.ObservationType {
	if p.generationTasks[task] {
		return observability.ObservationGeneration
	}
	return observability.ObservationEvent
}

// report logs and counts a client error. Client errors never fail a request.
func (p *Pipeline) report(operation string, err error) {
	if err == nil {
		return
	}
	p.logger.Warn("tracing client call failed", zap.String("operation", operation), zap.Error(err))
	p.metrics.RecordClientError(operation)
}

// userID returns the user's email, or "anonymous".
func userID(user map[string]interface{}) string {
	if user == nil {
		return "anonymous"
	}
	if email, ok := user["email"].(string); ok && email != "" {
		return email
	}
	return "anonymous"
}
