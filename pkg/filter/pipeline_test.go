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
package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teradata-labs/chattrace/internal/log"
	"github.com/teradata-labs/chattrace/pkg/metrics"
	"github.com/teradata-labs/chattrace/pkg/observability"
)

func newTestPipeline(t *testing.T, config Config, opts ...Option) (*Pipeline, *observability.MockClient) {
	mock := observability.NewMockClient()
	opts = append([]Option{WithClient(mock)}, opts...)
	p, err := New(context.Background(), config, opts...)
	require.NoError(t, err)
	return p, mock
}

func inletBody(chatID, task string) map[string]interface{} {
	body := map[string]interface{}{
		"chat_id": chatID,
		"model":   "llama3.1:8b",
		"messages": []interface{}{
			map[string]interface{}{"role": "user", "content": "What is Go?"},
		},
	}
	if task != "" {
		body["task_name"] = task
	}
	return body
}

func outletBody(chatID, task string, usage map[string]interface{}) map[string]interface{} {
	assistant := map[string]interface{}{"role": "assistant", "content": "Go is a language."}
	if usage != nil {
		assistant["usage"] = usage
	}
	body := inletBody(chatID, task)
	body["messages"] = []interface{}{
		map[string]interface{}{"role": "user", "content": "What is Go?"},
		assistant,
	}
	return body
}

func TestNew_Defaults(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})

	assert.Equal(t, DefaultID, p.ID())
	assert.Equal(t, DefaultName, p.Name())
	assert.True(t, p.IsGenerationTask("llm_response"))
	assert.False(t, p.IsGenerationTask("title_generation"))
	assert.Equal(t, observability.DefaultLangfuseHost, p.Valves().Host)
	assert.Equal(t, []string{"*"}, p.Valves().Pipelines)
}

func TestNew_InvalidMode(t *testing.T) {
	_, err := New(context.Background(), Config{Mode: "zipkin"})
	require.Error(t, err)
}

func TestNew_ClientFailuresAreNotFatal(t *testing.T) {
	t.Run("factory error falls back to no-op", func(t *testing.T) {
		p, err := New(context.Background(), Config{}, WithClientFactory(func(context.Context, Valves) (observability.Client, error) {
			return nil, errors.New("boom")
		}))
		require.NoError(t, err)
		assert.IsType(t, &observability.NoOpClient{}, p.Client())

		out, err := p.Inlet(context.Background(), inletBody("c", ""), nil)
		require.NoError(t, err)
		assert.NotNil(t, out)
	})

	t.Run("unauthorized keeps the client", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		mock := observability.NewMockClient()
		mock.AuthErr = fmt.Errorf("%w: status 401", observability.ErrUnauthorized)

		p, err := New(context.Background(), Config{}, WithClient(mock), WithLogger(zap.New(core)))
		require.NoError(t, err)
		assert.Same(t, mock, p.Client())
		assert.Equal(t, 1, logs.FilterMessage("invalid Langfuse credentials, check the valves").Len())
	})
}

func TestNew_FallsBackToGlobalLogger(t *testing.T) {
	prev := log.Logger()
	t.Cleanup(func() { log.SetLogger(prev) })
	core, logs := observer.New(zap.InfoLevel)
	log.SetLogger(zap.New(core))

	p, err := New(context.Background(), Config{ID: "global"}, WithClient(observability.NewMockClient()))
	require.NoError(t, err)
	_, err = p.Inlet(context.Background(), inletBody("c1", ""), nil)
	require.NoError(t, err)

	created := logs.FilterMessage("creating new trace").All()
	require.Len(t, created, 1)
	assert.Equal(t, "global", created[0].ContextMap()["pipeline"])
}

func TestNew_DefaultFactoryWithoutKeysIsNoOp(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &observability.NoOpClient{}, p.Client())
}

func TestInlet_CreatesTraceAndGeneration(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	body := inletBody("chat-1", "llm_response")
	body["tags"] = []interface{}{"prod", 7, "beta"}
	user := map[string]interface{}{"email": "alice@example.com", "name": "Alice"}

	out, err := p.Inlet(ctx, body, user)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	traces := mock.GetTraceUpserts()
	require.Len(t, traces, 1)
	trace := traces[0]
	assert.Equal(t, "chat:chat-1", trace.Name)
	assert.Equal(t, "chat-1", trace.SessionID)
	assert.Equal(t, "alice@example.com", trace.UserID)
	assert.Equal(t, []string{"prod", "beta"}, trace.Tags)
	assert.Equal(t, body, trace.Input)
	assert.Empty(t, trace.Metadata)

	started := mock.GetStarted()
	require.Len(t, started, 1)
	gen := started[0]
	assert.Equal(t, observability.ObservationGeneration, gen.Type)
	assert.Equal(t, trace.ID, gen.TraceID)
	assert.Regexp(t, `^llm_response:[0-9a-f-]{36}$`, gen.Name)
	assert.Equal(t, "llama3.1:8b", gen.Model)
	assert.Equal(t, "llama3.1:8b", gen.Metadata[observability.MetaModelID])
	assert.Equal(t, UnknownModelName, gen.Metadata[observability.MetaModelName])
	assert.Equal(t, body["messages"], gen.Input)
	assert.Equal(t, []string{"prod", "beta"}, gen.Tags)

	assert.Equal(t, 1, p.Registry().Len())
	assert.Equal(t, 1, p.Registry().OpenCount())
}

func TestInlet_EventForOtherTasks(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})

	_, err := p.Inlet(context.Background(), inletBody("chat-1", "title_generation"), nil)
	require.NoError(t, err)

	started := mock.GetStarted()
	require.Len(t, started, 1)
	ev := started[0]
	assert.Equal(t, observability.ObservationEvent, ev.Type)
	assert.Regexp(t, `^title_generation:`, ev.Name)
	assert.Empty(t, ev.Model)
	assert.Empty(t, ev.Metadata)

	assert.Equal(t, "anonymous", mock.GetTraceUpserts()[0].UserID)
}

func TestInlet_MissingTaskNameIsGeneration(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})

	_, err := p.Inlet(context.Background(), inletBody("chat-1", ""), nil)
	require.NoError(t, err)

	started := mock.GetStarted()
	require.Len(t, started, 1)
	assert.Equal(t, observability.ObservationGeneration, started[0].Type)
	assert.Regexp(t, `^llm_response:`, started[0].Name)
}

func TestInlet_ReusesTrace(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	_, err := p.Inlet(ctx, inletBody("chat-1", "llm_response"), map[string]interface{}{"email": "a@b.co"})
	require.NoError(t, err)

	// Second turn without tags: no trace update.
	_, err = p.Inlet(ctx, inletBody("chat-1", "llm_response"), nil)
	require.NoError(t, err)
	assert.Len(t, mock.GetTraceUpserts(), 1)

	// Third turn with tags: tags updated on the same trace.
	body := inletBody("chat-1", "llm_response")
	body["tags"] = []interface{}{"new"}
	_, err = p.Inlet(ctx, body, nil)
	require.NoError(t, err)

	upserts := mock.GetTraceUpserts()
	require.Len(t, upserts, 2)
	assert.Equal(t, upserts[0].ID, upserts[1].ID)
	assert.Equal(t, []string{"new"}, upserts[1].Tags)
	// User id is fixed at creation.
	assert.Equal(t, "a@b.co", upserts[1].UserID)

	started := mock.GetStarted()
	require.Len(t, started, 3)
	for _, obs := range started {
		assert.Equal(t, upserts[0].ID, obs.TraceID)
	}
	assert.Equal(t, 1, p.Registry().Len())
}

func TestInlet_UserWithoutEmail(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})

	_, err := p.Inlet(context.Background(), inletBody("c", ""), map[string]interface{}{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "anonymous", mock.GetTraceUpserts()[0].UserID)
}

func TestInlet_NilBody(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})

	_, err := p.Inlet(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilBody)
	_, err = p.Outlet(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilBody)
}

func TestInlet_ModelDirectory(t *testing.T) {
	tests := []struct {
		name      string
		useName   bool
		seed      map[string]ModelInfo
		metadata  map[string]interface{}
		wantModel string
		wantID    string
		wantName  string
	}{
		{
			name:      "seeded id",
			seed:      map[string]ModelInfo{"chat-1": {ID: "gpt-4o", Name: "GPT-4o"}},
			wantModel: "gpt-4o", wantID: "gpt-4o", wantName: "GPT-4o",
		},
		{
			name:      "seeded name preferred",
			useName:   true,
			seed:      map[string]ModelInfo{"chat-1": {ID: "gpt-4o", Name: "GPT-4o"}},
			wantModel: "GPT-4o", wantID: "gpt-4o", wantName: "GPT-4o",
		},
		{
			name:      "name valve without known name",
			useName:   true,
			wantModel: UnknownModelName, wantID: "llama3.1:8b", wantName: UnknownModelName,
		},
		{
			name: "learned from body metadata",
			metadata: map[string]interface{}{
				"model": map[string]interface{}{"id": "qwen2", "name": "Qwen 2"},
			},
			wantModel: "qwen2", wantID: "qwen2", wantName: "Qwen 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newTestPipeline(t, Config{
				Models: tt.seed,
				Valves: Valves{UseModelNameInsteadOfIDForGeneration: tt.useName},
			})

			body := inletBody("chat-1", "llm_response")
			if tt.metadata != nil {
				body["metadata"] = tt.metadata
			}
			_, err := p.Inlet(context.Background(), body, nil)
			require.NoError(t, err)

			gen := mock.GetStarted()[0]
			assert.Equal(t, tt.wantModel, gen.Model)
			assert.Equal(t, tt.wantID, gen.Metadata[observability.MetaModelID])
			assert.Equal(t, tt.wantName, gen.Metadata[observability.MetaModelName])
		})
	}
}

func TestOutlet_ClosesGenerationWithUsage(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	_, err := p.Inlet(ctx, inletBody("chat-1", "llm_response"), nil)
	require.NoError(t, err)
	opened := mock.GetStarted()[0]

	body := outletBody("chat-1", "llm_response", map[string]interface{}{
		"prompt_eval_count": float64(26),
		"eval_count":        float64(298),
	})
	out, err := p.Outlet(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	ended := mock.GetEndedByTask("llm_response")
	require.Len(t, ended, 1)
	gen := ended[0]
	assert.Equal(t, opened.ID, gen.ID)
	assert.Equal(t, opened.TraceID, gen.TraceID)
	assert.Equal(t, observability.ObservationGeneration, gen.Type)
	assert.Equal(t, "Go is a language.", gen.Output)
	require.NotNil(t, gen.Usage)
	assert.Equal(t, int64(26), gen.Usage.Input)
	assert.Equal(t, int64(298), gen.Usage.Output)
	assert.Equal(t, observability.UnitTokens, gen.Usage.Unit)
	assert.Equal(t, "llm_response", gen.Metadata[observability.MetaType])
	assert.Equal(t, observability.InterfaceOpenWebUI, gen.Metadata[observability.MetaInterface])
	assert.Equal(t, "llama3.1:8b", gen.Metadata[observability.MetaModelID])
	assert.Equal(t, "llama3.1:8b", gen.Model)
	assert.True(t, gen.Ended())

	trace := mock.LastTrace(opened.TraceID)
	require.NotNil(t, trace)
	assert.Equal(t, "Go is a language.", trace.Output)
	assert.Equal(t, 0, p.Registry().OpenCount())
}

func TestOutlet_EventCarriesUsageInMetadata(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	_, err := p.Inlet(ctx, inletBody("chat-1", "tags_generation"), nil)
	require.NoError(t, err)

	_, err = p.Outlet(ctx, outletBody("chat-1", "tags_generation", map[string]interface{}{
		"prompt_tokens":     float64(5),
		"completion_tokens": float64(9),
	}), nil)
	require.NoError(t, err)

	ended := mock.GetEndedByTask("tags_generation")
	require.Len(t, ended, 1)
	ev := ended[0]
	assert.Equal(t, observability.ObservationEvent, ev.Type)
	assert.Nil(t, ev.Usage)
	assert.Equal(t, map[string]interface{}{"input": int64(5), "output": int64(9), "unit": observability.UnitTokens},
		ev.Metadata[observability.MetaUsage])
	assert.Equal(t, "tags_generation", ev.Metadata[observability.MetaType])
	assert.NotContains(t, ev.Metadata, observability.MetaModelID)
}

func TestOutlet_NoUsageWhenIncomplete(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	_, err := p.Inlet(ctx, inletBody("chat-1", ""), nil)
	require.NoError(t, err)
	_, err = p.Outlet(ctx, outletBody("chat-1", "", map[string]interface{}{"prompt_tokens": float64(5)}), nil)
	require.NoError(t, err)

	gen := mock.GetEnded()[0]
	assert.Nil(t, gen.Usage)
}

func TestOutlet_WithoutTraceRunsInlet(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p, mock := newTestPipeline(t, Config{}, WithLogger(zap.New(core)))

	body := outletBody("orphan", "llm_response", nil)
	out, err := p.Outlet(context.Background(), body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	assert.Len(t, mock.GetTraceUpserts(), 1)
	assert.Len(t, mock.GetStarted(), 1)
	assert.Empty(t, mock.GetEnded())
	assert.Equal(t, 1, logs.FilterMessage("no trace for chat, registering again").Len())
}

func TestOutlet_WithoutOpenObservation(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	_, err := p.Inlet(ctx, inletBody("chat-1", "llm_response"), nil)
	require.NoError(t, err)

	// A different task arrives at the outlet without a matching inlet.
	_, err = p.Outlet(ctx, outletBody("chat-1", "title_generation", nil), nil)
	require.NoError(t, err)

	ended := mock.GetEndedByTask("title_generation")
	require.Len(t, ended, 1)
	ev := ended[0]
	assert.Equal(t, observability.ObservationEvent, ev.Type)
	assert.Equal(t, ev.StartTime, ev.EndTime)
	assert.Equal(t, mock.GetStarted()[0].TraceID, ev.TraceID)

	// The llm_response generation is still open.
	assert.Equal(t, 1, p.Registry().OpenCount())
}

func TestOutlet_FIFOPerTask(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	_, err := p.Inlet(ctx, inletBody("chat-1", "llm_response"), nil)
	require.NoError(t, err)
	_, err = p.Inlet(ctx, inletBody("chat-1", "llm_response"), nil)
	require.NoError(t, err)

	started := mock.GetStarted()
	require.Len(t, started, 2)

	_, err = p.Outlet(ctx, outletBody("chat-1", "llm_response", nil), nil)
	require.NoError(t, err)
	_, err = p.Outlet(ctx, outletBody("chat-1", "llm_response", nil), nil)
	require.NoError(t, err)

	ended := mock.GetEnded()
	require.Len(t, ended, 2)
	assert.Equal(t, started[0].ID, ended[0].ID)
	assert.Equal(t, started[1].ID, ended[1].ID)
}

func TestOutlet_EmptyMessages(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	body := map[string]interface{}{"chat_id": "chat-1", "task_name": "llm_response"}
	_, err := p.Inlet(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, mock.GetStarted()[0].Input)

	out, err := p.Outlet(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	gen := mock.GetEnded()[0]
	assert.Nil(t, gen.Usage)
	assert.Nil(t, gen.Output)
	assert.Empty(t, gen.Model)
}

func TestOutlet_MissingChatID(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	body := inletBody("", "llm_response")
	delete(body, "chat_id")

	_, err := p.Inlet(ctx, body, nil)
	require.NoError(t, err)
	_, err = p.Outlet(ctx, body, nil)
	require.NoError(t, err)

	trace := mock.GetTraceUpserts()[0]
	assert.Equal(t, "chat:", trace.Name)
	assert.Len(t, mock.GetEnded(), 1)
}

func TestPipeline_ClientErrorsDoNotFailRequests(t *testing.T) {
	m := metrics.New()
	p, mock := newTestPipeline(t, Config{}, WithMetrics(m))
	mock.ExportErr = errors.New("backend down")
	ctx := context.Background()

	body := inletBody("chat-1", "llm_response")
	out, err := p.Inlet(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	_, err = p.Outlet(ctx, outletBody("chat-1", "llm_response", nil), nil)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClientErrors.WithLabelValues("upsert_trace")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientErrors.WithLabelValues("start_observation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientErrors.WithLabelValues("end_observation")))
}

func TestPipeline_Metrics(t *testing.T) {
	m := metrics.New()
	p, _ := newTestPipeline(t, Config{}, WithMetrics(m))
	ctx := context.Background()

	_, _ = p.Inlet(ctx, inletBody("a", "llm_response"), nil)
	_, _ = p.Inlet(ctx, inletBody("b", "title_generation"), nil)
	_, _ = p.Outlet(ctx, outletBody("a", "llm_response", map[string]interface{}{
		"prompt_tokens": float64(3), "completion_tokens": float64(4),
	}), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TracesCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TracesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilterRequests.WithLabelValues("inlet", "generation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilterRequests.WithLabelValues("inlet", "event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilterRequests.WithLabelValues("outlet", "generation")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.UsageTokens.WithLabelValues("input")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.UsageTokens.WithLabelValues("output")))
}

func TestPipeline_ConcurrentInletsShareOneTrace(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Inlet(ctx, inletBody("shared", "llm_response"), nil)
		}()
	}
	wg.Wait()

	assert.Len(t, mock.GetTraceUpserts(), 1)
	assert.Len(t, mock.GetStarted(), 50)
	assert.Equal(t, 50, p.Registry().OpenCount())

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Outlet(ctx, outletBody("shared", "llm_response", nil), nil)
		}()
	}
	wg.Wait()

	assert.Len(t, mock.GetEnded(), 50)
	assert.Equal(t, 0, p.Registry().OpenCount())
}

func TestPipeline_UpdateValvesSwapsClient(t *testing.T) {
	var mu sync.Mutex
	var built []*observability.MockClient
	var seen []Valves

	factory := func(_ context.Context, v Valves) (observability.Client, error) {
		mu.Lock()
		defer mu.Unlock()
		c := observability.NewMockClient()
		built = append(built, c)
		seen = append(seen, v)
		return c, nil
	}

	p, err := New(context.Background(), Config{}, WithClientFactory(factory))
	require.NoError(t, err)
	require.Len(t, built, 1)

	valves := p.Valves()
	valves.PublicKey = "pk-new"
	valves.SecretKey = "sk-new"
	valves.Host = ""
	require.NoError(t, p.UpdateValves(context.Background(), valves))

	require.Len(t, built, 2)
	assert.Equal(t, "pk-new", seen[1].PublicKey)
	assert.Equal(t, observability.DefaultLangfuseHost, p.Valves().Host)
	assert.Same(t, built[1], p.Client())
	assert.True(t, built[0].Closed())
	assert.Equal(t, 1, built[0].Flushes())

	// Registry survives the swap.
	_, err = p.Inlet(context.Background(), inletBody("c", ""), nil)
	require.NoError(t, err)
	require.NoError(t, p.UpdateValves(context.Background(), p.Valves()))
	assert.Equal(t, 1, p.Registry().Len())
	assert.Len(t, built, 2, "unchanged valves keep the client")
}

func TestPipeline_UpdateValvesReconnectsOnlyWhenNeeded(t *testing.T) {
	tests := []struct {
		name   string
		mode   observability.ClientMode
		otlp   observability.OTLPConfig
		change func(v *Valves)
		want   bool
	}{
		{name: "pipelines only", mode: observability.ClientModeAuto, change: func(v *Valves) { v.Pipelines = []string{"llama3"} }},
		{name: "priority only", mode: observability.ClientModeLangfuse, change: func(v *Valves) { v.Priority = 4 }},
		{name: "model naming only", mode: observability.ClientModeAuto, change: func(v *Valves) { v.UseModelNameInsteadOfIDForGeneration = true }},
		{name: "secret key", mode: observability.ClientModeAuto, change: func(v *Valves) { v.SecretKey = "sk-2" }, want: true},
		{name: "host", mode: observability.ClientModeLangfuse, change: func(v *Valves) { v.Host = "https://lf.internal" }, want: true},
		{name: "debug", mode: observability.ClientModeLangfuse, change: func(v *Valves) { v.Debug = true }, want: true},
		{name: "none mode ignores keys", mode: observability.ClientModeNone, change: func(v *Valves) { v.PublicKey = "pk-2" }},
		{name: "otlp ignores host", mode: observability.ClientModeOTLP, change: func(v *Valves) { v.Host = "https://lf.internal" }},
		{name: "otlp uses valve keys", mode: observability.ClientModeOTLP, change: func(v *Valves) { v.PublicKey = "pk-2" }, want: true},
		{
			name:   "otlp with configured keys",
			mode:   observability.ClientModeOTLP,
			otlp:   observability.OTLPConfig{PublicKey: "pk", SecretKey: "sk"},
			change: func(v *Valves) { v.PublicKey = "pk-2" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builds := 0
			factory := func(context.Context, Valves) (observability.Client, error) {
				builds++
				return observability.NewMockClient(), nil
			}
			p, err := New(context.Background(), Config{Mode: tt.mode, OTLP: tt.otlp}, WithClientFactory(factory))
			require.NoError(t, err)

			valves := p.Valves()
			tt.change(&valves)
			require.NoError(t, p.UpdateValves(context.Background(), valves))

			assert.Equal(t, tt.want, builds == 2)
			assert.Equal(t, valves, p.Valves())
		})
	}
}

func TestPipeline_OTLPConversationSurvivesValvesUpdate(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	core, logs := observer.New(zap.WarnLevel)
	m := metrics.New()
	ctx := context.Background()

	p, err := New(ctx, Config{
		Mode: observability.ClientModeOTLP,
		OTLP: observability.OTLPConfig{SpanProcessor: recorder},
	}, WithLogger(zap.New(core)), WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })
	first := p.Client()

	_, err = p.Inlet(ctx, inletBody("c1", ""), nil)
	require.NoError(t, err)
	_, err = p.Outlet(ctx, outletBody("c1", "", nil), nil)
	require.NoError(t, err)

	valves := p.Valves()
	valves.PublicKey = "pk-rotated"
	valves.SecretKey = "sk-rotated"
	require.NoError(t, p.UpdateValves(ctx, valves))
	require.NotSame(t, first, p.Client())

	_, err = p.Inlet(ctx, inletBody("c1", ""), nil)
	require.NoError(t, err)
	_, err = p.Outlet(ctx, outletBody("c1", "", nil), nil)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx))

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	traceIDs := make(map[string][]string)
	roots := 0
	for _, s := range spans {
		id := s.SpanContext().TraceID().String()
		traceIDs[id] = append(traceIDs[id], s.Name())
		if s.Name() == "chat:c1" {
			roots++
		}
	}
	assert.Len(t, traceIDs, 1, "one OTel trace per chat: %v", traceIDs)
	assert.Equal(t, 1, roots)
	assert.Equal(t, 0, logs.FilterMessage("tracing client call failed").Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClientErrors.WithLabelValues("start_observation")))
}

func chatTurn() (map[string]interface{}, map[string]interface{}) {
	build := func() map[string]interface{} {
		return map[string]interface{}{
			"chat_id":   "c-pass",
			"model":     "llama3.1:8b",
			"task_name": "llm_response",
			"tags":      []interface{}{"beta", "support"},
			"metadata": map[string]interface{}{
				"model": map[string]interface{}{"id": "llama3", "name": "Llama 3"},
			},
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": "mail me at bob@example.com", "api_key": "k-123"},
				map[string]interface{}{
					"role":    "assistant",
					"content": "done",
					"usage": map[string]interface{}{
						"prompt_tokens":     json.Number("12"),
						"completion_tokens": json.Number("7"),
					},
				},
			},
		}
	}
	return build(), build()
}

func TestPipeline_BodiesPassThroughUnmodified(t *testing.T) {
	ctx := context.Background()
	clients := map[string]func(t *testing.T) []Option{
		"mock": func(t *testing.T) []Option {
			return []Option{WithClient(observability.NewMockClient())}
		},
		"otlp with redaction": func(t *testing.T) []Option {
			return nil
		},
	}

	for name, opts := range clients {
		t.Run(name, func(t *testing.T) {
			p, err := New(ctx, Config{
				Mode:    observability.ClientModeOTLP,
				OTLP:    observability.OTLPConfig{SpanProcessor: tracetest.NewSpanRecorder()},
				Privacy: observability.PrivacyConfig{RedactCredentials: true, RedactPII: true},
			}, opts(t)...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Close(ctx) })

			body, want := chatTurn()
			user := map[string]interface{}{"email": "bob@example.com", "name": "Bob"}

			out, err := p.Inlet(ctx, body, user)
			require.NoError(t, err)
			assert.True(t, reflect.DeepEqual(want, out), "inlet changed the body")
			assert.True(t, reflect.DeepEqual(want, body), "inlet mutated the caller's body")

			out, err = p.Outlet(ctx, body, user)
			require.NoError(t, err)
			require.NoError(t, p.Flush(ctx))
			assert.True(t, reflect.DeepEqual(want, out), "outlet changed the body")
			assert.True(t, reflect.DeepEqual(want, body), "outlet mutated the caller's body")
			assert.Equal(t, map[string]interface{}{"email": "bob@example.com", "name": "Bob"}, user)
		})
	}
}

func TestPipeline_Close(t *testing.T) {
	p, mock := newTestPipeline(t, Config{})

	require.NoError(t, p.Flush(context.Background()))
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 2, mock.Flushes())
	assert.True(t, mock.Closed())
}

func TestUserID(t *testing.T) {
	assert.Equal(t, "anonymous", userID(nil))
	assert.Equal(t, "anonymous", userID(map[string]interface{}{}))
	assert.Equal(t, "anonymous", userID(map[string]interface{}{"email": ""}))
	assert.Equal(t, "x@y.z", userID(map[string]interface{}{"email": "x@y.z"}))
}
