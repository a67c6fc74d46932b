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
// Package observability provides the tracing client layer for chattrace.
//
// A conversation maps to a Trace. Every chat turn seen by the filter opens an
// Observation (a generation for model calls, an event for everything else)
// which is closed when the matching response passes through. Clients export
// these records to Langfuse, to an OTLP collector, or nowhere at all.
//
// Example usage:
//
//	client, _ := observability.NewLangfuseClient(config)
//	trace := observability.NewTrace("chat-42", "alice@example.com", body)
//	_ = client.UpsertTrace(ctx, trace)
//	gen := observability.NewObservation(trace.ID, observability.ObservationGeneration, "llm_response")
//	_ = client.StartObservation(ctx, gen)
//	// ... response arrives ...
//	gen.Usage = &observability.Usage{Input: 12, Output: 40, Unit: observability.UnitTokens}
//	_ = client.EndObservation(ctx, gen)
package observability

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnauthorized is returned by AuthCheck when the backend rejects the credentials.
var ErrUnauthorized = errors.New("tracing backend rejected credentials")

// ErrClosed is returned by clients after Close.
var ErrClosed = errors.New("tracing client is closed")

// UnitTokens is the only usage unit the filter reports.
const UnitTokens = "TOKENS" // #nosec G101 -- not a credential, just a unit name

// ObservationType distinguishes model calls from other pipeline tasks.
type ObservationType string

const (
	// ObservationGeneration is a model call with model and usage data.
	ObservationGeneration ObservationType = "generation"
	// ObservationEvent is any other task passing through the pipeline.
	ObservationEvent ObservationType = "event"
)

func (t ObservationType) String() string {
	return string(t)
}

// Level is the severity attached to an observation.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelDefault Level = "DEFAULT"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Usage holds token counts for a model call.
type Usage struct {
	Input  int64  `json:"input"`
	Output int64  `json:"output"`
	Unit   string `json:"unit"`
}

// Total returns input plus output.
func (u *Usage) Total() int64 {
	if u == nil {
		return 0
	}
	return u.Input + u.Output
}

// AsMap renders the usage the way it is embedded in event metadata.
func (u *Usage) AsMap() map[string]interface{} {
	if u == nil {
		return nil
	}
	return map[string]interface{}{
		"input":  u.Input,
		"output": u.Output,
		"unit":   u.Unit,
	}
}

// Trace groups all observations of one conversation.
type Trace struct {
	ID        string
	Name      string // "chat:<chat_id>"
	UserID    string
	SessionID string // the chat id

	Input    interface{}
	Output   interface{}
	Metadata map[string]interface{}
	Tags     []string

	Timestamp time.Time
}

// NewTrace creates a trace for a conversation.
func NewTrace(chatID, userID string, input interface{}) *Trace {
	return &Trace{
		ID:        uuid.New().String(),
		Name:      "chat:" + chatID,
		UserID:    userID,
		SessionID: chatID,
		Input:     input,
		Metadata:  make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// Clone returns a shallow copy safe to hand to an exporter.
// Maps and slices are copied one level deep.
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = copyMap(t.Metadata)
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return &c
}

// Observation is a generation or an event within a trace.
type Observation struct {
	ID       string
	TraceID  string
	ParentID string // set on the closing record of an event
	Type     ObservationType

	Name  string // "<task_name>:<uuid>"
	Model string

	Input    interface{}
	Output   interface{}
	Metadata map[string]interface{}
	Tags     []string
	Usage    *Usage

	Level         Level
	StatusMessage string

	StartTime time.Time
	EndTime   time.Time
}

// NewObservation opens an observation of the given type for a task.
func NewObservation(traceID string, typ ObservationType, task string) *Observation {
	return &Observation{
		ID:        uuid.New().String(),
		TraceID:   traceID,
		Type:      typ,
		Name:      task + ":" + uuid.New().String(),
		Metadata:  make(map[string]interface{}),
		Level:     LevelDefault,
		StartTime: time.Now(),
	}
}

// SetMetadata sets a metadata key on the observation.
func (o *Observation) SetMetadata(key string, value interface{}) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]interface{})
	}
	o.Metadata[key] = value
}

// Ended reports whether EndTime has been set.
func (o *Observation) Ended() bool {
	return !o.EndTime.IsZero()
}

// Duration is EndTime-StartTime, zero while the observation is open.
func (o *Observation) Duration() time.Duration {
	if !o.Ended() {
		return 0
	}
	return o.EndTime.Sub(o.StartTime)
}

// Clone returns a shallow copy safe to hand to an exporter.
func (o *Observation) Clone() *Observation {
	if o == nil {
		return nil
	}
	c := *o
	c.Metadata = copyMap(o.Metadata)
	if o.Tags != nil {
		c.Tags = append([]string(nil), o.Tags...)
	}
	if o.Usage != nil {
		u := *o.Usage
		c.Usage = &u
	}
	return &c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
