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
	"sync"

	"github.com/teradata-labs/chattrace/pkg/observability"
)

type traceEntry struct {
	trace *observability.Trace
	// Open observations per task, oldest first.
	open map[string][]*observability.Observation
}

// Registry holds one trace per chat id for the lifetime of the process.
//
// Traces handed out are copies; mutate through Update so concurrent inlets
// and outlets for the same chat never race.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*traceEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*traceEntry)}
}

// Get returns a copy of the trace for chatID.
func (r *Registry) Get(chatID string) (*observability.Trace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[chatID]
	if !ok {
		return nil, false
	}
	return e.trace.Clone(), true
}

// Register stores trace for chatID, replacing any previous trace and
// dropping its open observations.
func (r *Registry) Register(chatID string, trace *observability.Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[chatID] = &traceEntry{
		trace: trace.Clone(),
		open:  make(map[string][]*observability.Observation),
	}
}

// GetOrCreate returns the trace for chatID, creating it with newTrace when
// absent. created reports whether newTrace was called.
func (r *Registry) GetOrCreate(chatID string, newTrace func() *observability.Trace) (trace *observability.Trace, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[chatID]; ok {
		return e.trace.Clone(), false
	}
	t := newTrace()
	r.entries[chatID] = &traceEntry{
		trace: t.Clone(),
		open:  make(map[string][]*observability.Observation),
	}
	return t.Clone(), true
}

// Update applies fn to the stored trace and returns a copy of the result.
func (r *Registry) Update(chatID string, fn func(*observability.Trace)) (*observability.Trace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[chatID]
	if !ok {
		return nil, false
	}
	fn(e.trace)
	return e.trace.Clone(), true
}

// PushOpen records an opened observation for a chat and task.
// It reports false when the chat has no trace.
func (r *Registry) PushOpen(chatID, task string, obs *observability.Observation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[chatID]
	if !ok {
		return false
	}
	e.open[task] = append(e.open[task], obs)
	return true
}

// PopOpen removes and returns the oldest open observation for a chat and task.
func (r *Registry) PopOpen(chatID, task string) (*observability.Observation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[chatID]
	if !ok {
		return nil, false
	}
	queue := e.open[task]
	if len(queue) == 0 {
		return nil, false
	}
	obs := queue[0]
	if len(queue) == 1 {
		delete(e.open, task)
	} else {
		e.open[task] = queue[1:]
	}
	return obs, true
}

// OpenCount returns the number of open observations across all chats.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		for _, q := range e.open {
			n += len(q)
		}
	}
	return n
}

// Len returns the number of registered traces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Range calls fn with a copy of every trace until fn returns false.
func (r *Registry) Range(fn func(chatID string, trace *observability.Trace) bool) {
	r.mu.Lock()
	snapshot := make(map[string]*observability.Trace, len(r.entries))
	for id, e := range r.entries {
		snapshot[id] = e.trace.Clone()
	}
	r.mu.Unlock()

	for id, t := range snapshot {
		if !fn(id, t) {
			return
		}
	}
}
