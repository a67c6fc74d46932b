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
	"strings"
	"sync"
)

// MockClient is a test implementation of Client that captures all calls for inspection.
// Thread-safe: All methods can be called concurrently.
type MockClient struct {
	mu sync.RWMutex

	// AuthErr is returned from AuthCheck when set.
	AuthErr error
	// ExportErr is returned from every export method when set.
	ExportErr error

	traceUpserts []*Trace
	started      []*Observation
	ended        []*Observation
	flushes      int
	closed       bool
}

// NewMockClient creates a new mock client for testing.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// AuthCheck returns AuthErr.
func (m *MockClient) AuthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.AuthErr
}

// UpsertTrace stores a snapshot of the trace.
func (m *MockClient) UpsertTrace(ctx context.Context, trace *Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.ExportErr != nil {
		return m.ExportErr
	}
	m.traceUpserts = append(m.traceUpserts, trace.Clone())
	return nil
}

// StartObservation stores a snapshot of the opening observation.
func (m *MockClient) StartObservation(ctx context.Context, obs *Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.ExportErr != nil {
		return m.ExportErr
	}
	m.started = append(m.started, obs.Clone())
	return nil
}

// EndObservation stores a snapshot of the closing observation.
func (m *MockClient) EndObservation(ctx context.Context, obs *Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.ExportErr != nil {
		return m.ExportErr
	}
	m.ended = append(m.ended, obs.Clone())
	return nil
}

// Flush counts calls.
func (m *MockClient) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

// Close marks the client closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetTraceUpserts returns every trace snapshot in call order (for testing).
func (m *MockClient) GetTraceUpserts() []*Trace {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Trace, len(m.traceUpserts))
	copy(out, m.traceUpserts)
	return out
}

// LastTrace returns the latest snapshot of the trace with the given ID (for testing).
func (m *MockClient) LastTrace(traceID string) *Trace {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.traceUpserts) - 1; i >= 0; i-- {
		if m.traceUpserts[i].ID == traceID {
			return m.traceUpserts[i]
		}
	}
	return nil
}

// GetStarted returns every opened observation (for testing).
func (m *MockClient) GetStarted() []*Observation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Observation, len(m.started))
	copy(out, m.started)
	return out
}

// GetEnded returns every closed observation (for testing).
func (m *MockClient) GetEnded() []*Observation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Observation, len(m.ended))
	copy(out, m.ended)
	return out
}

// GetEndedByTask finds closed observations whose name starts with "<task>:" (for testing).
func (m *MockClient) GetEndedByTask(task string) []*Observation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Observation, 0)
	for _, obs := range m.ended {
		if strings.HasPrefix(obs.Name, task+":") {
			result = append(result, obs)
		}
	}
	return result
}

// Flushes returns how many times Flush was called (for testing).
func (m *MockClient) Flushes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushes
}

// Closed reports whether Close was called (for testing).
func (m *MockClient) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Reset clears all captured calls (for testing).
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traceUpserts = nil
	m.started = nil
	m.ended = nil
	m.flushes = 0
	m.closed = false
}

// Ensure MockClient implements Client interface
var _ Client = (*MockClient)(nil)
