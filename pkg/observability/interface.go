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

import "context"

// Client is the interface the filter uses to talk to a tracing backend.
//
// Implementations export traces to Langfuse, to an OTLP collector, or
// record them in memory for tests.
//
// Thread-safe: All methods can be called concurrently. Implementations must
// not retain the passed pointers after returning; callers keep mutating them.
type Client interface {
	// AuthCheck verifies the configured credentials against the backend.
	// Returns ErrUnauthorized (wrapped) when the backend rejects them.
	AuthCheck(ctx context.Context) error

	// UpsertTrace creates the trace or updates it with the current fields.
	// Backends treat the trace ID as the upsert key.
	UpsertTrace(ctx context.Context, trace *Trace) error

	// StartObservation records the opening half of a generation or event.
	//
	// Example:
	//   gen := NewObservation(trace.ID, ObservationGeneration, "llm_response")
	//   gen.Model = "llama3.1:8b"
	//   _ = client.StartObservation(ctx, gen)
	StartObservation(ctx context.Context, obs *Observation) error

	// EndObservation records the closing half: output, usage, end time.
	// The observation must reference the trace it was started on.
	EndObservation(ctx context.Context, obs *Observation) error

	// Flush forces immediate export of buffered records.
	// Blocks until export completes or ctx is done.
	Flush(ctx context.Context) error

	// Close flushes and releases resources. Further calls return ErrClosed.
	Close() error
}
