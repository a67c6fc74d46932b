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
	"time"
)

// NoOpClient is a client that does nothing.
// Use for testing or when tracing is disabled.
type NoOpClient struct{}

// NewNoOpClient creates a no-op client.
func NewNoOpClient() *NoOpClient {
	return &NoOpClient{}
}

// AuthCheck always succeeds.
func (c *NoOpClient) AuthCheck(ctx context.Context) error {
	return nil
}

// UpsertTrace does nothing.
func (c *NoOpClient) UpsertTrace(ctx context.Context, trace *Trace) error {
	return nil
}

// StartObservation does nothing.
func (c *NoOpClient) StartObservation(ctx context.Context, obs *Observation) error {
	return nil
}

// EndObservation only stamps the end time.
func (c *NoOpClient) EndObservation(ctx context.Context, obs *Observation) error {
	if obs != nil && obs.EndTime.IsZero() {
		obs.EndTime = time.Now()
	}
	return nil
}

// Flush does nothing.
func (c *NoOpClient) Flush(ctx context.Context) error {
	return nil
}

// Close does nothing.
func (c *NoOpClient) Close() error {
	return nil
}

// Ensure NoOpClient implements Client interface.
var _ Client = (*NoOpClient)(nil)
