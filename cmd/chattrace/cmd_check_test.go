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
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/chattrace/pkg/filter"
	"github.com/teradata-labs/chattrace/pkg/observability"
)

func newCheckPipeline(t *testing.T, id string, client observability.Client) *filter.Pipeline {
	t.Helper()
	p, err := filter.New(context.Background(), filter.Config{ID: id}, filter.WithClient(client))
	require.NoError(t, err)
	return p
}

func TestCheckPipelines(t *testing.T) {
	ok := observability.NewMockClient()
	unauthorized := observability.NewMockClient()
	unauthorized.AuthErr = fmt.Errorf("auth check: %w", observability.ErrUnauthorized)
	unreachable := observability.NewMockClient()
	unreachable.AuthErr = errors.New("dial tcp: connection refused")

	pipelines := []*filter.Pipeline{
		newCheckPipeline(t, "ok", ok),
		newCheckPipeline(t, "disabled", observability.NewNoOpClient()),
		newCheckPipeline(t, "bad-keys", unauthorized),
		newCheckPipeline(t, "down", unreachable),
	}

	var out bytes.Buffer
	err := checkPipelines(context.Background(), &out, pipelines, time.Second)
	require.Error(t, err)
	assert.Equal(t, "2 of 4 filters failed the credential check", err.Error())

	got := out.String()
	assert.Contains(t, got, "✓ ok: *observability.MockClient credentials accepted")
	assert.Contains(t, got, "- disabled: tracing disabled")
	assert.Contains(t, got, "✗ bad-keys: invalid credentials, check the valves")
	assert.Contains(t, got, "✗ down: dial tcp: connection refused")
}

func TestCheckPipelines_AllPass(t *testing.T) {
	pipelines := []*filter.Pipeline{newCheckPipeline(t, "a", observability.NewMockClient())}

	var out bytes.Buffer
	require.NoError(t, checkPipelines(context.Background(), &out, pipelines, time.Second))
	assert.Contains(t, out.String(), "✓ a:")
}

func TestBuildPipelines(t *testing.T) {
	c := validConfig()
	c.Tracer.Mode = string(observability.ClientModeNone)
	c.Filter = FilterConfig{ID: "solo", Name: "Solo", Pipelines: []string{"*"}}

	pipelines, err := buildPipelines(context.Background(), c, zap.NewNop(), nil)
	require.NoError(t, err)
	require.Len(t, pipelines, 1)
	t.Cleanup(func() { _ = pipelines[0].Close(context.Background()) })

	assert.Equal(t, "solo", pipelines[0].ID())
	assert.IsType(t, &observability.NoOpClient{}, pipelines[0].Client())
}

func TestBackendName(t *testing.T) {
	assert.Equal(t, "*observability.NoOpClient", backendName(observability.NewNoOpClient()))
}
