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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/chattrace/pkg/observability"
)

func TestDefaultValves(t *testing.T) {
	v := DefaultValves()
	assert.Equal(t, []string{"*"}, v.Pipelines)
	assert.Equal(t, 0, v.Priority)
	assert.Equal(t, observability.DefaultLangfuseHost, v.Host)
	assert.False(t, v.Debug)
	assert.False(t, v.UseModelNameInsteadOfIDForGeneration)
}

func TestValves_Masked(t *testing.T) {
	v := DefaultValves()
	v.SecretKey = "sk-lf-real"
	v.PublicKey = "pk-lf-real"

	m := v.Masked()
	assert.Equal(t, secretMask, m.SecretKey)
	assert.Equal(t, "pk-lf-real", m.PublicKey)
	assert.Equal(t, "sk-lf-real", v.SecretKey)

	assert.Empty(t, DefaultValves().Masked().SecretKey)
}

func TestValvesSchema(t *testing.T) {
	raw, err := json.Marshal(ValvesSchema())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])
	props, ok := doc["properties"].(map[string]interface{})
	require.True(t, ok)
	for _, key := range []string{"pipelines", "priority", "secret_key", "public_key", "host", "debug", "use_model_name_instead_of_id_for_generation"} {
		assert.Contains(t, props, key)
	}
	assert.NotContains(t, doc, "required")
}

func TestValidateValves(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "empty", doc: `{}`},
		{name: "full", doc: `{"pipelines":["*"],"priority":1,"secret_key":"s","public_key":"p","host":"http://x","debug":true,"use_model_name_instead_of_id_for_generation":true}`},
		{name: "wrong type", doc: `{"priority":"high"}`, wantErr: "priority"},
		{name: "unknown key", doc: `{"bogus_key":"x"}`, wantErr: "bogus_key"},
		{name: "bad pipelines", doc: `{"pipelines":"*"}`, wantErr: "pipelines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(tt.doc), &doc))

			err := ValidateValves(doc)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeValves(t *testing.T) {
	current := DefaultValves()
	current.SecretKey = "sk-old"
	current.PublicKey = "pk-old"

	t.Run("partial update keeps other fields", func(t *testing.T) {
		next, err := MergeValves(current, []byte(`{"debug":true}`))
		require.NoError(t, err)
		assert.True(t, next.Debug)
		assert.Equal(t, "sk-old", next.SecretKey)
		assert.Equal(t, "pk-old", next.PublicKey)
	})

	t.Run("masked secret keeps current secret", func(t *testing.T) {
		next, err := MergeValves(current, []byte(`{"secret_key":"********","public_key":"pk-new"}`))
		require.NoError(t, err)
		assert.Equal(t, "sk-old", next.SecretKey)
		assert.Equal(t, "pk-new", next.PublicKey)
	})

	t.Run("empty host resets to default", func(t *testing.T) {
		next, err := MergeValves(current, []byte(`{"host":""}`))
		require.NoError(t, err)
		assert.Equal(t, observability.DefaultLangfuseHost, next.Host)
	})

	t.Run("pipelines replaced not aliased", func(t *testing.T) {
		next, err := MergeValves(current, []byte(`{"pipelines":["a","b"]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, next.Pipelines)
		assert.Equal(t, []string{"*"}, current.Pipelines)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := MergeValves(current, []byte(`not json`))
		assert.Error(t, err)

		_, err = MergeValves(current, []byte(`null`))
		assert.Error(t, err)

		_, err = MergeValves(current, []byte(`{"priority":"x"}`))
		assert.Error(t, err)
	})
}
