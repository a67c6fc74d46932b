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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelDirectory(t *testing.T) {
	d := NewModelDirectory(map[string]ModelInfo{
		"seeded": {ID: "gpt-4o", Name: "GPT-4o"},
	})
	assert.Equal(t, 1, d.Len())

	id, name := d.Resolve("seeded", "fallback")
	assert.Equal(t, "gpt-4o", id)
	assert.Equal(t, "GPT-4o", name)

	id, name = d.Resolve("unknown-chat", "fallback")
	assert.Equal(t, "fallback", id)
	assert.Equal(t, UnknownModelName, name)

	// Partial updates keep the other field.
	d.Set("seeded", ModelInfo{Name: "GPT-4o (2024)"})
	info, ok := d.Lookup("seeded")
	assert.True(t, ok)
	assert.Equal(t, ModelInfo{ID: "gpt-4o", Name: "GPT-4o (2024)"}, info)

	// Empty info is ignored.
	d.Set("empty", ModelInfo{})
	_, ok = d.Lookup("empty")
	assert.False(t, ok)

	d.Set("name-only", ModelInfo{Name: "Mistral"})
	id, name = d.Resolve("name-only", "mistral:7b")
	assert.Equal(t, "mistral:7b", id)
	assert.Equal(t, "Mistral", name)
}
