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

import "github.com/teradata-labs/chattrace/internal/csync"

// UnknownModelName is reported when no display name is known for a chat.
const UnknownModelName = "unknown"

// ModelInfo identifies the model a chat talks to.
type ModelInfo struct {
	ID   string `json:"id" mapstructure:"id" yaml:"id"`
	Name string `json:"name" mapstructure:"name" yaml:"name"`
}

// ModelDirectory maps chat ids to model info.
type ModelDirectory struct {
	models *csync.Map[string, ModelInfo]
}

// NewModelDirectory creates a directory seeded with the given entries.
func NewModelDirectory(seed map[string]ModelInfo) *ModelDirectory {
	d := &ModelDirectory{models: csync.NewMap[string, ModelInfo]()}
	for chatID, info := range seed {
		d.models.Set(chatID, info)
	}
	return d
}

// Set stores info for a chat, keeping existing fields that info leaves empty.
func (d *ModelDirectory) Set(chatID string, info ModelInfo) {
	if info.ID == "" && info.Name == "" {
		return
	}
	d.models.Update(chatID, func(cur ModelInfo, _ bool) ModelInfo {
		if info.ID != "" {
			cur.ID = info.ID
		}
		if info.Name != "" {
			cur.Name = info.Name
		}
		return cur
	})
}

// Lookup returns the stored info for a chat.
func (d *ModelDirectory) Lookup(chatID string) (ModelInfo, bool) {
	return d.models.Get(chatID)
}

// Resolve returns the model id and name for a chat. The id falls back to
// fallbackID and the name to UnknownModelName.
func (d *ModelDirectory) Resolve(chatID, fallbackID string) (id, name string) {
	info, _ := d.Lookup(chatID)

	id = info.ID
	if id == "" {
		id = fallbackID
	}
	name = info.Name
	if name == "" {
		name = UnknownModelName
	}
	return id, name
}

// Len returns the number of chats with model info.
func (d *ModelDirectory) Len() int {
	return d.models.Len()
}
