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
	"fmt"

	"github.com/Jeffail/gabs/v2"
)

// DefaultTaskName is used when a body carries no task_name.
const DefaultTaskName = "llm_response"

// ChatBody is a read-only view over a chat request body.
type ChatBody struct {
	raw map[string]interface{}
	obj *gabs.Container
}

// NewChatBody wraps body without copying it.
func NewChatBody(body map[string]interface{}) *ChatBody {
	return &ChatBody{raw: body, obj: gabs.Wrap(body)}
}

// Raw returns the wrapped body, unchanged.
func (b *ChatBody) Raw() map[string]interface{} {
	return b.raw
}

// ChatID returns chat_id, or "" when absent.
func (b *ChatBody) ChatID() string {
	return b.str("chat_id")
}

// TaskName returns task_name, or DefaultTaskName when absent.
func (b *ChatBody) TaskName() string {
	if task := b.str("task_name"); task != "" {
		return task
	}
	return DefaultTaskName
}

// Model returns the model field, or "" when absent.
func (b *ChatBody) Model() string {
	return b.str("model")
}

// Tags returns the tags list. Non-string entries are skipped.
func (b *ChatBody) Tags() []string {
	var list []interface{}
	switch v := b.obj.S("tags").Data().(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		list = v
	default:
		return nil
	}
	var tags []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// Messages returns the messages list, or an empty list when absent.
func (b *ChatBody) Messages() []interface{} {
	if msgs, ok := b.obj.S("messages").Data().([]interface{}); ok {
		return msgs
	}
	return []interface{}{}
}

// MetadataModel returns metadata.model.{id,name} as supplied by the host.
func (b *ChatBody) MetadataModel() (id, name string) {
	id, _ = b.obj.S("metadata", "model", "id").Data().(string)
	name, _ = b.obj.S("metadata", "model", "name").Data().(string)
	return id, name
}

func (b *ChatBody) str(key string) string {
	switch v := b.obj.S(key).Data().(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// LastAssistantMessage returns the last message with role "assistant".
// Messages without a role are skipped.
func LastAssistantMessage(messages []interface{}) map[string]interface{} {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]interface{})
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "assistant" {
			return msg
		}
	}
	return nil
}

// MessageContent returns the content of a message, nil for a nil message.
func MessageContent(msg map[string]interface{}) interface{} {
	if msg == nil {
		return nil
	}
	return msg["content"]
}
