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
	"time"

	"github.com/google/uuid"
)

// Langfuse ingestion payload format (POST /api/public/ingestion).
type ingestionRequest struct {
	Batch    []ingestionEvent       `json:"batch"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type ingestionEvent struct {
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Body      interface{} `json:"body"`
}

type traceBody struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Name      string                 `json:"name,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Release   string                 `json:"release,omitempty"`
	Input     interface{}            `json:"input,omitempty"`
	Output    interface{}            `json:"output,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
}

type observationBody struct {
	ID                  string                 `json:"id"`
	TraceID             string                 `json:"traceId"`
	ParentObservationID string                 `json:"parentObservationId,omitempty"`
	Name                string                 `json:"name,omitempty"`
	StartTime           string                 `json:"startTime,omitempty"`
	EndTime             string                 `json:"endTime,omitempty"`
	Model               string                 `json:"model,omitempty"`
	Input               interface{}            `json:"input,omitempty"`
	Output              interface{}            `json:"output,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	Level               string                 `json:"level,omitempty"`
	StatusMessage       string                 `json:"statusMessage,omitempty"`
	Usage               *usageBody             `json:"usage,omitempty"`
}

type usageBody struct {
	Input  int64  `json:"input"`
	Output int64  `json:"output"`
	Total  int64  `json:"total"`
	Unit   string `json:"unit"`
}

// ingestionResponse is returned with status 207 (multi-status).
type ingestionResponse struct {
	Successes []struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
	} `json:"successes"`
	Errors []struct {
		ID      string      `json:"id"`
		Status  int         `json:"status"`
		Message string      `json:"message"`
		Error   interface{} `json:"error"`
	} `json:"errors"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func newIngestionEvent(eventType string, body interface{}) ingestionEvent {
	return ingestionEvent{
		ID:        uuid.New().String(),
		Timestamp: formatTime(time.Now()),
		Type:      eventType,
		Body:      body,
	}
}

func convertTrace(t *Trace, release string) traceBody {
	return traceBody{
		ID:        t.ID,
		Timestamp: formatTime(t.Timestamp),
		Name:      t.Name,
		UserID:    t.UserID,
		SessionID: t.SessionID,
		Release:   release,
		Input:     t.Input,
		Output:    t.Output,
		Metadata:  t.Metadata,
		Tags:      t.Tags,
	}
}

// convertObservation maps an observation to the ingestion body.
// Observations have no tag field in Langfuse, so tags ride in metadata.
func convertObservation(o *Observation) observationBody {
	metadata := o.Metadata
	if len(o.Tags) > 0 {
		metadata = copyMap(o.Metadata)
		if metadata == nil {
			metadata = make(map[string]interface{})
		}
		metadata["tags"] = o.Tags
	}

	body := observationBody{
		ID:                  o.ID,
		TraceID:             o.TraceID,
		ParentObservationID: o.ParentID,
		Name:                o.Name,
		StartTime:           formatTime(o.StartTime),
		EndTime:             formatTime(o.EndTime),
		Model:               o.Model,
		Input:               o.Input,
		Output:              o.Output,
		Metadata:            metadata,
		Level:               string(o.Level),
		StatusMessage:       o.StatusMessage,
	}
	if o.Usage != nil {
		body.Usage = &usageBody{
			Input:  o.Usage.Input,
			Output: o.Usage.Output,
			Total:  o.Usage.Total(),
			Unit:   o.Usage.Unit,
		}
	}
	return body
}
