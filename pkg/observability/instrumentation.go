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

// Standard metadata keys written on observations.
// Use these constants instead of hardcoding strings.
const (
	MetaModelID   = "model_id"
	MetaModelName = "model_name"
	MetaType      = "type"
	MetaInterface = "interface"
	MetaUsage     = "usage"
)

// InterfaceOpenWebUI tags observations produced by the Open WebUI pipeline.
const InterfaceOpenWebUI = "open-webui"

// Langfuse ingestion event types.
const (
	EventTraceCreate      = "trace-create"
	EventGenerationCreate = "generation-create"
	EventGenerationUpdate = "generation-update"
	EventEventCreate      = "event-create"
)

// OpenTelemetry attribute names understood by Langfuse's OTel endpoint.
const (
	AttrTraceName      = "langfuse.trace.name"
	AttrTraceUserID    = "langfuse.user.id"
	AttrTraceSessionID = "langfuse.session.id"
	AttrTraceTags      = "langfuse.trace.tags"
	AttrTraceInput     = "langfuse.trace.input"
	AttrTraceOutput    = "langfuse.trace.output"
	AttrTraceMetadata  = "langfuse.trace.metadata"

	AttrObservationType     = "langfuse.observation.type"
	AttrObservationInput    = "langfuse.observation.input"
	AttrObservationOutput   = "langfuse.observation.output"
	AttrObservationMetadata = "langfuse.observation.metadata"
	AttrObservationLevel    = "langfuse.observation.level"

	// GenAI semantic conventions
	AttrGenAIRequestModel = "gen_ai.request.model"
	AttrGenAIUsageInput   = "gen_ai.usage.input_tokens"  // #nosec G101 -- not a credential, just attribute name
	AttrGenAIUsageOutput  = "gen_ai.usage.output_tokens" // #nosec G101 -- not a credential, just attribute name

	AttrChatTraceID = "chattrace.trace.id"
)
