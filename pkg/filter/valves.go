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
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/chattrace/pkg/observability"
)

// secretMask replaces secrets in valves returned to clients.
const secretMask = "********"

// Valves are the runtime-tunable settings of the filter.
type Valves struct {
	Pipelines []string `json:"pipelines" mapstructure:"pipelines" jsonschema:"description=Pipeline ids this filter attaches to (* for all)"`
	Priority  int      `json:"priority" mapstructure:"priority" jsonschema:"description=Filter execution order (lower runs first)"`

	SecretKey string `json:"secret_key" mapstructure:"secret_key" jsonschema:"description=Langfuse secret key"`
	PublicKey string `json:"public_key" mapstructure:"public_key" jsonschema:"description=Langfuse public key"`
	Host      string `json:"host" mapstructure:"host" jsonschema:"description=Langfuse base URL,default=https://cloud.langfuse.com"`
	Debug     bool   `json:"debug" mapstructure:"debug" jsonschema:"description=Log every exported batch"`

	UseModelNameInsteadOfIDForGeneration bool `json:"use_model_name_instead_of_id_for_generation" mapstructure:"use_model_name_instead_of_id_for_generation" jsonschema:"description=Report the model display name on generations instead of the model id"`
}

// DefaultValves returns valves with the documented defaults.
func DefaultValves() Valves {
	return Valves{
		Pipelines: []string{"*"},
		Priority:  0,
		Host:      observability.DefaultLangfuseHost,
	}
}

// Masked returns a copy safe to show to API clients.
func (v Valves) Masked() Valves {
	out := v
	out.Pipelines = append([]string(nil), v.Pipelines...)
	if out.SecretKey != "" {
		out.SecretKey = secretMask
	}
	return out
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
)

// ValvesSchema returns the JSON schema of Valves.
func ValvesSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		r := jsonschema.Reflector{}
		r.AssignAnchor = false
		r.Anonymous = true
		r.AllowAdditionalProperties = false
		r.DoNotReference = true
		r.RequiredFromJSONSchemaTags = true
		schema = r.ReflectFromType(reflect.TypeOf(Valves{}))
		schema.Title = "Valves"
	})
	return schema
}

// validationSchema is ValvesSchema as a plain document without "$schema";
// the validator only understands drafts up to 7.
func validationSchema() (map[string]interface{}, error) {
	raw, err := json.Marshal(ValvesSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal valves schema: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal valves schema: %w", err)
	}
	delete(out, "$schema")
	return out, nil
}

// ValidateValves checks a decoded valves document against ValvesSchema.
func ValidateValves(doc map[string]interface{}) error {
	schemaDoc, err := validationSchema()
	if err != nil {
		return err
	}
	schemaLoader := gojsonschema.NewGoLoader(schemaDoc)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return fmt.Errorf("invalid valves: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MergeValves applies a partial JSON valves document on top of current.
// Keys absent from raw keep their current value. A masked secret posted
// back unchanged keeps the current secret.
func MergeValves(current Valves, raw []byte) (Valves, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return current, fmt.Errorf("decode valves: %w", err)
	}
	if doc == nil {
		return current, fmt.Errorf("decode valves: expected a JSON object")
	}
	if err := ValidateValves(doc); err != nil {
		return current, err
	}

	next := current
	next.Pipelines = append([]string(nil), current.Pipelines...)
	if err := json.Unmarshal(raw, &next); err != nil {
		return current, fmt.Errorf("decode valves: %w", err)
	}
	if next.SecretKey == secretMask {
		next.SecretKey = current.SecretKey
	}
	if next.Host == "" {
		next.Host = observability.DefaultLangfuseHost
	}
	return next, nil
}
