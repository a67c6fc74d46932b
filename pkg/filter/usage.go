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
	"math"
	"strconv"
	"strings"

	"github.com/teradata-labs/chattrace/pkg/observability"
)

// Usage keys. Ollama reports *_eval_count, OpenAI-compatible APIs *_tokens.
const (
	keyPromptEvalCount  = "prompt_eval_count"
	keyPromptTokens     = "prompt_tokens"
	keyEvalCount        = "eval_count"
	keyCompletionTokens = "completion_tokens"
)

// ExtractUsage reads token counts from an assistant message's usage object.
//
// Each count takes the primary key when it is non-zero and otherwise the
// fallback key as-is, so a zero primary with a zero fallback yields 0 while
// a zero primary with no fallback yields nothing. Usage is returned only
// when both counts are present.
func ExtractUsage(message map[string]interface{}) *observability.Usage {
	if message == nil {
		return nil
	}
	info, ok := message["usage"].(map[string]interface{})
	if !ok {
		return nil
	}

	input, ok := firstNonZero(info, keyPromptEvalCount, keyPromptTokens)
	if !ok {
		return nil
	}
	output, ok := firstNonZero(info, keyEvalCount, keyCompletionTokens)
	if !ok {
		return nil
	}

	return &observability.Usage{
		Input:  input,
		Output: output,
		Unit:   observability.UnitTokens,
	}
}

func firstNonZero(info map[string]interface{}, primary, fallback string) (int64, bool) {
	if n, ok := toCount(info[primary]); ok && n != 0 {
		return n, true
	}
	return toCount(info[fallback])
}

// toCount converts a JSON-decoded value to a token count.
// Non-numeric values report false.
func toCount(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return floatCount(n)
	case float32:
		return floatCount(float64(n))
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatCount(f)
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatCount(f)
	default:
		return 0, false
	}
}

func floatCount(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}
