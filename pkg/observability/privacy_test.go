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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor_Text(t *testing.T) {
	r := newRedactor(PrivacyConfig{RedactPII: true})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "Contact: john.doe@example.com", "Contact: [EMAIL_REDACTED]"},
		{"phone", "Phone: 555-123-4567", "Phone: [PHONE_REDACTED]"},
		{"ssn", "SSN: 123-45-6789", "SSN: [SSN_REDACTED]"},
		{"card", "Card: 4532-1234-5678-9010", "Card: [CARD_REDACTED]"},
		{"no pii", "No PII here", "No PII here"},
		{"empty", "", ""},
		{"mixed", "email@test.com and 555.123.4567", "[EMAIL_REDACTED] and [PHONE_REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.text(tt.in))
		})
	}
}

func TestRedactor_Disabled(t *testing.T) {
	r := newRedactor(PrivacyConfig{})
	trace := NewTrace("c", "alice@example.com", map[string]interface{}{"password": "hunter2"})

	out := r.trace(trace)
	assert.Equal(t, "alice@example.com", out.UserID)
	assert.Equal(t, "hunter2", out.Input.(map[string]interface{})["password"])
	// Still a copy.
	assert.NotSame(t, trace, out)
}

func TestRedactor_CredentialsNested(t *testing.T) {
	r := newRedactor(PrivacyConfig{RedactCredentials: true})

	obs := NewObservation("t", ObservationEvent, "task")
	obs.Input = []interface{}{
		map[string]interface{}{
			"role":    "user",
			"content": "hi",
			"headers": map[string]interface{}{"Authorization": "Bearer x", "accept": "json"},
		},
	}
	obs.SetMetadata("client_secret", "s")
	obs.SetMetadata("prompt_tokens", 10)
	obs.SetMetadata(MetaModelID, "llama3")

	out := r.observation(obs)

	msgs, ok := out.Input.([]interface{})
	require.True(t, ok)
	msg := msgs[0].(map[string]interface{})
	headers := msg["headers"].(map[string]interface{})
	assert.NotContains(t, headers, "Authorization")
	assert.Equal(t, "json", headers["accept"])

	assert.NotContains(t, out.Metadata, "client_secret")
	// Token counts are not credentials.
	assert.Equal(t, 10, out.Metadata["prompt_tokens"])
	assert.Equal(t, "llama3", out.Metadata[MetaModelID])

	// Source is untouched.
	assert.Contains(t, obs.Metadata, "client_secret")
}

func TestRedactor_AllowedAttributes(t *testing.T) {
	r := newRedactor(PrivacyConfig{
		RedactPII:         true,
		RedactCredentials: true,
		AllowedAttributes: []string{"contact", "api_key", "user_id"},
	})

	trace := NewTrace("c", "alice@example.com", map[string]interface{}{
		"contact": "bob@example.com",
		"api_key": "k",
		"other":   "carol@example.com",
	})

	out := r.trace(trace)
	input := out.Input.(map[string]interface{})
	assert.Equal(t, "bob@example.com", input["contact"])
	assert.Equal(t, "k", input["api_key"])
	assert.Equal(t, "[EMAIL_REDACTED]", input["other"])
	assert.Equal(t, "alice@example.com", out.UserID)
}

func TestIsCredentialKey(t *testing.T) {
	tests := map[string]bool{
		"password":          true,
		"DB_PASSWORD":       true,
		"api_key":           true,
		"openai_api_key":    true,
		"access_token":      true,
		"client_secret":     true,
		"prompt_tokens":     false,
		"completion_tokens": false,
		"model_id":          false,
		"keyboard":          false,
	}
	for key, want := range tests {
		assert.Equal(t, want, isCredentialKey(key), key)
	}
}

// FuzzRedactorText checks redaction never panics and never leaves a match behind.
func FuzzRedactorText(f *testing.F) {
	f.Add("Contact: john.doe@example.com")
	f.Add("Phone: 555-123-4567")
	f.Add("SSN: 123-45-6789")
	f.Add("Card: 4532-1234-5678-9010")
	f.Add("Multiple emails: alice@example.com, bob@test.org")
	f.Add("")

	r := newRedactor(PrivacyConfig{RedactPII: true})

	f.Fuzz(func(t *testing.T, text string) {
		redacted := r.text(text)

		for _, match := range emailPattern.FindAllString(text, -1) {
			if strings.Contains(redacted, match) {
				t.Errorf("email %q still present after redaction in: %q", match, redacted)
			}
		}
		for _, match := range ssnPattern.FindAllString(text, -1) {
			if strings.Contains(redacted, match) {
				t.Errorf("SSN %q still present after redaction in: %q", match, redacted)
			}
		}

		if !emailPattern.MatchString(text) && !phonePattern.MatchString(text) &&
			!ssnPattern.MatchString(text) && !creditCardPattern.MatchString(text) {
			if redacted != text {
				t.Errorf("text changed despite no PII: original=%q redacted=%q", text, redacted)
			}
		}
	})
}
