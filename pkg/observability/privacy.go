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
	"regexp"
	"strings"
)

// PrivacyConfig controls what data is redacted before export.
type PrivacyConfig struct {
	// RedactCredentials removes password, api_key, token keys from metadata
	// and from any nested object in inputs and outputs.
	RedactCredentials bool `mapstructure:"redact_credentials"`

	// RedactPII replaces email, phone, SSN and card patterns in string values.
	RedactPII bool `mapstructure:"redact_pii"`

	// AllowedAttributes is a whitelist of keys that bypass redaction.
	// Example: []string{"model_id", "model_name", "interface"}
	AllowedAttributes []string `mapstructure:"allowed_attributes"`
}

// Enabled reports whether any redaction rule is active.
func (p PrivacyConfig) Enabled() bool {
	return p.RedactCredentials || p.RedactPII
}

// PII redaction patterns (compiled once at package init)
var (
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern      = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardPattern = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
)

var credentialKeys = map[string]bool{
	"password": true, "api_key": true, "token": true, "secret": true, "authorization": true,
	"access_token": true, "refresh_token": true, "bearer": true, "apikey": true,
	"client_secret": true, "private_key": true, "ssh_key": true, "aws_secret": true,
}

// redactor applies a PrivacyConfig to trace and observation payloads.
type redactor struct {
	config  PrivacyConfig
	allowed map[string]bool
}

func newRedactor(config PrivacyConfig) *redactor {
	allowed := make(map[string]bool, len(config.AllowedAttributes))
	for _, key := range config.AllowedAttributes {
		allowed[key] = true
	}
	return &redactor{config: config, allowed: allowed}
}

// trace returns a redacted copy; the input is never modified.
func (r *redactor) trace(t *Trace) *Trace {
	c := t.Clone()
	if !r.config.Enabled() {
		return c
	}
	c.Input = r.value(c.Input)
	c.Output = r.value(c.Output)
	c.Metadata = r.object(c.Metadata)
	// User IDs are usually emails.
	if r.config.RedactPII && !r.allowed["user_id"] {
		c.UserID = r.text(c.UserID)
	}
	return c
}

// observation returns a redacted copy; the input is never modified.
func (r *redactor) observation(o *Observation) *Observation {
	c := o.Clone()
	if !r.config.Enabled() {
		return c
	}
	c.Input = r.value(c.Input)
	c.Output = r.value(c.Output)
	c.Metadata = r.object(c.Metadata)
	return c
}

func (r *redactor) value(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if r.config.RedactPII {
			return r.text(val)
		}
		return val
	case map[string]interface{}:
		return r.object(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = r.value(item)
		}
		return out
	default:
		return v
	}
}

func (r *redactor) object(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for key, v := range m {
		if r.allowed[key] {
			out[key] = v
			continue
		}
		if r.config.RedactCredentials && isCredentialKey(key) {
			continue
		}
		out[key] = r.value(v)
	}
	return out
}

func (r *redactor) text(s string) string {
	s = emailPattern.ReplaceAllString(s, "[EMAIL_REDACTED]")
	s = ssnPattern.ReplaceAllString(s, "[SSN_REDACTED]")
	s = creditCardPattern.ReplaceAllString(s, "[CARD_REDACTED]")
	s = phonePattern.ReplaceAllString(s, "[PHONE_REDACTED]")
	return s
}

func isCredentialKey(key string) bool {
	keyLower := strings.ToLower(key)
	if credentialKeys[keyLower] {
		return true
	}
	return strings.Contains(keyLower, "password") ||
		strings.Contains(keyLower, "secret") ||
		strings.Contains(keyLower, "token") && !strings.Contains(keyLower, "tokens") ||
		strings.Contains(keyLower, "key") && strings.Contains(keyLower, "api")
}
