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
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ClientMode specifies which client implementation to use
type ClientMode string

const (
	// ClientModeAuto selects a client based on which credentials are present
	ClientModeAuto ClientMode = "auto"

	// ClientModeLangfuse uses the Langfuse ingestion API
	ClientModeLangfuse ClientMode = "langfuse"

	// ClientModeOTLP uses an OpenTelemetry OTLP/HTTP exporter
	ClientModeOTLP ClientMode = "otlp"

	// ClientModeNone disables tracing
	ClientModeNone ClientMode = "none"
)

// ValidModes lists the accepted ClientMode values.
var ValidModes = []ClientMode{ClientModeAuto, ClientModeLangfuse, ClientModeOTLP, ClientModeNone}

// ClientConfig provides configuration for client selection
type ClientConfig struct {
	// Mode: "auto", "langfuse", "otlp", or "none"
	Mode ClientMode

	// Langfuse settings (langfuse mode)
	Langfuse LangfuseConfig

	// OTLP settings (otlp mode)
	OTLP OTLPConfig

	// Logger for client operations
	Logger *zap.Logger
}

// NewClientFromConfig creates a client based on the selection logic.
//
// Selection priority (when Mode=auto):
// 1. Langfuse when both public and secret keys are set
// 2. OTLP when an endpoint is set
// 3. NoOp otherwise
func NewClientFromConfig(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	switch config.Mode {
	case ClientModeLangfuse:
		return newLangfuse(config)
	case ClientModeOTLP:
		return newOTLP(ctx, config)
	case ClientModeNone:
		return NewNoOpClient(), nil
	case ClientModeAuto, "":
		return autoSelectClient(ctx, config)
	default:
		return nil, fmt.Errorf("unknown tracer mode: %s (supported: auto, langfuse, otlp, none)", config.Mode)
	}
}

func autoSelectClient(ctx context.Context, config *ClientConfig) (Client, error) {
	logger := config.Logger

	if isLangfuseAvailable(config) {
		logger.Info("auto-selecting langfuse client",
			zap.String("host", config.Langfuse.Host),
			zap.String("reason", "public and secret keys configured"),
		)
		return newLangfuse(config)
	}

	if config.OTLP.Endpoint != "" {
		logger.Info("auto-selecting otlp client",
			zap.String("endpoint", config.OTLP.Endpoint),
			zap.String("reason", "langfuse keys missing, otlp endpoint configured"),
		)
		return newOTLP(ctx, config)
	}

	logger.Info("no tracing backend configured, using no-op client",
		zap.String("mode", string(ClientModeAuto)),
	)
	return NewNoOpClient(), nil
}

func isLangfuseAvailable(config *ClientConfig) bool {
	return config.Langfuse.PublicKey != "" && config.Langfuse.SecretKey != ""
}

func newLangfuse(config *ClientConfig) (Client, error) {
	lc := config.Langfuse
	if lc.Logger == nil {
		lc.Logger = config.Logger
	}
	return NewLangfuseClient(lc)
}

func newOTLP(ctx context.Context, config *ClientConfig) (Client, error) {
	oc := config.OTLP
	if oc.Logger == nil {
		oc.Logger = config.Logger
	}
	return NewOTLPClient(ctx, oc)
}

// ParseMode validates a mode string.
func ParseMode(s string) (ClientMode, error) {
	for _, m := range ValidModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown tracer mode: %s (supported: auto, langfuse, otlp, none)", s)
}
