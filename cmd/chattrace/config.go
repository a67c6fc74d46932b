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
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	"github.com/teradata-labs/chattrace/internal/version"
	chatconfig "github.com/teradata-labs/chattrace/pkg/config"
	"github.com/teradata-labs/chattrace/pkg/filter"
	"github.com/teradata-labs/chattrace/pkg/observability"
	"github.com/teradata-labs/chattrace/pkg/server"
)

const (
	// ServiceName for keyring storage
	ServiceName = "chattrace"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "chattrace"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CHATTRACE"
)

// Config holds all configuration for the chattrace server.
// Priority: CLI flags > environment > config file > defaults
type Config struct {
	Server   ServerConfig                `mapstructure:"server"`
	Langfuse LangfuseConfig              `mapstructure:"langfuse"`
	Tracer   TracerConfig                `mapstructure:"tracer"`
	Filter   FilterConfig                `mapstructure:"filter"`
	Privacy  observability.PrivacyConfig `mapstructure:"privacy"`
	Logging  LoggingConfig               `mapstructure:"logging"`

	// DataDir is CHATTRACE_DATA_DIR or ~/.chattrace; not read from the file.
	DataDir string `mapstructure:"-"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string           `mapstructure:"host"`
	Port            int              `mapstructure:"port"`
	APIKey          string           `mapstructure:"api_key"` // From CLI/env/keyring only
	ShutdownTimeout time.Duration    `mapstructure:"shutdown_timeout"`
	CORS            CORSServerConfig `mapstructure:"cors"`
}

// CORSServerConfig holds CORS configuration for HTTP endpoints.
//
// The default wildcard origin suits a chat frontend on another host. With
// allow_credentials, list explicit origins.
type CORSServerConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// LangfuseConfig holds the initial Langfuse valves and client tuning.
type LangfuseConfig struct {
	Host          string        `mapstructure:"host"`
	PublicKey     string        `mapstructure:"public_key"` // From CLI/env/keyring only
	SecretKey     string        `mapstructure:"secret_key"` // From CLI/env/keyring only
	Debug         bool          `mapstructure:"debug"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	AuthTimeout   time.Duration `mapstructure:"auth_timeout"`
}

// TracerConfig selects the tracing backend.
type TracerConfig struct {
	Mode          string            `mapstructure:"mode"` // auto, langfuse, otlp, none
	OTLPEndpoint  string            `mapstructure:"otlp_endpoint"`
	OTLPHeaders   map[string]string `mapstructure:"otlp_headers"`
	ServiceName   string            `mapstructure:"service_name"`
	ExportTimeout time.Duration     `mapstructure:"export_timeout"`
}

// FilterConfig describes the single filter served when no filters_file is set.
type FilterConfig struct {
	ID              string                      `mapstructure:"id"`
	Name            string                      `mapstructure:"name"`
	Pipelines       []string                    `mapstructure:"pipelines"`
	Priority        int                         `mapstructure:"priority"`
	GenerationTasks []string                    `mapstructure:"generation_tasks"`
	UseModelName    bool                        `mapstructure:"use_model_name"`
	Models          map[string]filter.ModelInfo `mapstructure:"models"`
	ModelsFile      string                      `mapstructure:"models_file"`
	WatchModels     bool                        `mapstructure:"watch_models"` // reload models files on change

	// FiltersFile is a FilterSet manifest hosting several filters.
	FiltersFile string `mapstructure:"filters_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // optional output file
}

// LoadConfig loads configuration from multiple sources with proper priority:
// 1. Command line flags (highest priority)
// 2. Environment variables (CHATTRACE_SECTION_KEY)
// 3. Config file
// 4. Defaults (lowest priority)
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(chatconfig.GetDataDir()) // respects CHATTRACE_DATA_DIR
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/chattrace/")
		viper.SetConfigName(DefaultConfigFileName) // chattrace.yaml
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.DataDir = chatconfig.GetDataDir()

	// Non-fatal: the keyring may be unavailable (headless hosts, containers).
	_ = loadSecretsFromKeyring(&config)

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 9099)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	// Empty defaults register keys so CHATTRACE_* overrides reach Unmarshal.
	viper.SetDefault("server.api_key", "")

	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("server.cors.allowed_headers", []string{"*"})
	viper.SetDefault("server.cors.exposed_headers", []string{"Content-Length", "Content-Type"})
	viper.SetDefault("server.cors.allow_credentials", false)
	viper.SetDefault("server.cors.max_age", 86400)

	viper.SetDefault("langfuse.host", observability.DefaultLangfuseHost)
	viper.SetDefault("langfuse.public_key", "")
	viper.SetDefault("langfuse.secret_key", "")
	viper.SetDefault("langfuse.debug", false)
	viper.SetDefault("langfuse.batch_size", 100)
	viper.SetDefault("langfuse.flush_interval", 10*time.Second)
	viper.SetDefault("langfuse.auth_timeout", 10*time.Second)

	viper.SetDefault("tracer.mode", string(observability.ClientModeAuto))
	viper.SetDefault("tracer.otlp_endpoint", "")
	viper.SetDefault("tracer.service_name", "")
	viper.SetDefault("tracer.export_timeout", 10*time.Second)

	viper.SetDefault("filter.id", filter.DefaultID)
	viper.SetDefault("filter.name", filter.DefaultName)
	viper.SetDefault("filter.pipelines", []string{"*"})
	viper.SetDefault("filter.priority", 0)
	viper.SetDefault("filter.generation_tasks", []string{filter.DefaultTaskName})
	viper.SetDefault("filter.use_model_name", false)
	viper.SetDefault("filter.models_file", "")
	viper.SetDefault("filter.watch_models", true)
	viper.SetDefault("filter.filters_file", "")

	viper.SetDefault("privacy.redact_credentials", false)
	viper.SetDefault("privacy.redact_pii", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file", "")
}

// SecretMapping defines how to load a secret from keyring into the config.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool // true when already set; skips the keyring
}

// GetSecretMappings returns all secret mappings for the application.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "langfuse_secret_key",
			Setter:     func(c *Config, val string) { c.Langfuse.SecretKey = val },
			IsSet:      func(c *Config) bool { return c.Langfuse.SecretKey != "" },
		},
		{
			KeyringKey: "langfuse_public_key",
			Setter:     func(c *Config, val string) { c.Langfuse.PublicKey = val },
			IsSet:      func(c *Config) bool { return c.Langfuse.PublicKey != "" },
		},
		{
			KeyringKey: "server_api_key",
			Setter:     func(c *Config, val string) { c.Server.APIKey = val },
			IsSet:      func(c *Config) bool { return c.Server.APIKey != "" },
		},
	}
}

// loadSecretsFromKeyring fills unset secrets from the system keyring.
func loadSecretsFromKeyring(config *Config) error {
	for _, mapping := range GetSecretMappings() {
		if mapping.IsSet(config) {
			continue
		}
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
	}
	return nil
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns all known secret keys that can be stored in the keyring.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, mapping := range mappings {
		keys[i] = mapping.KeyringKey
	}
	return keys
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	mode, err := observability.ParseMode(c.Tracer.Mode)
	if err != nil {
		return fmt.Errorf("tracer.mode: %w", err)
	}

	switch mode {
	case observability.ClientModeLangfuse:
		if err := c.validateLangfuseKeys(); err != nil {
			return err
		}
	case observability.ClientModeOTLP:
		if c.Tracer.OTLPEndpoint == "" {
			return fmt.Errorf("otlp mode requires tracer.otlp_endpoint")
		}
	}

	if c.Langfuse.Host != "" && !strings.HasPrefix(c.Langfuse.Host, "http://") && !strings.HasPrefix(c.Langfuse.Host, "https://") {
		return fmt.Errorf("langfuse.host must be an http(s) URL: %s", c.Langfuse.Host)
	}
	if c.Filter.Priority < 0 {
		return fmt.Errorf("filter.priority must be >= 0")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text", "console":
	default:
		return fmt.Errorf("unsupported logging.format: %s (must be json or text)", c.Logging.Format)
	}
	return nil
}

// validateLangfuseKeys requires keys on every hosted filter. With a
// filters_file, each filter's own valves may supply them.
func (c *Config) validateLangfuseKeys() error {
	if c.Filter.FiltersFile == "" {
		if c.Langfuse.PublicKey == "" || c.Langfuse.SecretKey == "" {
			return fmt.Errorf("langfuse mode requires both keys (set via CHATTRACE_LANGFUSE_PUBLIC_KEY / CHATTRACE_LANGFUSE_SECRET_KEY, or save to keyring with 'chattrace config set-key langfuse_secret_key')")
		}
		return nil
	}

	set, err := chatconfig.LoadFilterSet(chatconfig.ResolvePath(c.DataDir, c.Filter.FiltersFile))
	if err != nil {
		return fmt.Errorf("filter.filters_file: %w", err)
	}
	defaults := c.defaultValves()
	for _, f := range set.Spec.Filters {
		v := mergeValvesYAML(defaults, f.Valves)
		if v.PublicKey == "" || v.SecretKey == "" {
			return fmt.Errorf("langfuse mode requires both keys for filter %q (set them in its valves or in the [langfuse] section)", f.ID)
		}
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CORS converts the CORS section to the server's type.
func (c *Config) CORS() server.CORSConfig {
	cors := c.Server.CORS
	return server.CORSConfig{
		Enabled:          cors.Enabled,
		AllowedOrigins:   cors.AllowedOrigins,
		AllowedMethods:   cors.AllowedMethods,
		AllowedHeaders:   cors.AllowedHeaders,
		ExposedHeaders:   cors.ExposedHeaders,
		AllowCredentials: cors.AllowCredentials,
		MaxAge:           cors.MaxAge,
	}
}

// FilterConfigs builds one filter.Config per hosted filter: either the
// entries of filters_file or the single [filter] section.
func (c *Config) FilterConfigs() ([]filter.Config, error) {
	base := filter.Config{
		Mode:          observability.ClientMode(c.Tracer.Mode),
		Privacy:       c.Privacy,
		Release:       version.Get(),
		BatchSize:     c.Langfuse.BatchSize,
		FlushInterval: c.Langfuse.FlushInterval,
		AuthTimeout:   c.Langfuse.AuthTimeout,
		OTLP: observability.OTLPConfig{
			Endpoint:      c.Tracer.OTLPEndpoint,
			Headers:       c.Tracer.OTLPHeaders,
			ServiceName:   c.Tracer.ServiceName,
			ExportTimeout: c.Tracer.ExportTimeout,
		},
	}
	defaults := c.defaultValves()

	if c.Filter.FiltersFile == "" {
		fc := base
		fc.ID = c.Filter.ID
		fc.Name = c.Filter.Name
		fc.GenerationTasks = c.Filter.GenerationTasks
		fc.Valves = defaults
		fc.Valves.Pipelines = c.Filter.Pipelines
		fc.Valves.Priority = c.Filter.Priority
		fc.Models = map[string]filter.ModelInfo{}
		if c.Filter.ModelsFile != "" {
			models, err := chatconfig.LoadModels(chatconfig.ResolvePath(c.DataDir, c.Filter.ModelsFile))
			if err != nil {
				return nil, err
			}
			for chatID, m := range models {
				fc.Models[chatID] = filter.ModelInfo{ID: m.ID, Name: m.Name}
			}
		}
		for chatID, m := range c.Filter.Models {
			fc.Models[chatID] = m
		}
		return []filter.Config{fc}, nil
	}

	set, err := chatconfig.LoadFilterSet(chatconfig.ResolvePath(c.DataDir, c.Filter.FiltersFile))
	if err != nil {
		return nil, err
	}
	out := make([]filter.Config, 0, len(set.Spec.Filters))
	for _, f := range set.Spec.Filters {
		fc := base
		fc.ID = f.ID
		fc.Name = f.Name
		fc.GenerationTasks = f.GenerationTasks
		fc.Valves = mergeValvesYAML(defaults, f.Valves)
		fc.Models = make(map[string]filter.ModelInfo, len(f.Models))
		for chatID, m := range f.Models {
			fc.Models[chatID] = filter.ModelInfo{ID: m.ID, Name: m.Name}
		}
		out = append(out, fc)
	}
	return out, nil
}

func (c *Config) defaultValves() filter.Valves {
	v := filter.DefaultValves()
	if c.Langfuse.Host != "" {
		v.Host = c.Langfuse.Host
	}
	v.PublicKey = c.Langfuse.PublicKey
	v.SecretKey = c.Langfuse.SecretKey
	v.Debug = c.Langfuse.Debug
	v.UseModelNameInsteadOfIDForGeneration = c.Filter.UseModelName
	return v
}

// ModelsSource ties a hosted filter to the models file seeding it.
type ModelsSource struct {
	FilterID string
	Path     string
	Inline   map[string]filter.ModelInfo
}

// ModelsSources lists the models files to watch. Empty when
// filter.watch_models is off.
func (c *Config) ModelsSources() ([]ModelsSource, error) {
	if !c.Filter.WatchModels {
		return nil, nil
	}

	if c.Filter.FiltersFile == "" {
		if c.Filter.ModelsFile == "" {
			return nil, nil
		}
		return []ModelsSource{{
			FilterID: filterID(c.Filter.ID),
			Path:     chatconfig.ResolvePath(c.DataDir, c.Filter.ModelsFile),
			Inline:   c.Filter.Models,
		}}, nil
	}

	set, err := chatconfig.LoadFilterSet(chatconfig.ResolvePath(c.DataDir, c.Filter.FiltersFile))
	if err != nil {
		return nil, err
	}
	var out []ModelsSource
	for i := range set.Spec.Filters {
		f := &set.Spec.Filters[i]
		if f.ModelsFile == "" {
			continue
		}
		inline := make(map[string]filter.ModelInfo)
		for chatID, m := range f.InlineModels() {
			inline[chatID] = filter.ModelInfo{ID: m.ID, Name: m.Name}
		}
		out = append(out, ModelsSource{FilterID: filterID(f.ID), Path: f.ModelsFile, Inline: inline})
	}
	return out, nil
}

func filterID(id string) string {
	if id == "" {
		return filter.DefaultID
	}
	return id
}

// mergeValvesYAML overlays manifest valves on the server-wide defaults.
func mergeValvesYAML(defaults filter.Valves, y chatconfig.ValvesYAML) filter.Valves {
	v := defaults
	if len(y.Pipelines) > 0 {
		v.Pipelines = y.Pipelines
	}
	v.Priority = y.Priority
	if y.Host != "" {
		v.Host = y.Host
	}
	if y.PublicKey != "" {
		v.PublicKey = y.PublicKey
	}
	if y.SecretKey != "" {
		v.SecretKey = y.SecretKey
	}
	v.Debug = v.Debug || y.Debug
	v.UseModelNameInsteadOfIDForGeneration = v.UseModelNameInsteadOfIDForGeneration || y.UseModelName
	return v
}

// GenerateExampleConfig generates an example configuration file.
func GenerateExampleConfig() string {
	return heredoc.Doc(`
		# chattrace configuration
		# Priority: CLI flags > environment (CHATTRACE_*) > this file > defaults

		server:
		  host: 0.0.0.0
		  port: 9099
		  shutdown_timeout: 10s
		  # api_key: set via keyring (chattrace config set-key server_api_key)
		  cors:
		    enabled: true
		    allowed_origins: ["*"]

		langfuse:
		  host: https://cloud.langfuse.com
		  # public_key: set via keyring (chattrace config set-key langfuse_public_key)
		  # secret_key: set via keyring (chattrace config set-key langfuse_secret_key)
		  debug: false
		  batch_size: 100
		  flush_interval: 10s
		  auth_timeout: 10s

		tracer:
		  # auto picks langfuse when both keys are set, otlp when an endpoint is set, else none
		  mode: auto
		  # otlp_endpoint: https://cloud.langfuse.com/api/public/otel/v1/traces
		  # otlp_headers:
		  #   x-tenant: team-a

		filter:
		  id: langfuse_filter_pipeline
		  name: Langfuse Filter
		  pipelines: ["*"]
		  priority: 0
		  generation_tasks: [llm_response]
		  use_model_name: false
		  # models_file: models.yaml
		  watch_models: true
		  # filters_file: filters.yaml

		privacy:
		  redact_credentials: false
		  redact_pii: false

		logging:
		  level: info
		  format: json
		  # file: /var/log/chattrace.log
	`)
}
