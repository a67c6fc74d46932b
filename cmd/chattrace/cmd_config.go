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
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	chatconfig "github.com/teradata-labs/chattrace/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chattrace configuration",
	Long:  `Manage configuration files and secrets for chattrace.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example chattrace.yaml in $CHATTRACE_DATA_DIR (default ~/.chattrace).`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources) as YAML, with secrets masked.`,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: heredoc.Doc(`
		Set a non-sensitive configuration value in chattrace.yaml.

		For secrets, use 'chattrace config set-key' instead.

		Examples:
		  chattrace config set tracer.mode langfuse
		  chattrace config set langfuse.host https://langfuse.internal
		  chattrace config set server.port 9099
		  chattrace config set logging.level debug
	`),
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Long: heredoc.Doc(`
		Get a configuration value from chattrace.yaml.

		Examples:
		  chattrace config get tracer.mode
		  chattrace config get server.port
	`),
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save a secret to the system keyring",
	Long: heredoc.Doc(`
		Save a secret to the system keyring.

		The value is stored in your system's secure credential storage
		(Keychain on macOS, Credential Manager on Windows, Secret Service on Linux).

		Run 'chattrace config list-keys' to see available key names.
	`),
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Show a masked secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete a secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	RunE:  runConfigListKeys,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
}

func configFilePath() string {
	return chatconfig.GetDataPath(DefaultConfigFileName + ".yaml")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFilePath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}
	if err := os.WriteFile(configPath, []byte(GenerateExampleConfig()), 0600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", configPath)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Next: chattrace config set-key langfuse_public_key && chattrace config set-key langfuse_secret_key")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	return writeMaskedConfig(cmd.OutOrStdout(), viper.AllSettings(), config)
}

// writeMaskedConfig prints settings as YAML with every secret masked,
// including secrets that only came from the keyring.
func writeMaskedConfig(out io.Writer, settings map[string]interface{}, cfg *Config) error {
	secrets := map[string]string{
		"server.api_key":      cfg.Server.APIKey,
		"langfuse.public_key": cfg.Langfuse.PublicKey,
		"langfuse.secret_key": cfg.Langfuse.SecretKey,
	}
	for path, value := range secrets {
		parts := strings.Split(path, ".")
		section, ok := settings[parts[0]].(map[string]interface{})
		if !ok {
			section = map[string]interface{}{}
			settings[parts[0]] = section
		}
		if value == "" {
			section[parts[1]] = "(not set)"
		} else {
			section[parts[1]] = maskSecret(value)
		}
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	for _, mapping := range GetSecretMappings() {
		if strings.ReplaceAll(key, ".", "_") == mapping.KeyringKey {
			return fmt.Errorf("'%s' is a secret. Use 'chattrace config set-key %s' instead", key, mapping.KeyringKey)
		}
	}

	v, err := readConfigFile(configFilePath())
	if err != nil {
		return err
	}
	inferred := inferType(key, value, v)
	v.Set(key, inferred)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %s = %v\n", key, inferred)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v, err := readConfigFile(configFilePath())
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return fmt.Errorf("key not found: %s", key)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", key, v.Get(key))
	return nil
}

func readConfigFile(path string) (*viper.Viper, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s (run 'chattrace config init' to create one)", path)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return v, nil
}

// inferType converts value to the type of the existing setting, falling back
// to bool and int detection for new keys.
func inferType(key, value string, v *viper.Viper) interface{} {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case bool:
			if b, err := strconv.ParseBool(value); err == nil {
				return b
			}
		case int, int64:
			if i, err := strconv.Atoi(value); err == nil {
				return i
			}
		case float64:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				return f
			}
		case []interface{}:
			return splitList(value)
		}
		return value
	}

	if strings.HasSuffix(key, "port") || strings.HasSuffix(key, "priority") || strings.HasSuffix(key, "batch_size") {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	if value == "true" || value == "false" {
		return value == "true"
	}
	return value
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validSecretKey(name string) bool {
	for _, k := range ListAvailableSecretKeys() {
		if k == name {
			return true
		}
	}
	return false
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	if !validSecretKey(keyName) {
		return fmt.Errorf("invalid key name: %s (available: %s)", keyName, strings.Join(ListAvailableSecretKeys(), ", "))
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}

	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}
	if err := SaveSecretToKeyring(keyName, secret); err != nil {
		return fmt.Errorf("error saving to keyring: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s to system keyring\n", keyName)
	return nil
}

func runConfigGetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	secret, err := GetSecretFromKeyring(keyName)
	if err != nil {
		return fmt.Errorf("key not found in keyring (set it with: chattrace config set-key %s): %w", keyName, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", keyName, maskSecret(secret))
	return nil
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	if err := DeleteSecretFromKeyring(keyName); err != nil {
		return fmt.Errorf("error deleting key: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s from system keyring\n", keyName)
	return nil
}

func runConfigListKeys(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "Available secret keys:")
	for _, key := range ListAvailableSecretKeys() {
		_, _ = fmt.Fprintf(out, "  - %s\n", key)
	}
	return nil
}

// maskSecret masks a secret for display.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
