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
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/chattrace/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chattrace",
	Short: "Langfuse filter pipeline for chat frontends",
	Long: heredoc.Doc(`
		chattrace hosts filter pipelines that trace every chat turn.

		The inlet endpoint opens a trace per conversation and a generation or
		event per task. The outlet endpoint closes it with the assistant reply
		and token usage. Traces go to Langfuse or any OTLP collector.
	`),
	Version: version.String(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $CHATTRACE_DATA_DIR/chattrace.yaml)")

	// Server flags
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "HTTP listen host")
	rootCmd.PersistentFlags().Int("port", 9099, "HTTP listen port")
	rootCmd.PersistentFlags().String("api-key", "", "API key required as a bearer token (or use keyring/env)")

	// Tracing flags
	rootCmd.PersistentFlags().String("mode", "auto", "tracer mode (auto, langfuse, otlp, none)")
	rootCmd.PersistentFlags().String("langfuse-host", "", "Langfuse base URL")
	rootCmd.PersistentFlags().String("langfuse-public-key", "", "Langfuse public key (or use keyring/env)")
	rootCmd.PersistentFlags().String("langfuse-secret-key", "", "Langfuse secret key (or use keyring/env)")
	rootCmd.PersistentFlags().Bool("langfuse-debug", false, "log every exported batch")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP/HTTP traces endpoint")

	// Filter flags
	rootCmd.PersistentFlags().StringSlice("generation-tasks", nil, "task names recorded as generations (default: llm_response)")
	rootCmd.PersistentFlags().Bool("use-model-name", false, "report model display names on generations")
	rootCmd.PersistentFlags().String("filters-file", "", "FilterSet manifest hosting several filters")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (text, json)")

	_ = viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("server.api_key", rootCmd.PersistentFlags().Lookup("api-key"))

	_ = viper.BindPFlag("tracer.mode", rootCmd.PersistentFlags().Lookup("mode"))
	_ = viper.BindPFlag("langfuse.host", rootCmd.PersistentFlags().Lookup("langfuse-host"))
	_ = viper.BindPFlag("langfuse.public_key", rootCmd.PersistentFlags().Lookup("langfuse-public-key"))
	_ = viper.BindPFlag("langfuse.secret_key", rootCmd.PersistentFlags().Lookup("langfuse-secret-key"))
	_ = viper.BindPFlag("langfuse.debug", rootCmd.PersistentFlags().Lookup("langfuse-debug"))
	_ = viper.BindPFlag("tracer.otlp_endpoint", rootCmd.PersistentFlags().Lookup("otlp-endpoint"))

	_ = viper.BindPFlag("filter.generation_tasks", rootCmd.PersistentFlags().Lookup("generation-tasks"))
	_ = viper.BindPFlag("filter.use_model_name", rootCmd.PersistentFlags().Lookup("use-model-name"))
	_ = viper.BindPFlag("filter.filters_file", rootCmd.PersistentFlags().Lookup("filters-file"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
