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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/chattrace/internal/log"
	chatconfig "github.com/teradata-labs/chattrace/pkg/config"
	"github.com/teradata-labs/chattrace/pkg/filter"
	"github.com/teradata-labs/chattrace/pkg/metrics"
	"github.com/teradata-labs/chattrace/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the filter pipeline server",
	Long: heredoc.Doc(`
		Start the pipelines HTTP server.

		The server will:
		- Build one filter per configured pipeline (or per filters_file entry)
		- Connect each filter to Langfuse, an OTLP collector, or nothing
		- Serve inlet, outlet and valves endpoints plus /metrics

		Press Ctrl+C to gracefully shutdown. Buffered traces are flushed first.
	`),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := log.New(log.Options{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
		File:   config.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	log.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting chattrace", zap.String("version", rootCmd.Version))
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found",
			zap.String("searched", "$CHATTRACE_DATA_DIR/chattrace.yaml, ./chattrace.yaml, /etc/chattrace/chattrace.yaml"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	pipelines, err := buildPipelines(ctx, config, logger, m)
	if err != nil {
		return err
	}

	watchers := startModelWatchers(ctx, config, pipelines, logger.Named("models"))
	defer stopWatchers(watchers)

	httpSrv := server.NewHTTPServerWithCORS(config.Addr(), pipelines, logger.Named("http"), config.CORS())
	httpSrv.SetAPIKey(config.Server.APIKey)
	httpSrv.SetMetrics(m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		// Listener failed before any signal; still flush what was recorded.
		closeCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
		defer cancel()
		_ = httpSrv.Stop(closeCtx)
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully... (press Ctrl+C again to force)")
	stop()
	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
		<-sigch
		logger.Warn("Force shutdown requested")
		os.Exit(1)
	}()

	timeout := config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping HTTP server", zap.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("HTTP server exited with error", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// buildPipelines creates every configured filter. Tracing failures inside a
// filter are not fatal; configuration errors are.
func buildPipelines(ctx context.Context, cfg *Config, logger *zap.Logger, m *metrics.Metrics) ([]*filter.Pipeline, error) {
	configs, err := cfg.FilterConfigs()
	if err != nil {
		return nil, fmt.Errorf("load filters: %w", err)
	}

	pipelines := make([]*filter.Pipeline, 0, len(configs))
	for _, fc := range configs {
		p, err := filter.New(ctx, fc, filter.WithLogger(logger.Named("filter")), filter.WithMetrics(m))
		if err != nil {
			for _, built := range pipelines {
				_ = built.Close(ctx)
			}
			return nil, fmt.Errorf("create filter %q: %w", fc.ID, err)
		}
		logger.Info("Filter ready",
			zap.String("id", p.ID()),
			zap.String("name", p.Name()),
			zap.Int("models", p.Models().Len()),
			zap.Strings("pipelines", p.Valves().Pipelines))
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

// startModelWatchers hot-reloads each filter's models_file into its model
// directory. A watcher that cannot start is logged and skipped.
func startModelWatchers(ctx context.Context, cfg *Config, pipelines []*filter.Pipeline, logger *zap.Logger) []*chatconfig.ModelsWatcher {
	sources, err := cfg.ModelsSources()
	if err != nil {
		logger.Warn("Models hot-reload disabled", zap.Error(err))
		return nil
	}

	byID := make(map[string]*filter.Pipeline, len(pipelines))
	for _, p := range pipelines {
		byID[p.ID()] = p
	}

	var watchers []*chatconfig.ModelsWatcher
	for _, src := range sources {
		p, ok := byID[src.FilterID]
		if !ok {
			continue
		}
		w, err := chatconfig.NewModelsWatcher(src.Path, chatconfig.ModelsWatchConfig{
			Logger:   logger.With(zap.String("filter", src.FilterID)),
			OnUpdate: applyModels(p.Models(), src.Inline),
		})
		if err != nil {
			logger.Warn("Cannot watch models file", zap.String("path", src.Path), zap.Error(err))
			continue
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Stop()
			logger.Warn("Cannot watch models file", zap.String("path", src.Path), zap.Error(err))
			continue
		}
		watchers = append(watchers, w)
	}
	return watchers
}

// applyModels returns a reload callback that upserts file entries. Chats
// with an inline entry are skipped.
func applyModels(dir *filter.ModelDirectory, inline map[string]filter.ModelInfo) func(map[string]chatconfig.ModelYAML) {
	return func(fileModels map[string]chatconfig.ModelYAML) {
		for chatID, m := range fileModels {
			if _, ok := inline[chatID]; ok {
				continue
			}
			dir.Set(chatID, filter.ModelInfo{ID: m.ID, Name: m.Name})
		}
	}
}

func stopWatchers(watchers []*chatconfig.ModelsWatcher) {
	for _, w := range watchers {
		_ = w.Stop()
	}
}
