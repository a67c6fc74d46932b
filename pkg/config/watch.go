// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce is the quiet period before a changed models file is reloaded.
const DefaultWatchDebounce = 500 * time.Millisecond

// ModelsWatchConfig configures a ModelsWatcher.
type ModelsWatchConfig struct {
	Debounce time.Duration // default: DefaultWatchDebounce
	Logger   *zap.Logger
	// OnUpdate receives the full file contents after each successful reload.
	OnUpdate func(models map[string]ModelYAML)
}

// ModelsWatcher reloads a models file when it changes on disk. A file that
// fails to parse is logged and the previous models stay in place.
type ModelsWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	config  ModelsWatchConfig
	logger  *zap.Logger

	timerMu sync.Mutex
	timer   *time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewModelsWatcher creates a watcher for path. Call Start to begin watching.
func NewModelsWatcher(path string, config ModelsWatchConfig) (*ModelsWatcher, error) {
	if config.OnUpdate == nil {
		return nil, fmt.Errorf("models watcher requires OnUpdate")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultWatchDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &ModelsWatcher{
		path:    abs,
		watcher: watcher,
		config:  config,
		logger:  config.Logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (w *ModelsWatcher) Path() string { return w.path }

// Start watches the file's directory, so editors that save by renaming a
// temp file over the original are still seen.
func (w *ModelsWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info("Watching models file",
		zap.String("path", w.path),
		zap.Duration("debounce", w.config.Debounce))

	go w.watchLoop(ctx)
	return nil
}

// Stop ends the watch loop and cancels any pending reload.
func (w *ModelsWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

func (w *ModelsWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *ModelsWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	// Removal keeps the last good models.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, w.reload)
}

func (w *ModelsWatcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	models, err := LoadModels(w.path)
	if err != nil {
		w.logger.Error("Models file reload failed, keeping previous models",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.logger.Info("Models file reloaded",
		zap.String("path", w.path),
		zap.Int("models", len(models)))
	w.config.OnUpdate(models)
}
