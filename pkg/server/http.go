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

// Package server exposes filter pipelines over the pipelines HTTP protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/chattrace/internal/log"
	"github.com/teradata-labs/chattrace/pkg/filter"
	"github.com/teradata-labs/chattrace/pkg/metrics"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// HTTPServer serves filter pipelines to a chat frontend.
type HTTPServer struct {
	pipelines  map[string]*filter.Pipeline
	order      []string
	httpServer *http.Server
	logger     *zap.Logger
	corsConfig CORSConfig
	apiKey     string
	metrics    *metrics.Metrics
	created    int64
}

// NewHTTPServer creates an HTTP server for the given pipelines.
func NewHTTPServer(httpAddr string, pipelines []*filter.Pipeline, logger *zap.Logger) *HTTPServer {
	return NewHTTPServerWithCORS(httpAddr, pipelines, logger, DefaultCORSConfig())
}

// NewHTTPServerWithCORS creates an HTTP server with custom CORS configuration
func NewHTTPServerWithCORS(httpAddr string, pipelines []*filter.Pipeline, logger *zap.Logger, corsConfig CORSConfig) *HTTPServer {
	if logger == nil {
		logger = log.Logger()
	}

	h := &HTTPServer{
		pipelines:  make(map[string]*filter.Pipeline, len(pipelines)),
		logger:     logger,
		corsConfig: corsConfig,
		created:    time.Now().Unix(),
		httpServer: &http.Server{
			Addr:              httpAddr,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
	for _, p := range pipelines {
		if _, dup := h.pipelines[p.ID()]; dup {
			logger.Warn("duplicate pipeline id ignored", zap.String("id", p.ID()))
			continue
		}
		h.pipelines[p.ID()] = p
		h.order = append(h.order, p.ID())
	}
	return h
}

// SetAPIKey requires "Authorization: Bearer <key>" on protected routes.
// An empty key disables authentication. Must be called before Start().
func (h *HTTPServer) SetAPIKey(key string) {
	h.apiKey = key
}

// SetMetrics records request metrics on m and serves them on /metrics.
// Must be called before Start().
func (h *HTTPServer) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Addr returns the configured listen address.
func (h *HTTPServer) Addr() string {
	return h.httpServer.Addr
}

// Handler builds the full handler chain.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /{$}", h.handleStatus)
	mux.HandleFunc("GET /v1", h.handleStatus)
	mux.HandleFunc("GET /v1/{$}", h.handleStatus)
	mux.HandleFunc("GET /models", h.handleModels)
	mux.HandleFunc("GET /v1/models", h.handleModels)

	mux.HandleFunc("POST /{id}/filter/inlet", h.handleInlet)
	mux.HandleFunc("POST /v1/{id}/filter/inlet", h.handleInlet)
	mux.HandleFunc("POST /{id}/filter/outlet", h.handleOutlet)
	mux.HandleFunc("POST /v1/{id}/filter/outlet", h.handleOutlet)

	mux.HandleFunc("GET /{id}/valves", h.handleGetValves)
	mux.HandleFunc("GET /{id}/valves/spec", h.handleValvesSpec)
	mux.HandleFunc("POST /{id}/valves/update", h.handleUpdateValves)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	var handler http.Handler = h.authMiddleware(mux)
	handler = h.metricsMiddleware(handler)
	if h.corsConfig.Enabled {
		handler = h.corsMiddleware(handler)
	}
	return handler
}

// Start starts the HTTP server. It blocks until the server stops.
func (h *HTTPServer) Start(ctx context.Context) error {
	h.httpServer.Handler = h.Handler()

	h.logger.Info("Starting HTTP server",
		zap.String("addr", h.httpServer.Addr),
		zap.Strings("pipelines", h.order),
		zap.Bool("auth", h.apiKey != ""))
	if err := h.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server, then flushes and closes every
// pipeline's tracing client.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server")
	var errs []error
	if err := h.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	for _, id := range h.order {
		if err := h.pipelines[id].Close(ctx); err != nil {
			h.logger.Warn("closing pipeline", zap.String("id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("pipeline %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// corsMiddleware adds CORS headers to HTTP responses
func (h *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigin := h.getAllowedOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		}

		if h.corsConfig.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(h.corsConfig.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(h.corsConfig.AllowedMethods, ", "))
		}
		if len(h.corsConfig.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(h.corsConfig.AllowedHeaders, ", "))
		}
		if len(h.corsConfig.ExposedHeaders) > 0 {
			w.Header().Set("Access-Control-Expose-Headers", strings.Join(h.corsConfig.ExposedHeaders, ", "))
		}
		if h.corsConfig.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", h.corsConfig.MaxAge))
		}

		// Preflight never reaches auth.
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getAllowedOrigin checks if the origin is allowed and returns it, or empty string if not
func (h *HTTPServer) getAllowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}

	for _, allowed := range h.corsConfig.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}

	return ""
}
