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
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/teradata-labs/chattrace/pkg/filter"
)

// maxBodyBytes bounds filter and valves request bodies.
const maxBodyBytes = 16 << 20

// FilterRequest is the payload of the inlet and outlet endpoints.
type FilterRequest struct {
	Body map[string]interface{} `json:"body"`
	User map[string]interface{} `json:"user"`
}

// PipelineInfo describes the filter half of a model listing entry.
type PipelineInfo struct {
	Type      string   `json:"type"`
	Pipelines []string `json:"pipelines"`
	Priority  int      `json:"priority"`
	Valves    bool     `json:"valves"`
}

// ModelEntry is one entry of GET /models.
type ModelEntry struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	OwnedBy  string       `json:"owned_by"`
	Pipeline PipelineInfo `json:"pipeline"`
}

// ModelList is the response of GET /models.
type ModelList struct {
	Data      []ModelEntry `json:"data"`
	Object    string       `json:"object"`
	Pipelines bool         `json:"pipelines"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (h *HTTPServer) handleModels(w http.ResponseWriter, r *http.Request) {
	list := ModelList{Data: make([]ModelEntry, 0, len(h.order)), Object: "list", Pipelines: true}
	for _, id := range h.order {
		p := h.pipelines[id]
		valves := p.Valves()
		list.Data = append(list.Data, ModelEntry{
			ID:      p.ID(),
			Name:    p.Name(),
			Object:  "model",
			Created: h.created,
			OwnedBy: "openai",
			Pipeline: PipelineInfo{
				Type:      "filter",
				Pipelines: valves.Pipelines,
				Priority:  valves.Priority,
				Valves:    true,
			},
		})
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *HTTPServer) handleInlet(w http.ResponseWriter, r *http.Request) {
	h.handleFilter(w, r, "inlet", (*filter.Pipeline).Inlet)
}

func (h *HTTPServer) handleOutlet(w http.ResponseWriter, r *http.Request) {
	h.handleFilter(w, r, "outlet", (*filter.Pipeline).Outlet)
}

type filterFunc func(p *filter.Pipeline, ctx context.Context, body, user map[string]interface{}) (map[string]interface{}, error)

func (h *HTTPServer) handleFilter(w http.ResponseWriter, r *http.Request, phase string, fn filterFunc) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req FilterRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s request: %v", phase, err))
		return
	}

	out, err := fn(p, r.Context(), req.Body, req.User)
	if err != nil {
		if errors.Is(err, filter.ErrNilBody) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("filter failed", zap.String("pipeline", p.ID()), zap.String("phase", phase), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPServer) handleGetValves(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Valves().Masked())
}

func (h *HTTPServer) handleValvesSpec(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.lookup(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, filter.ValvesSchema())
}

func (h *HTTPServer) handleUpdateValves(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read valves: %v", err))
		return
	}
	next, err := filter.MergeValves(p.Valves(), raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := p.UpdateValves(r.Context(), next); err != nil {
		h.logger.Error("valves update failed", zap.String("pipeline", p.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p.Valves().Masked())
}

// lookup resolves the {id} path value or writes a 404.
func (h *HTTPServer) lookup(w http.ResponseWriter, r *http.Request) (*filter.Pipeline, bool) {
	id := r.PathValue("id")
	p, ok := h.pipelines[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Filter %s not found", id))
		return nil, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
