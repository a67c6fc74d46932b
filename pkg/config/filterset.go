// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// FilterSetAPIVersion is the only supported manifest version.
	FilterSetAPIVersion = "chattrace/v1"
	// FilterSetKind is the manifest kind.
	FilterSetKind = "FilterSet"
)

// FilterSetYAML represents the YAML structure of a filter-set manifest
type FilterSetYAML struct {
	APIVersion string                `yaml:"apiVersion"`
	Kind       string                `yaml:"kind"`
	Metadata   FilterSetMetadataYAML `yaml:"metadata"`
	Spec       FilterSetSpecYAML     `yaml:"spec"`
}

type FilterSetMetadataYAML struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Labels      map[string]string `yaml:"labels"`
}

type FilterSetSpecYAML struct {
	Filters []FilterYAML `yaml:"filters"`
}

// FilterYAML declares one hosted filter.
type FilterYAML struct {
	ID              string               `yaml:"id"`
	Name            string               `yaml:"name"`
	GenerationTasks []string             `yaml:"generation_tasks"`
	Valves          ValvesYAML           `yaml:"valves"`
	ModelsFile      string               `yaml:"models_file"`
	Models          map[string]ModelYAML `yaml:"models"`

	inline map[string]ModelYAML
}

// InlineModels returns the models declared in the manifest itself, before
// models_file entries were merged in.
func (f *FilterYAML) InlineModels() map[string]ModelYAML {
	if f.inline == nil {
		return f.Models
	}
	return f.inline
}

// ValvesYAML holds initial valves. Empty keys fall back to the
// server-wide Langfuse settings.
type ValvesYAML struct {
	Pipelines    []string `yaml:"pipelines"`
	Priority     int      `yaml:"priority"`
	Host         string   `yaml:"host"`
	PublicKey    string   `yaml:"public_key"`
	SecretKey    string   `yaml:"secret_key"`
	Debug        bool     `yaml:"debug"`
	UseModelName bool     `yaml:"use_model_name_instead_of_id_for_generation"`
}

// ModelYAML maps a chat to the model serving it.
type ModelYAML struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoadFilterSet loads a filter-set manifest. ${VAR} references are expanded
// from the environment, and each filter's models_file is read relative to
// the manifest and merged under its inline models.
func LoadFilterSet(path string) (*FilterSetYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter set %s: %w", path, err)
	}

	var set FilterSetYAML
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &set); err != nil {
		return nil, fmt.Errorf("failed to parse filter set YAML: %w", err)
	}

	if err := validateFilterSet(&set); err != nil {
		return nil, fmt.Errorf("invalid filter set: %w", err)
	}

	baseDir := filepath.Dir(path)
	for i := range set.Spec.Filters {
		f := &set.Spec.Filters[i]
		if f.ModelsFile == "" {
			continue
		}
		f.ModelsFile = ResolvePath(baseDir, f.ModelsFile)
		f.inline = make(map[string]ModelYAML, len(f.Models))
		for chatID, m := range f.Models {
			f.inline[chatID] = m
		}
		fileModels, err := LoadModels(f.ModelsFile)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", f.ID, err)
		}
		if f.Models == nil {
			f.Models = make(map[string]ModelYAML, len(fileModels))
		}
		for chatID, m := range fileModels {
			if _, inline := f.Models[chatID]; !inline {
				f.Models[chatID] = m
			}
		}
	}

	return &set, nil
}

// LoadModels reads a YAML map of chat id to model.
func LoadModels(path string) (map[string]ModelYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file %s: %w", path, err)
	}
	models := map[string]ModelYAML{}
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}
	return models, nil
}

func validateFilterSet(set *FilterSetYAML) error {
	if set.APIVersion == "" {
		return fmt.Errorf("apiVersion is required")
	}
	if set.APIVersion != FilterSetAPIVersion {
		return fmt.Errorf("unsupported apiVersion: %s (expected: %s)", set.APIVersion, FilterSetAPIVersion)
	}
	if set.Kind != FilterSetKind {
		return fmt.Errorf("kind must be '%s', got: %s", FilterSetKind, set.Kind)
	}
	if len(set.Spec.Filters) == 0 {
		return fmt.Errorf("spec.filters must declare at least one filter")
	}

	// An empty id takes the default id, so it counts like any other.
	seen := make(map[string]bool, len(set.Spec.Filters))
	for i, f := range set.Spec.Filters {
		if seen[f.ID] {
			if f.ID == "" {
				return fmt.Errorf("spec.filters[%d]: only one filter may omit id", i)
			}
			return fmt.Errorf("spec.filters[%d]: duplicate id %q", i, f.ID)
		}
		seen[f.ID] = true
		if f.Valves.Priority < 0 {
			return fmt.Errorf("spec.filters[%d]: priority must be >= 0", i)
		}
	}
	return nil
}

// expandEnvVars expands environment variables in YAML content
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
