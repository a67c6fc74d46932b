// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config locates chattrace's data directory and loads filter-set
// manifests.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory.
const DataDirEnv = "CHATTRACE_DATA_DIR"

// GetDataDir returns the chattrace data directory.
//
// Priority:
// 1. CHATTRACE_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.chattrace (default)
//
// The returned path is always absolute. Tilde (~) is expanded to the user's
// home directory and relative paths are resolved against the working directory.
//
// Examples:
//
//	CHATTRACE_DATA_DIR=/srv/chattrace   -> /srv/chattrace
//	CHATTRACE_DATA_DIR=~/traces         -> /home/user/traces
//	CHATTRACE_DATA_DIR not set          -> /home/user/.chattrace
//
// Reads os.Getenv directly: it runs before viper has located the config file.
func GetDataDir() string {
	if dataDir := os.Getenv(DataDirEnv); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".chattrace"
	}
	return filepath.Join(homeDir, ".chattrace")
}

// GetDataPath returns a file or directory path inside the data directory.
// Example: GetDataPath("chattrace.yaml") returns ~/.chattrace/chattrace.yaml
func GetDataPath(name string) string {
	return filepath.Join(GetDataDir(), name)
}

// ResolvePath expands ~ in path and makes it absolute relative to baseDir.
// An empty baseDir resolves against the working directory.
func ResolvePath(baseDir, path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~/") || filepath.IsAbs(path) || baseDir == "" {
		return expandPath(path)
	}
	return filepath.Join(baseDir, path)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
