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
// Package version reports the chattrace build. Release builds stamp both
// variables with -X linker flags; Get is also the release tag put on every
// trace.
package version

var (
	Version = "0.1.0"
	Commit  = ""
)

// Get returns the release, or "dev" for an unstamped build.
func Get() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// String is the form printed by --version.
func String() string {
	if Commit == "" {
		return Get()
	}
	if len(Commit) > 12 {
		return Get() + " (" + Commit[:12] + ")"
	}
	return Get() + " (" + Commit + ")"
}
