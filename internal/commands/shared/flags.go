// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import "sync"

var (
	flagMu  sync.RWMutex
	verbose bool
	quiet   bool
	jsonOut bool
	config  string

	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers for cobra to bind the global
// persistent flags to.
func RegisterFlagPointers() (*bool, *bool, *bool, *string) {
	return &verbose, &quiet, &jsonOut, &config
}

// GetVerbose reports whether --verbose was set.
func GetVerbose() bool {
	flagMu.RLock()
	defer flagMu.RUnlock()
	return verbose
}

// GetQuiet reports whether --quiet was set.
func GetQuiet() bool {
	flagMu.RLock()
	defer flagMu.RUnlock()
	return quiet
}

// GetJSON reports whether --json was set.
func GetJSON() bool {
	flagMu.RLock()
	defer flagMu.RUnlock()
	return jsonOut
}

// GetConfigPath returns the --config flag value.
func GetConfigPath() string {
	flagMu.RLock()
	defer flagMu.RUnlock()
	return config
}

// SetVersion records build-time version metadata for the version command.
func SetVersion(v, c, b string) {
	flagMu.Lock()
	defer flagMu.Unlock()
	version, commit, buildDate = v, c, b
}

// GetVersion returns the build-time version metadata.
func GetVersion() (string, string, string) {
	flagMu.RLock()
	defer flagMu.RUnlock()
	return version, commit, buildDate
}
