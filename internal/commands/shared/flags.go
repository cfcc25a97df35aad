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

var (
	quietFlag  bool
	jsonFlag   bool
	configFlag string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to the global flags so the root
// command can bind them.
func RegisterFlagPointers() (quiet *bool, json *bool, config *string) {
	return &quietFlag, &jsonFlag, &configFlag
}

// SetVersion records build information injected via ldflags.
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

func GetQuiet() bool {
	return quietFlag
}

func GetJSON() bool {
	return jsonFlag
}

func GetConfigPath() string {
	return configFlag
}

func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// SetConfigPathForTest overrides the --config flag value.
func SetConfigPathForTest(path string) {
	configFlag = path
}
