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

package run

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadInputFile loads pipeline parameters from a JSON file, or from stdin
// when path is "-".
func loadInputFile(path string, stdin io.Reader) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}

	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse JSON input: %w", err)
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	return inputs, nil
}

// parseInputs merges --input file parameters with key=value --param
// arguments, which take precedence. Values are decoded as YAML scalars or
// flow collections so that "count=3" and "tags=[a, b]" arrive typed;
// anything that does not decode stays a string.
func parseInputs(params []string, inputFile string, stdin io.Reader) (map[string]any, error) {
	inputs := map[string]any{}
	if inputFile != "" {
		var err error
		inputs, err = loadInputFile(inputFile, stdin)
		if err != nil {
			return nil, err
		}
	}

	for _, arg := range params {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q (expected key=value)", arg)
		}
		inputs[key] = parseValue(raw)
	}
	return inputs, nil
}

func parseValue(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	switch v.(type) {
	case map[string]any:
		// "a: b" style values are far more likely to be text
		if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
			return raw
		}
	}
	return v
}
