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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputs(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		want   map[string]any
	}{
		{"empty", nil, map[string]any{}},
		{"string", []string{"question=what is rag"}, map[string]any{"question": "what is rag"}},
		{"typed scalars", []string{"count=3", "ratio=0.5", "deep=true"}, map[string]any{"count": 3, "ratio": 0.5, "deep": true}},
		{"flow list", []string{"tags=[a, b]"}, map[string]any{"tags": []any{"a", "b"}}},
		{"flow map", []string{"opts={k: v}"}, map[string]any{"opts": map[string]any{"k": "v"}}},
		{"colon text", []string{"title=note: draft"}, map[string]any{"title": "note: draft"}},
		{"equals in value", []string{"expr=a=b"}, map[string]any{"expr": "a=b"}},
		{"empty value", []string{"blank="}, map[string]any{"blank": ""}},
		{"later wins", []string{"n=1", "n=2"}, map[string]any{"n": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInputs(tt.params, "", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInputs_Invalid(t *testing.T) {
	for _, arg := range []string{"novalue", "=x"} {
		_, err := parseInputs([]string{arg}, "", nil)
		assert.Error(t, err, arg)
	}
}

func TestParseInputs_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"question": "from file", "k": 5}`), 0o600))

	got, err := parseInputs([]string{"question=from flag"}, path, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"question": "from flag", "k": float64(5)}, got)

	got, err = parseInputs(nil, "-", strings.NewReader(`{"stdin": true}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"stdin": true}, got)

	_, err = parseInputs(nil, filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	_, err = parseInputs(nil, "-", strings.NewReader(`[1, 2]`))
	assert.Error(t, err)
}
