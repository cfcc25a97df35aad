package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
)

const sampleWorkspace = `
name: research
budget:
  max_cost_usd: 2.5
shops:
  rag:
    techniques:
      retrieve: retrieval.vector:hybrid
    config:
      retrieve:
        top_k: 5
providers:
  web:
    transport: http
    url: http://localhost:8931/mcp
    timeout: 10s
    rate_limit: 2
    tools: ["search*"]
pipelines:
  answer:
    timeout: 60
    budget:
      max_tokens: 1000
    steps:
      - name: docs
        use: rag.retrieve
        params:
          query: "{{ input.question }}"
        budget:
          max_requests: 1
      - name: search
        shop: mcp
        provider: web
        tool: search
      - name: each
        loop:
          for_each: "{{ input.items }}"
          steps:
            - use: rag.retrieve
      - parallel:
          fail_fast: false
          steps:
            - use: rag.retrieve
            - use: rag.retrieve
      - try:
          steps:
            - use: rag.retrieve
          catch:
            - when: "{{ error.type == 'TimeoutError' }}"
              steps:
                - use: rag.retrieve
          finally:
            - use: rag.retrieve
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleWorkspace))
	require.NoError(t, err)

	assert.Equal(t, "research", s.Name)
	require.NotNil(t, s.Budget.MaxCostUSD)
	assert.Equal(t, 2.5, *s.Budget.MaxCostUSD)
	assert.Equal(t, 10*time.Second, s.Providers["web"].Timeout.Std())

	p, ok := s.Pipeline("answer")
	require.True(t, ok)
	assert.Equal(t, time.Minute, p.Timeout.Std())
	require.Len(t, p.Steps, 5)

	kinds := make([]Kind, len(p.Steps))
	for i := range p.Steps {
		kinds[i] = p.Steps[i].Kind()
	}
	assert.Equal(t, []Kind{KindTechnique, KindTool, KindLoop, KindParallel, KindTry}, kinds)

	loop := p.Steps[2].Loop
	assert.Equal(t, DefaultMaxIterations, loop.MaxIterations)
	assert.Equal(t, DefaultLoopVar, loop.Var)

	par := p.Steps[3].Parallel
	assert.Equal(t, DefaultGather, par.Gather)
	assert.False(t, par.IsFailFast())

	assert.Equal(t, "mcp:web/search", p.Steps[1].Ref())
	assert.Equal(t, "try", p.Steps[4].DisplayName())
	assert.Equal(t, []string{"answer"}, s.PipelineNames())
}

func TestParse_RejectsBadDiscriminants(t *testing.T) {
	tests := []struct {
		name string
		step string
	}{
		{"no kind", "      - name: empty\n"},
		{"two kinds", "      - use: rag.retrieve\n        loop:\n          while: 'true'\n          steps:\n            - use: rag.retrieve\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "pipelines:\n  p:\n    steps:\n" + tt.step
			_, err := Parse([]byte(doc))
			require.Error(t, err)

			var vErr *errors.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %T: %v", err, err)
		})
	}
}

func TestValidate_StepShapes(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantField string
	}{
		{
			name:      "malformed use",
			doc:       "      - use: retrieve\n",
			wantField: "pipelines.p.steps[0].use",
		},
		{
			name:      "tool step on a non-mcp shop",
			doc:       "      - shop: rag\n        provider: web\n        tool: search\n",
			wantField: "pipelines.p.steps[0].shop",
		},
		{
			name:      "parallel with one branch",
			doc:       "      - parallel:\n          steps:\n            - use: a.b\n",
			wantField: "parallel.steps",
		},
		{
			name:      "loop without for_each or while",
			doc:       "      - loop:\n          steps:\n            - use: a.b\n",
			wantField: "pipelines.p.steps[0].loop",
		},
		{
			name:      "budget on a control-flow step",
			doc:       "      - budget:\n          max_tokens: 1\n        try:\n          steps:\n            - use: a.b\n",
			wantField: "pipelines.p.steps[0].budget",
		},
		{
			name:      "max_iterations above limit",
			doc:       "      - loop:\n          while: 'true'\n          max_iterations: 1001\n          steps:\n            - use: a.b\n",
			wantField: "max_iterations",
		},
		{
			name:      "nested malformed step",
			doc:       "      - try:\n          steps:\n            - use: a.b\n          finally:\n            - use: nodot\n",
			wantField: "pipelines.p.steps[0].try.finally[0].use",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte("pipelines:\n  p:\n    steps:\n" + tt.doc))
			require.Error(t, err)

			var vErr *errors.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %T: %v", err, err)
			assert.Contains(t, vErr.Field, tt.wantField)
		})
	}
}

func TestValidate_Providers(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  local:
    transport: stdio
pipelines:
  p:
    steps:
      - use: a.b
`))
	var vErr *errors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "providers.local.command", vErr.Field)

	_, err = Parse([]byte(`
providers:
  bad:
    transport: grpc
pipelines:
  p:
    steps:
      - use: a.b
`))
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.Message, "oneof")
}

func TestConstructors(t *testing.T) {
	step, err := NewTechniqueStep("docs", "rag.retrieve", nil)
	require.NoError(t, err)
	assert.Equal(t, KindTechnique, step.Kind())

	shop, technique := step.ShopAndTechnique()
	assert.Equal(t, "rag", shop)
	assert.Equal(t, "retrieve", technique)

	_, err = NewTechniqueStep("docs", "rag", nil)
	assert.Error(t, err)

	loop, err := NewLoopStep("l", Loop{While: "true", Steps: []Step{*step}})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, loop.Loop.MaxIterations)

	_, err = NewParallelStep("p", Parallel{Steps: []Step{*step}})
	assert.Error(t, err)

	tool, err := NewToolStep("t", "web", "search", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, "mcp:web/search", tool.Ref())

	_, err = NewTryStep("t", Try{})
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30", 30 * time.Second, false},
		{"2.5", 2500 * time.Millisecond, false},
		{"1m30s", 90 * time.Second, false},
		{"-1", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDuration(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Std())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkspace), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, s.Shops, "rag")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
