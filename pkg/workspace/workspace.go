// Package workspace defines the immutable configuration tree a runtime
// executes against: shops of techniques, MCP providers, pipelines and the
// workspace-wide budget.
//
// A workspace is usually loaded from YAML:
//
//	name: research
//	budget:
//	  max_cost_usd: 5
//	shops:
//	  rag:
//	    techniques:
//	      retrieve: retrieval.vector:hybrid
//	providers:
//	  web:
//	    transport: http
//	    url: http://localhost:8931/mcp
//	pipelines:
//	  answer:
//	    timeout: 60
//	    steps:
//	      - name: docs
//	        use: rag.retrieve
//	        params:
//	          query: "{{ input.question }}"
//
// Parse and Load validate the tree before returning it; the runtime assumes a
// validated tree and never mutates it.
package workspace

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
)

// Transport names accepted for MCP providers.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Settings is the root of a workspace configuration.
type Settings struct {
	// Name identifies the workspace in logs and traces
	Name string `yaml:"name" json:"name"`

	// Shops maps a shop name to its technique catalogue
	Shops map[string]Shop `yaml:"shops" json:"shops" validate:"dive"`

	// Pipelines maps a pipeline name to its definition
	Pipelines map[string]Pipeline `yaml:"pipelines" json:"pipelines" validate:"required,min=1,dive"`

	// Providers maps an MCP provider name to its connection settings
	Providers map[string]Provider `yaml:"providers,omitempty" json:"providers,omitempty" validate:"dive"`

	// Budget is the workspace-wide ceiling shared by every run of the runtime
	Budget *Budget `yaml:"budget,omitempty" json:"budget,omitempty"`
}

// Shop is a named collection of techniques. Techniques maps the logical
// name used by pipelines (the "technique" half of "shop.technique") to a
// "category.technique:implementation" reference.
type Shop struct {
	Techniques map[string]string `yaml:"techniques" json:"techniques" validate:"required,min=1"`

	// Config holds per-technique configuration keyed by logical name. Step
	// config is merged over it.
	Config map[string]map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Provider describes how to reach an MCP tool server.
type Provider struct {
	Transport string            `yaml:"transport" json:"transport" validate:"required,oneof=http stdio"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty" validate:"omitempty,url"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Timeout bounds a single tool call
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// RateLimit is the sustained calls per second allowed; 0 means unlimited
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" validate:"gte=0"`
	Burst     int     `yaml:"burst,omitempty" json:"burst,omitempty" validate:"gte=0"`

	// Tools restricts the callable tools to those matching one of these
	// glob patterns. Empty allows every tool the server lists.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// Pipeline is an ordered list of steps with optional run-level limits.
type Pipeline struct {
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step   `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	Budget      *Budget  `yaml:"budget,omitempty" json:"budget,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Budget is a set of optional ceilings. A nil field is unlimited.
type Budget struct {
	MaxCostUSD  *float64 `yaml:"max_cost_usd,omitempty" json:"max_cost_usd,omitempty" validate:"omitempty,gte=0"`
	MaxTokens   *int64   `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" validate:"omitempty,gte=0"`
	MaxRequests *int64   `yaml:"max_requests,omitempty" json:"max_requests,omitempty" validate:"omitempty,gte=0"`
}

// IsZero reports whether b sets no ceiling at all.
func (b *Budget) IsZero() bool {
	return b == nil || (b.MaxCostUSD == nil && b.MaxTokens == nil && b.MaxRequests == nil)
}

// Parse decodes and validates a workspace from YAML bytes.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "failed to parse workspace")
	}

	s.ApplyDefaults()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses the workspace file at path.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "cannot read workspace file", Cause: err}
	}
	return Parse(data)
}

// ApplyDefaults fills defaulted fields throughout the tree.
func (s *Settings) ApplyDefaults() {
	for name, p := range s.Pipelines {
		for i := range p.Steps {
			p.Steps[i].applyDefaults()
		}
		s.Pipelines[name] = p
	}
}

// Pipeline returns the named pipeline.
func (s *Settings) Pipeline(name string) (*Pipeline, bool) {
	p, ok := s.Pipelines[name]
	if !ok {
		return nil, false
	}
	return &p, true
}

// PipelineNames returns pipeline names in sorted order.
func (s *Settings) PipelineNames() []string {
	names := make([]string, 0, len(s.Pipelines))
	for name := range s.Pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks struct constraints and the shape of every step.
// References to shops, techniques and providers are not checked here: they
// are resolved when a step runs so that pipelines can catch resolution
// failures.
func (s *Settings) Validate() error {
	if s == nil {
		return &errors.ValidationError{Field: "workspace", Message: "workspace is nil"}
	}

	if err := validatorInstance().Struct(s); err != nil {
		return convertValidationError(err)
	}

	for name, p := range s.Providers {
		if err := p.validate("providers." + name); err != nil {
			return err
		}
	}

	for _, name := range s.PipelineNames() {
		for i := range s.Pipelines[name].Steps {
			step := s.Pipelines[name].Steps[i]
			if err := step.validate(fmt.Sprintf("pipelines.%s.steps[%d]", name, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p Provider) validate(field string) error {
	switch p.Transport {
	case TransportHTTP:
		if p.URL == "" {
			return &errors.ValidationError{Field: field + ".url", Message: "url is required for http transport"}
		}
	case TransportStdio:
		if p.Command == "" {
			return &errors.ValidationError{Field: field + ".command", Message: "command is required for stdio transport"}
		}
	}
	if p.Burst > 0 && p.RateLimit == 0 {
		return &errors.ValidationError{
			Field:      field + ".burst",
			Message:    "burst has no effect without rate_limit",
			Suggestion: "set rate_limit to the sustained calls per second",
		}
	}
	return nil
}
