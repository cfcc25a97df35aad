package workspace

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
)

// Kind is the discriminant of a step.
type Kind string

const (
	// KindTechnique invokes a shop technique ("use: shop.technique").
	KindTechnique Kind = "technique"
	// KindTool invokes a tool on an MCP provider ("shop: mcp").
	KindTool Kind = "tool"
	// KindLoop repeats nested steps.
	KindLoop Kind = "loop"
	// KindParallel runs nested steps concurrently.
	KindParallel Kind = "parallel"
	// KindTry runs nested steps with catch and finally blocks.
	KindTry Kind = "try"
)

// MCPShop is the reserved shop name that marks a tool step.
const MCPShop = "mcp"

// Loop defaults and limits.
const (
	DefaultMaxIterations = 10
	MaxIterationsLimit   = 1000
	DefaultLoopVar       = "item"
	DefaultGather        = "parallel_results"
)

// Step is one pipeline execution unit. Exactly one of Use, Shop, Loop,
// Parallel or Try is set; decoding or constructing a step with zero or
// several of them fails.
type Step struct {
	// Name identifies the step in results, logs and parallel gathers
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Condition gates execution; a false condition skips the step
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Timeout bounds the step; 0 falls back to the runtime default
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Budget sets step-scoped ceilings (leaf steps only)
	Budget *Budget `yaml:"budget,omitempty" json:"budget,omitempty"`

	// Retry is a hint for the runtime's retry policy
	Retry *Retry `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Use is "shop.technique" for technique steps
	Use string `yaml:"use,omitempty" json:"use,omitempty"`

	// Shop is "mcp" for tool steps
	Shop     string `yaml:"shop,omitempty" json:"shop,omitempty"`
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Tool     string `yaml:"tool,omitempty" json:"tool,omitempty"`

	// Params are rendered against the run context and passed as the
	// technique input or the tool arguments
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	// Config is rendered and merged over the shop's technique config
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	Loop     *Loop     `yaml:"loop,omitempty" json:"loop,omitempty"`
	Parallel *Parallel `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Try      *Try      `yaml:"try,omitempty" json:"try,omitempty"`
}

// Loop repeats Steps over a collection, while a condition holds, or both.
type Loop struct {
	// ForEach is a template string or a literal list producing the items
	ForEach any `yaml:"for_each,omitempty" json:"for_each,omitempty"`

	// While is re-evaluated before every iteration
	While string `yaml:"while,omitempty" json:"while,omitempty"`

	MaxIterations int    `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" validate:"gte=0,lte=1000"`
	Var           string `yaml:"var,omitempty" json:"var,omitempty"`

	// BreakOn is evaluated after the body; true ends the loop
	BreakOn string `yaml:"break_on,omitempty" json:"break_on,omitempty"`

	Steps []Step `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// Parallel runs Steps concurrently and gathers their results into a map
// keyed by step name. Unnamed steps are keyed by their zero-based position:
// step_0, step_1, and so on.
type Parallel struct {
	Steps  []Step `yaml:"steps" json:"steps" validate:"required,min=2,dive"`
	Gather string `yaml:"gather,omitempty" json:"gather,omitempty"`

	// FailFast defaults to true
	FailFast *bool `yaml:"fail_fast,omitempty" json:"fail_fast,omitempty"`

	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// MaxConcurrency caps in-flight branches; 0 uses the runtime default
	MaxConcurrency int `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty" validate:"gte=0"`
}

// IsFailFast reports the effective fail_fast setting.
func (p *Parallel) IsFailFast() bool {
	return p.FailFast == nil || *p.FailFast
}

// Try runs Steps and routes failures to the first matching Catch.
type Try struct {
	Steps   []Step  `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	Catch   []Catch `yaml:"catch,omitempty" json:"catch,omitempty" validate:"dive"`
	Finally []Step  `yaml:"finally,omitempty" json:"finally,omitempty" validate:"dive"`
}

// Catch handles errors for which When is true. An empty When matches any error.
type Catch struct {
	When  string `yaml:"when,omitempty" json:"when,omitempty"`
	Steps []Step `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// Retry carries retry hints. The runtime's retry policy decides how, and
// whether, they are honoured.
type Retry struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts" validate:"gte=0,lte=10"`
	Backoff     Duration `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	Multiplier  float64  `yaml:"multiplier,omitempty" json:"multiplier,omitempty" validate:"gte=0"`
}

// Kind returns the step's discriminant, or "" if the step is malformed.
func (s *Step) Kind() Kind {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s *Step) kinds() []Kind {
	var kinds []Kind
	if s.Use != "" {
		kinds = append(kinds, KindTechnique)
	}
	if s.Shop != "" {
		kinds = append(kinds, KindTool)
	}
	if s.Loop != nil {
		kinds = append(kinds, KindLoop)
	}
	if s.Parallel != nil {
		kinds = append(kinds, KindParallel)
	}
	if s.Try != nil {
		kinds = append(kinds, KindTry)
	}
	return kinds
}

// ShopAndTechnique splits Use into its shop and technique names.
func (s *Step) ShopAndTechnique() (shop, technique string) {
	shop, technique, _ = strings.Cut(s.Use, ".")
	return shop, technique
}

// Ref describes what the step targets: "shop.technique",
// "mcp:provider/tool", or the control-flow kind.
func (s *Step) Ref() string {
	switch s.Kind() {
	case KindTechnique:
		return s.Use
	case KindTool:
		return fmt.Sprintf("mcp:%s/%s", s.Provider, s.Tool)
	default:
		return string(s.Kind())
	}
}

// DisplayName returns Name, falling back to Ref.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Ref()
}

// UnmarshalYAML decodes a step and rejects anything but exactly one
// discriminant.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type plainStep Step
	if err := value.Decode((*plainStep)(s)); err != nil {
		return err
	}
	if err := s.checkDiscriminant(fmt.Sprintf("line %d", value.Line)); err != nil {
		return err
	}
	return nil
}

func (s *Step) checkDiscriminant(field string) error {
	kinds := s.kinds()
	switch len(kinds) {
	case 1:
		return nil
	case 0:
		return &errors.ValidationError{
			Field:      field,
			Message:    "step must set exactly one of use, shop, loop, parallel, try",
			Suggestion: "add use: shop.technique for a technique step",
		}
	default:
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		return &errors.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("step sets %d kinds (%s); exactly one is allowed", len(kinds), strings.Join(names, ", ")),
		}
	}
}

// Validate checks the step and all nested steps.
func (s *Step) Validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		return convertValidationError(err)
	}
	return s.validate(s.DisplayName())
}

func (s *Step) validate(field string) error {
	if err := s.checkDiscriminant(field); err != nil {
		return err
	}

	if s.Budget != nil && s.Kind() != KindTechnique && s.Kind() != KindTool {
		return &errors.ValidationError{Field: field + ".budget", Message: "budget is only allowed on technique and tool steps"}
	}

	switch s.Kind() {
	case KindTechnique:
		shop, technique := s.ShopAndTechnique()
		if shop == "" || technique == "" {
			return &errors.ValidationError{
				Field:      field + ".use",
				Message:    fmt.Sprintf("invalid technique reference %q", s.Use),
				Suggestion: "use the form shop.technique",
			}
		}
	case KindTool:
		if s.Shop != MCPShop {
			return &errors.ValidationError{
				Field:      field + ".shop",
				Message:    fmt.Sprintf("unknown shop %q for a tool step", s.Shop),
				Suggestion: "tool steps use shop: mcp; technique steps use use: shop.technique",
			}
		}
		if s.Provider == "" || s.Tool == "" {
			return &errors.ValidationError{Field: field, Message: "tool steps require provider and tool"}
		}
	case KindLoop:
		l := s.Loop
		if l.ForEach == nil && l.While == "" {
			return &errors.ValidationError{Field: field + ".loop", Message: "loop requires for_each, while, or both"}
		}
		if l.MaxIterations < 0 || l.MaxIterations > MaxIterationsLimit {
			return &errors.ValidationError{
				Field:   field + ".loop.max_iterations",
				Message: fmt.Sprintf("max_iterations must be between 1 and %d", MaxIterationsLimit),
			}
		}
		if len(l.Steps) == 0 {
			return &errors.ValidationError{Field: field + ".loop.steps", Message: "loop requires at least one step"}
		}
		return validateSteps(field+".loop.steps", l.Steps)
	case KindParallel:
		p := s.Parallel
		if len(p.Steps) < 2 {
			return &errors.ValidationError{
				Field:      field + ".parallel.steps",
				Message:    "parallel requires at least two steps",
				Suggestion: "run a single step directly",
			}
		}
		return validateSteps(field+".parallel.steps", p.Steps)
	case KindTry:
		t := s.Try
		if len(t.Steps) == 0 {
			return &errors.ValidationError{Field: field + ".try.steps", Message: "try requires at least one step"}
		}
		if err := validateSteps(field+".try.steps", t.Steps); err != nil {
			return err
		}
		for i, c := range t.Catch {
			if len(c.Steps) == 0 {
				return &errors.ValidationError{Field: fmt.Sprintf("%s.try.catch[%d].steps", field, i), Message: "catch requires at least one step"}
			}
			if err := validateSteps(fmt.Sprintf("%s.try.catch[%d].steps", field, i), c.Steps); err != nil {
				return err
			}
		}
		return validateSteps(field+".try.finally", t.Finally)
	}
	return nil
}

func validateSteps(field string, steps []Step) error {
	for i := range steps {
		if err := steps[i].validate(fmt.Sprintf("%s[%d]", field, i)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Step) applyDefaults() {
	switch {
	case s.Loop != nil:
		if s.Loop.MaxIterations == 0 {
			s.Loop.MaxIterations = DefaultMaxIterations
		}
		if s.Loop.Var == "" {
			s.Loop.Var = DefaultLoopVar
		}
		applyStepDefaults(s.Loop.Steps)
	case s.Parallel != nil:
		if s.Parallel.Gather == "" {
			s.Parallel.Gather = DefaultGather
		}
		applyStepDefaults(s.Parallel.Steps)
	case s.Try != nil:
		applyStepDefaults(s.Try.Steps)
		for i := range s.Try.Catch {
			applyStepDefaults(s.Try.Catch[i].Steps)
		}
		applyStepDefaults(s.Try.Finally)
	}
}

func applyStepDefaults(steps []Step) {
	for i := range steps {
		steps[i].applyDefaults()
	}
}

func newStep(s Step) (*Step, error) {
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// NewTechniqueStep builds a validated technique step.
func NewTechniqueStep(name, use string, params map[string]any) (*Step, error) {
	return newStep(Step{Name: name, Use: use, Params: params})
}

// NewToolStep builds a validated MCP tool step.
func NewToolStep(name, provider, tool string, params map[string]any) (*Step, error) {
	return newStep(Step{Name: name, Shop: MCPShop, Provider: provider, Tool: tool, Params: params})
}

// NewLoopStep builds a validated loop step, applying loop defaults.
func NewLoopStep(name string, loop Loop) (*Step, error) {
	return newStep(Step{Name: name, Loop: &loop})
}

// NewParallelStep builds a validated parallel step, applying defaults.
func NewParallelStep(name string, parallel Parallel) (*Step, error) {
	return newStep(Step{Name: name, Parallel: &parallel})
}

// NewTryStep builds a validated try step.
func NewTryStep(name string, try Try) (*Step, error) {
	return newStep(Step{Name: name, Try: &try})
}
