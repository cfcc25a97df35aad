// Package builtin provides the techniques every runtime registers by
// default: jq transforms, text formatting and an echo technique used for
// wiring checks.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/omarrsalif594/sibyl-sub000/internal/jq"
	"github.com/omarrsalif594/sibyl-sub000/pkg/budget"
	"github.com/omarrsalif594/sibyl-sub000/pkg/shop"
	"github.com/omarrsalif594/sibyl-sub000/pkg/template"
)

// Technique keys registered by Register.
const (
	TransformJQ = "transform.jq"
	TextFormat  = "text.format"
	UtilEcho    = "util.echo"
)

// Register adds the builtin techniques to reg.
func Register(reg *shop.Registry, engine *template.Engine) error {
	if engine == nil {
		engine = template.New(nil)
	}
	for key, t := range map[string]shop.Technique{
		TransformJQ: &jqTechnique{executor: jq.Default()},
		TextFormat:  &formatTechnique{engine: engine},
		UtilEcho:    shop.TechniqueFunc(echo),
	} {
		if err := reg.Register(key, shop.Static(t)); err != nil {
			return err
		}
	}
	return nil
}

// jqTechnique applies a jq query to params.data. The query comes from
// params.query or config.query.
type jqTechnique struct {
	executor *jq.Executor
}

func (t *jqTechnique) Execute(ctx context.Context, input any, _ string, config map[string]any) (*shop.Result, error) {
	params, _ := input.(map[string]any)

	query, _ := params["query"].(string)
	if query == "" {
		query, _ = config["query"].(string)
	}
	if query == "" {
		return nil, fmt.Errorf("transform.jq requires a query")
	}

	out, err := t.executor.Execute(ctx, query, params["data"])
	if err != nil {
		return nil, err
	}
	return &shop.Result{Output: out, Success: true}, nil
}

// formatTechnique renders params.template against params.values. The
// implementation optionally post-processes the text: upper, lower or title.
type formatTechnique struct {
	engine *template.Engine
}

func (t *formatTechnique) Execute(_ context.Context, input any, implementation string, config map[string]any) (*shop.Result, error) {
	params, _ := input.(map[string]any)

	tmpl, _ := params["template"].(string)
	if tmpl == "" {
		tmpl, _ = config["template"].(string)
	}
	values, _ := params["values"].(map[string]any)

	text, err := t.engine.RenderString(tmpl, values)
	if err != nil {
		return nil, err
	}

	switch implementation {
	case "", "plain":
	case "upper":
		text = strings.ToUpper(text)
	case "lower":
		text = strings.ToLower(text)
	case "title":
		text = cases.Title(language.Und).String(text)
	default:
		return &shop.Result{Success: false, Message: fmt.Sprintf("unknown format variant %q", implementation)}, nil
	}
	return &shop.Result{Output: text, Success: true}, nil
}

// echo returns its input. Config keys:
//
//	delay:   wait before returning (Go duration string); honours cancellation
//	fail:    return Success false with this message
//	tokens, cost_usd, requests: usage to report
func echo(ctx context.Context, input any, _ string, config map[string]any) (*shop.Result, error) {
	if raw, ok := config["delay"].(string); ok && raw != "" {
		delay, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid delay %q: %w", raw, err)
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-timer.C:
		}
	}

	usage := budget.Usage{
		CostUSD:  toFloat(config["cost_usd"]),
		Tokens:   int64(toFloat(config["tokens"])),
		Requests: int64(toFloat(config["requests"])),
	}

	if msg, ok := config["fail"].(string); ok && msg != "" {
		return &shop.Result{Output: input, Success: false, Message: msg, Usage: usage}, nil
	}
	return &shop.Result{Output: input, Success: true, Usage: usage}, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
