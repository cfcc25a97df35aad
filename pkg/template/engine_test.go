package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
)

func TestRender_TypedAndComposite(t *testing.T) {
	data := map[string]any{
		"input": map[string]any{
			"count":   3,
			"ratio":   0.5,
			"enabled": true,
			"tags":    []any{"a", "b"},
			"name":    "sibyl",
		},
	}

	tests := []struct {
		name string
		tmpl string
		want any
	}{
		{"bare int keeps its type", "{{ input.count }}", 3},
		{"bare with surrounding whitespace", "  {{ input.count }}\n", 3},
		{"bare list", "{{ input.tags }}", []any{"a", "b"}},
		{"bare undefined is nil", "{{ missing }}", nil},
		{"composite is a string", "{{ input.count }} items", "3 items"},
		{"composite coerced to int", "{{ input.count }}{{ input.count }}", 33},
		{"composite coerced to float", "{{ input.count }}.5", 3.5},
		{"composite coerced to bool", "{% if input.enabled %}true{% else %}false{% endif %}", true},
		{"composite undefined renders empty", "[{{ missing }}]", "[]"},
		{"plain text is untouched", "42", "42"},
		{"collections render as JSON", "tags={{ input.tags }}", `tags=["a","b"]`},
		{"filters", "{{ input.tags | length }} tags", "2 tags"},
		{"filter with argument", "{{ input.limit | default(10) }}", 10},
		{"comments are dropped", "{# note #}{{ input.name }}!", "sibyl!"},
	}

	engine := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Render(tt.tmpl, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_Tags(t *testing.T) {
	data := map[string]any{
		"items": []any{"x", "y", "z"},
		"meta":  map[string]any{"b": 2, "a": 1},
		"score": 7,
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{
			name: "if elif else",
			tmpl: "{% if score > 8 %}high{% elif score > 5 %}mid{% else %}low{% endif %}",
			want: "mid",
		},
		{
			name: "for with loop variables",
			tmpl: "{% for i in items %}{{ loop.index }}:{{ i }}{% if not loop.last %},{% endif %}{% endfor %}",
			want: "1:x,2:y,3:z",
		},
		{
			name: "for over a map in key order",
			tmpl: "{% for k, v in meta %}{{ k }}={{ v }};{% endfor %}",
			want: "a=1;b=2;",
		},
		{
			name: "for else on empty",
			tmpl: "{% for i in [] %}{{ i }}{% else %}none{% endfor %}",
			want: "none",
		},
		{
			name: "set",
			tmpl: "{% set total = score * 2 %}total {{ total }}",
			want: "total 14",
		},
		{
			name: "whitespace control",
			tmpl: "a\n  {%- if true -%}\n  b\n  {%- endif %}",
			want: "ab",
		},
	}

	engine := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.RenderString(tt.tmpl, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	tests := []string{
		"{{ input.count ",
		"{% if x %}never closed",
		"{% endfor %}",
		"{% unknown %}",
		"{% for in %}{% endfor %}",
		"{{ }}",
		"{{ 1 + }} text",
		"{% for x in 5 %}{% endfor %}",
	}

	engine := New(nil)
	for _, tmpl := range tests {
		t.Run(tmpl, func(t *testing.T) {
			_, err := engine.Render(tmpl, map[string]any{})
			var condErr *errors.ConditionError
			require.True(t, errors.As(err, &condErr), "expected ConditionError, got %v", err)
		})
	}
}

func TestRenderValue(t *testing.T) {
	engine := New(nil)
	data := map[string]any{"input": map[string]any{"q": "golang", "n": 2}}

	got, err := engine.RenderValue(map[string]any{
		"query":  "{{ input.q }}",
		"limit":  "{{ input.n }}",
		"nested": []any{"{{ input.n }} docs", 5, true},
		"plain":  "unchanged",
	}, data)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"query":  "golang",
		"limit":  2,
		"nested": []any{"2 docs", 5, true},
		"plain":  "unchanged",
	}, got)

	empty, err := engine.RenderMap(nil, data)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, true, Coerce("True"))
	assert.Equal(t, 12, Coerce(" 12 "))
	assert.Equal(t, -1.5, Coerce("-1.5"))
	assert.Equal(t, "NaN", Coerce("NaN"))
	assert.Equal(t, "1,000", Coerce("1,000"))
}

func TestRewriteFilters(t *testing.T) {
	assert.Equal(t, "x | length()", rewriteFilters("x | length"))
	assert.Equal(t, "x | default(1)", rewriteFilters("x | default(1)"))
	assert.Equal(t, "a || b", rewriteFilters("a || b"))
	assert.Equal(t, "'a | b'", rewriteFilters("'a | b'"))
	assert.Equal(t, "x | upper() | length()", rewriteFilters("x | upper | length"))
}
