package shop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		in      string
		want    Reference
		wantErr bool
	}{
		{in: "retrieval.vector:hybrid", want: Reference{Category: "retrieval", Technique: "vector", Implementation: "hybrid"}},
		{in: "retrieval.vector", want: Reference{Category: "retrieval", Technique: "vector"}},
		{in: "retrieval", wantErr: true},
		{in: ".vector", wantErr: true},
		{in: "retrieval.vector:", wantErr: true},
		{in: "a.b.c", wantErr: true},
		{in: "a.b:c:d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReference(tt.in)
			if tt.wantErr {
				var resErr *errors.ResolutionError
				require.True(t, errors.As(err, &resErr), "expected ResolutionError, got %v", err)
				assert.Equal(t, "reference", resErr.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := Static(TechniqueFunc(func(context.Context, any, string, map[string]any) (*Result, error) {
		return &Result{Success: true}, nil
	}))

	require.NoError(t, reg.Register("retrieval.vector", noop))
	assert.Error(t, reg.Register("retrieval.vector", noop), "duplicate")
	assert.Error(t, reg.Register("retrieval", noop), "malformed key")
	assert.Error(t, reg.Register("retrieval.bm25:fast", noop), "key with implementation")
	assert.Error(t, reg.Register("retrieval.bm25", nil), "nil factory")
	assert.Panics(t, func() { reg.MustRegister("retrieval.vector", noop) })

	assert.Equal(t, []string{"retrieval.vector"}, reg.Keys())
}

func TestRuntime_Resolve(t *testing.T) {
	var loads atomic.Int32
	reg := NewRegistry()
	reg.MustRegister("retrieval.vector", func(ref Reference) (Technique, error) {
		loads.Add(1)
		return TechniqueFunc(func(_ context.Context, input any, impl string, _ map[string]any) (*Result, error) {
			return &Result{Output: fmt.Sprintf("%s:%v", impl, input), Success: true}, nil
		}), nil
	})
	reg.MustRegister("retrieval.broken", func(Reference) (Technique, error) {
		return nil, fmt.Errorf("index missing")
	})

	rt := NewRuntime("rag", workspace.Shop{
		Techniques: map[string]string{
			"retrieve": "retrieval.vector:hybrid",
			"alias":    "retrieval.vector:dense",
			"broken":   "retrieval.broken",
			"unknown":  "retrieval.graph",
			"bad":      "nodot",
		},
		Config: map[string]map[string]any{"retrieve": {"top_k": 5, "rerank": false}},
	}, reg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := rt.Resolve("retrieve")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load(), "first load wins")

	technique, ref, err := rt.Resolve("retrieve")
	require.NoError(t, err)
	assert.Equal(t, "hybrid", ref.Implementation)
	res, err := technique.Execute(context.Background(), "q", ref.Implementation, nil)
	require.NoError(t, err)
	assert.Equal(t, "hybrid:q", res.Output)

	_, _, err = rt.Resolve("alias")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load(), "one entry per logical name")
	assert.Equal(t, 2, rt.Loaded())

	for _, name := range []string{"missing", "broken", "unknown", "bad"} {
		t.Run(name, func(t *testing.T) {
			_, _, err := rt.Resolve(name)
			var resErr *errors.ResolutionError
			require.True(t, errors.As(err, &resErr), "expected ResolutionError, got %v", err)
		})
	}

	cfg := rt.Config("retrieve", map[string]any{"top_k": 10})
	assert.Equal(t, map[string]any{"top_k": 10, "rerank": false}, cfg)
	assert.Equal(t, "rag", rt.Name())
}
