package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/enrichgo/internal/expr"
	"github.com/vk/enrichgo/internal/graph"
	"github.com/vk/enrichgo/internal/spec"
)

func buildSpec(t *testing.T, entries ...[2]string) *spec.Spec {
	t.Helper()
	var s spec.Spec
	for _, e := range entries {
		require.NoError(t, s.Add(e[0], e[1]))
	}
	return &s
}

func resolveOrder(t *testing.T, s *spec.Spec, existing []string, overwrite bool) ([]string, error) {
	t.Helper()
	ctx := context.Background()
	engine := expr.NewHCL()

	g, err := graph.Build(ctx, s, existing, engine)
	if err != nil {
		return nil, err
	}
	ordered, err := graph.Resolve(ctx, g, s, existing, overwrite)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ordered))
	for i, e := range ordered {
		names[i] = e.Name
	}
	return names, nil
}

func TestBuildUnknownReference(t *testing.T) {
	s := buildSpec(t, [2]string{"total", "price * quantity"})

	_, err := graph.Build(context.Background(), s, []string{"price"}, expr.NewHCL())
	var unknownErr *graph.UnknownReferenceError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "total", unknownErr.Output)
	assert.Equal(t, "quantity", unknownErr.Reference)
	assert.Equal(t, []string{"price", "total"}, unknownErr.Available)
}

func TestResolveDependencyOrder(t *testing.T) {
	// c is defined before b in the document but depends on it.
	s := buildSpec(t,
		[2]string{"c", "b * 2"},
		[2]string{"b", "a + 1"},
	)

	order, err := resolveOrder(t, s, []string{"a"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, order)
}

func TestResolveSpecOrderTieBreak(t *testing.T) {
	// Both outputs are immediately ready; document order wins over any
	// lexical ordering.
	s := buildSpec(t,
		[2]string{"z_first", "a + 1"},
		[2]string{"b_second", "a + 2"},
	)

	order, err := resolveOrder(t, s, []string{"a"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"z_first", "b_second"}, order)
}

func TestResolveCycle(t *testing.T) {
	s := buildSpec(t,
		[2]string{"a", "b + 1"},
		[2]string{"b", "a * 2"},
	)

	_, err := resolveOrder(t, s, nil, false)
	var cycleErr *graph.CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Members)
}

func TestResolveSelfReference(t *testing.T) {
	t.Run("new column defined in terms of itself is a cycle", func(t *testing.T) {
		s := buildSpec(t, [2]string{"a", "a + 1"})

		_, err := resolveOrder(t, s, nil, false)
		var cycleErr *graph.CyclicDependencyError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, []string{"a"}, cycleErr.Members)
	})

	t.Run("overwriting column reads its current value", func(t *testing.T) {
		s := buildSpec(t, [2]string{"a", "a + 1"})

		order, err := resolveOrder(t, s, []string{"a"}, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, order)
	})
}

func TestResolveRedefinitionConflict(t *testing.T) {
	s := buildSpec(t, [2]string{"price", "price * 2"})

	_, err := resolveOrder(t, s, []string{"price"}, false)
	var confErr *graph.RedefinitionConflictError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "price", confErr.Column)

	order, err := resolveOrder(t, s, []string{"price"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"price"}, order)
}

func TestResolveDiamond(t *testing.T) {
	s := buildSpec(t,
		[2]string{"d", "b + c"},
		[2]string{"b", "a + 1"},
		[2]string{"c", "a * 2"},
	)

	order, err := resolveOrder(t, s, []string{"a"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, order)
}
