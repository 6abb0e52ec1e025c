package derive_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/enrichgo/internal/derive"
	"github.com/vk/enrichgo/internal/expr"
	"github.com/vk/enrichgo/internal/graph"
	"github.com/vk/enrichgo/internal/provenance"
	"github.com/vk/enrichgo/internal/spec"
	"github.com/vk/enrichgo/internal/table"
	"github.com/vk/enrichgo/internal/testutil"
	"github.com/zclconf/go-cty/cty"
)

func baseTable(t *testing.T) *table.Table {
	t.Helper()
	return testutil.NewTable(t,
		testutil.Column{Name: "price", Type: cty.Number, Values: testutil.Numbers(2, 3, 4)},
		testutil.Column{Name: "quantity", Type: cty.Number, Values: testutil.Numbers(10, 20, 30)},
	)
}

func floats(t *testing.T, tbl *table.Table, name string) []float64 {
	t.Helper()
	values, ok := tbl.Column(name)
	require.True(t, ok, "column %q missing", name)
	out := make([]float64, len(values))
	for i, v := range values {
		require.False(t, v.IsNull())
		out[i], _ = v.AsBigFloat().Float64()
	}
	return out
}

func TestRunChainedOutputs(t *testing.T) {
	tbl := baseTable(t)
	var s spec.Spec
	require.NoError(t, s.Add("total", "price * quantity"))
	require.NoError(t, s.Add("total_2x", "total * 2"))

	out, err := derive.Run(context.Background(), tbl, &s, expr.NewHCL(), false)
	require.NoError(t, err)

	assert.Equal(t, []float64{20, 60, 120}, floats(t, out, "total"))
	assert.Equal(t, []float64{40, 120, 240}, floats(t, out, "total_2x"))
	assert.Equal(t, []string{"price", "quantity", "total", "total_2x"}, out.Names())

	rec, ok := out.Log().Last()
	require.True(t, ok)
	assert.Equal(t, provenance.OpDerive, rec.Op)
	assert.Equal(t, []string{"price", "quantity"}, rec.Inputs)
	assert.Equal(t, []string{"total", "total_2x"}, rec.Outputs)
	assert.Equal(t, "hcl", rec.Detail["engine"])
	assert.Equal(t, "price * quantity", rec.Detail["expr.total"])
}

func TestRunDocumentOrderBeatsResolutionOrder(t *testing.T) {
	tbl := baseTable(t)
	var s spec.Spec
	require.NoError(t, s.Add("total_2x", "total * 2"))
	require.NoError(t, s.Add("total", "price * quantity"))

	out, err := derive.Run(context.Background(), tbl, &s, expr.NewHCL(), false)
	require.NoError(t, err)

	// total is evaluated first but the table layout follows the document.
	assert.Equal(t, []string{"price", "quantity", "total_2x", "total"}, out.Names())
	assert.Equal(t, []float64{40, 120, 240}, floats(t, out, "total_2x"))
}

func TestRunAtomicity(t *testing.T) {
	tbl := baseTable(t)
	var s spec.Spec
	require.NoError(t, s.Add("a", "price + 1"))
	require.NoError(t, s.Add("b", "unknown_col * 2"))

	out, err := derive.Run(context.Background(), tbl, &s, expr.NewHCL(), false)
	require.Nil(t, out)

	var unknownErr *graph.UnknownReferenceError
	require.ErrorAs(t, err, &unknownErr)

	// Neither output landed, including the one that would have succeeded.
	assert.False(t, tbl.Has("a"))
	assert.False(t, tbl.Has("b"))
	assert.Empty(t, tbl.Log())
}

func TestRunRowFailureRollsBackBatch(t *testing.T) {
	tbl := testutil.NewTable(t,
		testutil.Column{Name: "label", Type: cty.String, Values: testutil.Strings("x", "y")},
		testutil.Column{Name: "price", Type: cty.Number, Values: testutil.Numbers(1, 2)},
	)

	var s spec.Spec
	require.NoError(t, s.Add("good", "price + 1"))
	require.NoError(t, s.Add("bad", "label * 2"))

	_, err := derive.Run(context.Background(), tbl, &s, expr.NewHCL(), false)
	var evalErr *derive.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "bad", evalErr.Output)
	assert.False(t, tbl.Has("good"))
}

func TestRunOverwriteReadsCurrentValue(t *testing.T) {
	tbl := baseTable(t)
	var s spec.Spec
	require.NoError(t, s.Add("price", "price * 10"))

	out, err := derive.Run(context.Background(), tbl, &s, expr.NewHCL(), true)
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 30, 40}, floats(t, out, "price"))

	// The original handle still sees the old values.
	assert.Equal(t, []float64{2, 3, 4}, floats(t, tbl, "price"))
}

func TestRunOverwriteDisabledByDefault(t *testing.T) {
	tbl := baseTable(t)
	var s spec.Spec
	require.NoError(t, s.Add("price", "price * 10"))

	_, err := derive.Run(context.Background(), tbl, &s, expr.NewHCL(), false)
	var confErr *graph.RedefinitionConflictError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "price", confErr.Column)
}

func TestRunTwiceWithOverwriteIsStable(t *testing.T) {
	var s spec.Spec
	require.NoError(t, s.Add("total", "price * quantity"))

	once, err := derive.Run(context.Background(), baseTable(t), &s, expr.NewHCL(), false)
	require.NoError(t, err)
	twice, err := derive.Run(context.Background(), once, &s, expr.NewHCL(), true)
	require.NoError(t, err)

	assert.Equal(t, floats(t, once, "total"), floats(t, twice, "total"))
	assert.Len(t, twice.Log(), 2)
}

func TestRunReplayIdentity(t *testing.T) {
	var s spec.Spec
	require.NoError(t, s.Add("total", "price * quantity"))
	require.NoError(t, s.Add("big", "total > 50"))

	run := func() *table.Table {
		out, err := derive.Run(context.Background(), baseTable(t), &s, expr.NewHCL(), false)
		require.NoError(t, err)
		return out
	}

	first, second := run(), run()

	rec1, _ := first.Log().Last()
	rec2, _ := second.Log().Last()
	diff := cmp.Diff(rec1, rec2, cmpopts.IgnoreFields(provenance.Record{}, "Timestamp"))
	assert.Empty(t, diff, "replayed records differ beyond the timestamp")

	v1, _ := first.Column("total")
	v2, _ := second.Column("total")
	for i := range v1 {
		assert.True(t, v1[i].RawEquals(v2[i]), "row %d differs", i)
	}
}
