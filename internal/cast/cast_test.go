package cast_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/enrichgo/internal/cast"
	"github.com/vk/enrichgo/internal/provenance"
	"github.com/vk/enrichgo/internal/testutil"
	"github.com/zclconf/go-cty/cty"
)

func TestParseType(t *testing.T) {
	for name, want := range map[string]cty.Type{
		"string": cty.String,
		"number": cty.Number,
		"bool":   cty.Bool,
		" Bool ": cty.Bool,
	} {
		typ, err := cast.ParseType(name)
		require.NoError(t, err)
		assert.True(t, typ.Equals(want))
	}

	_, err := cast.ParseType("decimal")
	assert.ErrorContains(t, err, "unknown cast type")
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("number to string", func(t *testing.T) {
		tbl := testutil.NewTable(t,
			testutil.Column{Name: "qty", Type: cty.Number, Values: testutil.Numbers(1, 2)},
		)

		out, err := cast.Run(ctx, tbl, map[string]cty.Type{"qty": cty.String})
		require.NoError(t, err)

		typ, _ := out.ColumnType("qty")
		assert.True(t, typ.Equals(cty.String))
		values, _ := out.Column("qty")
		assert.Equal(t, "1", values[0].AsString())

		// Original table is untouched.
		origType, _ := tbl.ColumnType("qty")
		assert.True(t, origType.Equals(cty.Number))
	})

	t.Run("string to number", func(t *testing.T) {
		tbl := testutil.NewTable(t,
			testutil.Column{Name: "qty", Type: cty.String, Values: testutil.Strings("10", "20")},
		)

		out, err := cast.Run(ctx, tbl, map[string]cty.Type{"qty": cty.Number})
		require.NoError(t, err)
		typ, _ := out.ColumnType("qty")
		assert.True(t, typ.Equals(cty.Number))
	})

	t.Run("unconvertible value names column and row", func(t *testing.T) {
		tbl := testutil.NewTable(t,
			testutil.Column{Name: "qty", Type: cty.String, Values: testutil.Strings("10", "many")},
		)

		_, err := cast.Run(ctx, tbl, map[string]cty.Type{"qty": cty.Number})
		var castErr *cast.Error
		require.ErrorAs(t, err, &castErr)
		assert.Equal(t, "qty", castErr.Column)
		assert.Equal(t, 1, castErr.Row)
	})

	t.Run("nulls survive the cast", func(t *testing.T) {
		tbl := testutil.NewTable(t,
			testutil.Column{Name: "qty", Type: cty.Number, Values: []cty.Value{cty.NumberFloatVal(1), cty.NullVal(cty.Number)}},
		)

		out, err := cast.Run(ctx, tbl, map[string]cty.Type{"qty": cty.String})
		require.NoError(t, err)
		values, _ := out.Column("qty")
		assert.True(t, values[1].IsNull())
		assert.True(t, values[1].Type().Equals(cty.String))
	})

	t.Run("missing column is skipped and surfaced", func(t *testing.T) {
		tbl := testutil.NewTable(t,
			testutil.Column{Name: "qty", Type: cty.Number, Values: testutil.Numbers(1)},
		)

		out, err := cast.Run(ctx, tbl, map[string]cty.Type{
			"qty":     cty.String,
			"missing": cty.Bool,
		})
		require.NoError(t, err)

		rec, ok := out.Log().Last()
		require.True(t, ok)
		assert.Equal(t, provenance.OpCast, rec.Op)
		assert.Equal(t, []string{"qty"}, rec.Outputs)
		assert.Equal(t, "missing", rec.Detail["skipped"])
		assert.Equal(t, "string", rec.Detail["type.qty"])
	})
}
