package validate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/enrichgo/internal/testutil"
	"github.com/vk/enrichgo/internal/validate"
	"github.com/zclconf/go-cty/cty"
)

func TestSchemaValidator(t *testing.T) {
	ctx := context.Background()
	v := validate.NewSchemaValidator()

	tbl := testutil.NewTable(t,
		testutil.Column{Name: "id", Type: cty.String, Values: testutil.Strings("a", "b")},
		testutil.Column{Name: "age", Type: cty.Number, Values: []cty.Value{cty.NumberFloatVal(30), cty.NullVal(cty.Number)}},
	)

	t.Run("passing schema", func(t *testing.T) {
		schema := validate.Schema{
			"id":  {Type: cty.String, Required: true, NonNull: true},
			"age": {Type: cty.Number, Required: true},
		}
		assert.NoError(t, v.Validate(ctx, tbl, schema))
	})

	t.Run("all violations are aggregated", func(t *testing.T) {
		schema := validate.Schema{
			"id":      {Type: cty.Number},          // wrong type
			"age":     {NonNull: true},             // has a null
			"missing": {Required: true},            // absent
			"other":   {Type: cty.Bool},            // absent but not required: no issue
		}
		err := v.Validate(ctx, tbl, schema)

		var vErr *validate.Error
		require.ErrorAs(t, err, &vErr)
		require.Len(t, vErr.Issues, 3)

		columns := make([]string, len(vErr.Issues))
		for i, issue := range vErr.Issues {
			columns[i] = issue.Column
		}
		assert.ElementsMatch(t, []string{"id", "age", "missing"}, columns)
	})

	t.Run("empty schema passes", func(t *testing.T) {
		assert.NoError(t, v.Validate(ctx, tbl, validate.Schema{}))
	})
}
