package expr

import (
	"context"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// HCL is the default expression engine. Expressions use HCL native syntax
// and operate over cty values: bare identifiers resolve to the column value
// of the current row.
type HCL struct{}

// NewHCL creates the HCL expression engine.
func NewHCL() *HCL {
	return &HCL{}
}

// Name implements Engine.
func (e *HCL) Name() string { return "hcl" }

// parse turns expression text into a syntax expression. The filename is
// synthetic; diagnostics still carry useful positions within the text.
func (e *HCL) parse(exprText string) (hclsyntax.Expression, error) {
	parsed, diags := hclsyntax.ParseExpression([]byte(exprText), "derive", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &EvalError{Expr: exprText, Row: -1, Reason: diags.Error()}
	}
	return parsed, nil
}

// ExtractIdentifiers implements Engine. It relies on the expression's own
// Variables() analysis and returns the unique root names, sorted so the
// result is deterministic.
func (e *HCL) ExtractIdentifiers(exprText string) ([]string, error) {
	parsed, err := e.parse(exprText)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, traversal := range parsed.Variables() {
		seen[traversal.RootName()] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Evaluate implements Engine. The expression is parsed once and evaluated
// row by row with an hcl.EvalContext exposing each referenced column's
// value for that row as a scalar variable.
func (e *HCL) Evaluate(ctx context.Context, exprText string, namespace map[string][]cty.Value, rows int) ([]cty.Value, cty.Type, error) {
	logger := ctxlog.FromContext(ctx)

	parsed, err := e.parse(exprText)
	if err != nil {
		return nil, cty.NilType, err
	}

	// Restrict the per-row variable set to the columns the expression
	// actually references; unknown names surface as HCL diagnostics.
	var referenced []string
	for _, traversal := range parsed.Variables() {
		referenced = append(referenced, traversal.RootName())
	}

	out := make([]cty.Value, rows)
	for row := 0; row < rows; row++ {
		vars := make(map[string]cty.Value, len(referenced))
		nullInput := false
		for _, name := range referenced {
			col, ok := namespace[name]
			if !ok {
				return nil, cty.NilType, &EvalError{Expr: exprText, Row: row, Reason: "unknown column " + name}
			}
			if col[row].IsNull() {
				nullInput = true
			}
			vars[name] = col[row]
		}

		// Nulls propagate: a missing input yields a missing output rather
		// than an arithmetic diagnostic.
		if nullInput {
			out[row] = cty.NullVal(cty.DynamicPseudoType)
			continue
		}

		val, diags := parsed.Value(&hcl.EvalContext{Variables: vars})
		if diags.HasErrors() {
			return nil, cty.NilType, &EvalError{Expr: exprText, Row: row, Reason: diags.Error()}
		}
		out[row] = val
	}

	typ, err := unifyResultType(exprText, out)
	if err != nil {
		return nil, cty.NilType, err
	}
	logger.Debug("Expression evaluated.", "engine", e.Name(), "expr", exprText, "rows", rows, "type", typ.FriendlyName())
	return normalizeNulls(out, typ), typ, nil
}
