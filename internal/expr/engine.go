// Package expr defines the narrow boundary to the expression-evaluation
// collaborator. The enrichment core never parses arithmetic itself: it only
// asks an Engine which identifiers an expression references (for dependency
// analysis) and later asks it to produce a column from an expression and a
// namespace of available columns.
//
// Two engines are provided: HCL (the default, evaluating hclsyntax
// expressions over cty values) and GoScript (evaluating Go expressions via
// the yaegi interpreter). Both are deterministic for identical inputs,
// which the resolver relies on for replay identity.
package expr

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Engine is the expression-evaluation collaborator contract.
type Engine interface {
	// Name identifies the engine in provenance detail payloads.
	Name() string

	// ExtractIdentifiers statically extracts the set of column names the
	// expression references, sorted and de-duplicated. It must not evaluate
	// anything.
	ExtractIdentifiers(exprText string) ([]string, error)

	// Evaluate produces one column of rows values by evaluating exprText
	// against the namespace of available columns. The returned type is the
	// column type of the result; rows with null inputs may yield nulls of
	// that type.
	Evaluate(ctx context.Context, exprText string, namespace map[string][]cty.Value, rows int) ([]cty.Value, cty.Type, error)
}

// unifyResultType picks the single non-null type of an evaluated column.
// All-null columns are typed as string so downstream code always has a
// concrete column type to declare.
func unifyResultType(exprText string, values []cty.Value) (cty.Type, error) {
	typ := cty.NilType
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		if typ == cty.NilType {
			typ = v.Type()
			continue
		}
		if !v.Type().Equals(typ) {
			return cty.NilType, &EvalError{
				Expr:   exprText,
				Reason: "expression produced mixed value types across rows: " + typ.FriendlyName() + " and " + v.Type().FriendlyName(),
			}
		}
	}
	if typ == cty.NilType {
		typ = cty.String
	}
	return typ, nil
}

// normalizeNulls retypes null values to the unified column type so a column
// never mixes differently typed nulls.
func normalizeNulls(values []cty.Value, typ cty.Type) []cty.Value {
	for i, v := range values {
		if v.IsNull() && !v.Type().Equals(typ) {
			values[i] = cty.NullVal(typ)
		}
	}
	return values
}

// EvalError reports a failure to parse or evaluate one expression.
type EvalError struct {
	Expr   string
	Row    int // -1 when the failure is not row specific
	Reason string
}

func (e *EvalError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("expression %q failed at row %d: %s", e.Expr, e.Row, e.Reason)
	}
	return fmt.Sprintf("expression %q failed: %s", e.Expr, e.Reason)
}
