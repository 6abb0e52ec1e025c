package expr

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// GoScript evaluates plain Go expressions over column values using the
// yaegi interpreter. Column identifiers become typed parameters of a
// generated function, which is interpreted once and then called per row.
//
// Expressions are limited to Go operators and builtins over the column
// identifiers; package references are not resolved.
type GoScript struct{}

// NewGoScript creates the yaegi-backed expression engine.
func NewGoScript() *GoScript {
	return &GoScript{}
}

// Name implements Engine.
func (e *GoScript) Name() string { return "goscript" }

// ExtractIdentifiers implements Engine using the Go parser. yaegi has no
// static analysis surface of its own, so the standard AST is the companion
// tool for its input format. Identifiers used as function names or selector
// fields are not column references and are skipped.
func (e *GoScript) ExtractIdentifiers(exprText string) ([]string, error) {
	node, err := parser.ParseExpr(exprText)
	if err != nil {
		return nil, &EvalError{Expr: exprText, Row: -1, Reason: err.Error()}
	}

	skip := make(map[ast.Node]struct{})
	seen := make(map[string]struct{})
	ast.Inspect(node, func(n ast.Node) bool {
		switch v := n.(type) {
		case *ast.CallExpr:
			if fn, ok := v.Fun.(*ast.Ident); ok {
				skip[fn] = struct{}{}
			}
		case *ast.SelectorExpr:
			skip[v.Sel] = struct{}{}
			if x, ok := v.X.(*ast.Ident); ok {
				skip[x] = struct{}{}
			}
		case *ast.Ident:
			if _, skipped := skip[v]; skipped {
				return true
			}
			switch v.Name {
			case "true", "false", "nil":
				return true
			}
			seen[v.Name] = struct{}{}
		}
		return true
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// goTypeFor maps a column type to the Go parameter type of the generated
// function.
func goTypeFor(typ cty.Type) (string, bool) {
	switch {
	case typ.Equals(cty.Number):
		return "float64", true
	case typ.Equals(cty.String):
		return "string", true
	case typ.Equals(cty.Bool):
		return "bool", true
	}
	return "", false
}

// Evaluate implements Engine. It generates `func __col(<params>) any`,
// interprets it once, and calls it for every row via reflection. A fresh
// interpreter per call keeps evaluation deterministic and free of leaked
// state between batches.
func (e *GoScript) Evaluate(ctx context.Context, exprText string, namespace map[string][]cty.Value, rows int) ([]cty.Value, cty.Type, error) {
	logger := ctxlog.FromContext(ctx)

	idents, err := e.ExtractIdentifiers(exprText)
	if err != nil {
		return nil, cty.NilType, err
	}

	params := make([]string, 0, len(idents))
	for _, name := range idents {
		col, ok := namespace[name]
		if !ok {
			return nil, cty.NilType, &EvalError{Expr: exprText, Row: -1, Reason: "unknown column " + name}
		}
		typ := columnTypeOf(col)
		goType, ok := goTypeFor(typ)
		if !ok {
			return nil, cty.NilType, &EvalError{
				Expr:   exprText,
				Row:    -1,
				Reason: fmt.Sprintf("column %s has type %s, not usable from a goscript expression", name, typ.FriendlyName()),
			}
		}
		params = append(params, name+" "+goType)
	}

	i := interp.New(interp.Options{})
	// The explicit any(...) conversion works around a yaegi bug (present
	// through v0.16.1) where returning a comparison result directly through
	// an interface return type panics with "reflect.Value.SetBool".
	src := fmt.Sprintf("func __col(%s) any { return any(%s) }", strings.Join(params, ", "), exprText)
	if _, err := i.Eval(src); err != nil {
		return nil, cty.NilType, &EvalError{Expr: exprText, Row: -1, Reason: err.Error()}
	}
	fnVal, err := i.Eval("__col")
	if err != nil {
		return nil, cty.NilType, &EvalError{Expr: exprText, Row: -1, Reason: err.Error()}
	}

	out := make([]cty.Value, rows)
	for row := 0; row < rows; row++ {
		args := make([]reflect.Value, 0, len(idents))
		nullInput := false
		for _, name := range idents {
			v := namespace[name][row]
			if v.IsNull() {
				nullInput = true
				break
			}
			goVal, err := goValueOf(v)
			if err != nil {
				return nil, cty.NilType, &EvalError{Expr: exprText, Row: row, Reason: err.Error()}
			}
			args = append(args, reflect.ValueOf(goVal))
		}
		if nullInput {
			out[row] = cty.NullVal(cty.DynamicPseudoType)
			continue
		}

		result, callErr := callInterpreted(fnVal, args)
		if callErr != nil {
			return nil, cty.NilType, &EvalError{Expr: exprText, Row: row, Reason: callErr.Error()}
		}
		ctyVal, err := ctyValueOf(result)
		if err != nil {
			return nil, cty.NilType, &EvalError{Expr: exprText, Row: row, Reason: err.Error()}
		}
		out[row] = ctyVal
	}

	typ, err := unifyResultType(exprText, out)
	if err != nil {
		return nil, cty.NilType, err
	}
	logger.Debug("Expression evaluated.", "engine", e.Name(), "expr", exprText, "rows", rows, "type", typ.FriendlyName())
	return normalizeNulls(out, typ), typ, nil
}

// callInterpreted invokes the interpreted function, turning panics from
// inside the interpreter (e.g. division by zero) into errors.
func callInterpreted(fn reflect.Value, args []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	results := fn.Call(args)
	return results[0].Interface(), nil
}

// columnTypeOf infers a column's type from its first non-null value.
func columnTypeOf(col []cty.Value) cty.Type {
	for _, v := range col {
		if !v.IsNull() {
			return v.Type()
		}
	}
	return cty.String
}

// goValueOf converts a scalar cty value into its Go counterpart.
func goValueOf(v cty.Value) (any, error) {
	switch {
	case v.Type().Equals(cty.Number):
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		return f, nil
	case v.Type().Equals(cty.String):
		var s string
		if err := gocty.FromCtyValue(v, &s); err != nil {
			return nil, err
		}
		return s, nil
	case v.Type().Equals(cty.Bool):
		var b bool
		if err := gocty.FromCtyValue(v, &b); err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", v.Type().FriendlyName())
}

// ctyValueOf converts an interpreter result back into a cty value.
func ctyValueOf(goVal any) (cty.Value, error) {
	if goVal == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	impliedType, err := gocty.ImpliedType(goVal)
	if err != nil {
		return cty.NilVal, err
	}
	return gocty.ToCtyValue(goVal, impliedType)
}
