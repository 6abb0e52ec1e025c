// Package derive implements the derivation executor: it builds the
// dependency graph for a spec, resolves the evaluation order, evaluates
// every expression through the expression engine against an evolving
// namespace, and commits the batch atomically with one provenance record.
package derive

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/graph"
	"github.com/vk/enrichgo/internal/provenance"
	"github.com/vk/enrichgo/internal/spec"
	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// Engine is the slice of the expression collaborator the executor needs.
type Engine interface {
	graph.IdentifierExtractor
	Name() string
	Evaluate(ctx context.Context, exprText string, namespace map[string][]cty.Value, rows int) ([]cty.Value, cty.Type, error)
}

// EvaluationError reports the failure of one expression inside a derive
// batch. The whole batch is rolled back when it occurs.
type EvaluationError struct {
	Output string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("failed to derive column %q: %v", e.Output, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// stagedColumn holds one evaluated output before the batch commits.
type stagedColumn struct {
	typ    cty.Type
	values []cty.Value
}

// Run executes one derive call. All expressions in the batch are evaluated
// against one evolving snapshot: an expression sees the outputs resolved
// before it and never those after. On any single failure nothing is
// committed and the input table is returned unchanged alongside the error.
// On success the returned table carries the new columns (in spec order) and
// one appended provenance record summarizing the whole batch.
func Run(ctx context.Context, tbl *table.Table, s *spec.Spec, engine Engine, overwrite bool) (*table.Table, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Derive: starting batch.", "outputs", s.Len(), "engine", engine.Name(), "overwrite", overwrite)

	existing := tbl.Names()

	g, err := graph.Build(ctx, s, existing, engine)
	if err != nil {
		return nil, err
	}

	ordered, err := graph.Resolve(ctx, g, s, existing, overwrite)
	if err != nil {
		return nil, err
	}

	// Evaluate in resolved order against a namespace that grows with each
	// produced output. Results are staged; nothing touches the table until
	// the whole batch has succeeded.
	namespace := tbl.Namespace()
	staged := make(map[string]stagedColumn, s.Len())
	for _, entry := range ordered {
		values, typ, err := engine.Evaluate(ctx, entry.Expr, namespace, tbl.Rows())
		if err != nil {
			return nil, &EvaluationError{Output: entry.Name, Err: err}
		}
		staged[entry.Name] = stagedColumn{typ: typ, values: values}
		namespace[entry.Name] = values
	}

	// Commit in spec order so the table layout follows the document, not
	// the resolution order.
	out := tbl
	for _, entry := range s.Entries() {
		col := staged[entry.Name]
		out, err = out.SetColumn(entry.Name, col.typ, col.values)
		if err != nil {
			return nil, &EvaluationError{Output: entry.Name, Err: err}
		}
	}

	inputs, err := referencedInputs(s, existing, engine)
	if err != nil {
		return nil, err
	}

	detail := map[string]string{"engine": engine.Name()}
	for _, entry := range s.Entries() {
		detail["expr."+entry.Name] = entry.Expr
	}

	out = out.WithRecord(provenance.NewRecord(provenance.OpDerive, inputs, s.Names(), detail))
	logger.Info("Derive: batch committed.", "outputs", s.Names(), "inputs", inputs)
	return out, nil
}

// referencedInputs collects the existing columns referenced by any
// expression in the spec, sorted and de-duplicated. Intra-batch references
// to other outputs are not inputs; those names already appear as outputs of
// the same record.
func referencedInputs(s *spec.Spec, existing []string, engine Engine) ([]string, error) {
	existingSet := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		existingSet[name] = struct{}{}
	}
	outputSet := make(map[string]struct{}, s.Len())
	for _, name := range s.Names() {
		outputSet[name] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, entry := range s.Entries() {
		idents, err := engine.ExtractIdentifiers(entry.Expr)
		if err != nil {
			return nil, err
		}
		for _, ident := range idents {
			if _, isOutput := outputSet[ident]; isOutput && ident != entry.Name {
				continue
			}
			if _, isExisting := existingSet[ident]; isExisting {
				seen[ident] = struct{}{}
			}
		}
	}

	inputs := make([]string, 0, len(seen))
	for name := range seen {
		inputs = append(inputs, name)
	}
	sort.Strings(inputs)
	return inputs, nil
}
