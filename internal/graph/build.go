package graph

import (
	"context"
	"sort"

	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/spec"
)

// IdentifierExtractor is the slice of the expression engine the builder
// needs: static extraction of the identifiers an expression references.
type IdentifierExtractor interface {
	ExtractIdentifiers(exprText string) ([]string, error)
}

// Build constructs the dependency graph for a derivation spec against a set
// of existing column names. Nodes are the existing columns plus the spec's
// output names; each output gets an edge from every identifier its
// expression references. Pure function of its inputs: the table itself is
// never touched.
//
// Fails with *UnknownReferenceError if an expression references a name that
// is neither an existing column nor another spec output.
func Build(ctx context.Context, s *spec.Spec, existing []string, extractor IdentifierExtractor) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting dependency graph construction.", "outputs", s.Len(), "existing_columns", len(existing))

	g := New()

	// First pass: create all nodes, so edges can be linked regardless of
	// definition order.
	for _, name := range existing {
		g.AddNode(name)
	}
	for _, entry := range s.Entries() {
		g.AddNode(entry.Name)
	}
	logger.Debug("Build: node creation complete.", "node_count", g.Len())

	// Track what counts as a known name for the unknown-reference check.
	known := make(map[string]struct{}, len(existing)+s.Len())
	isExisting := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		known[name] = struct{}{}
		isExisting[name] = struct{}{}
	}
	for _, name := range s.Names() {
		known[name] = struct{}{}
	}

	// Second pass: link each output to the identifiers it references.
	for _, entry := range s.Entries() {
		idents, err := extractor.ExtractIdentifiers(entry.Expr)
		if err != nil {
			return nil, err
		}
		for _, ident := range idents {
			if _, ok := known[ident]; !ok {
				available := make([]string, 0, len(known))
				for name := range known {
					available = append(available, name)
				}
				sort.Strings(available)
				return nil, &UnknownReferenceError{Output: entry.Name, Reference: ident, Available: available}
			}
			if ident == entry.Name {
				if _, preexists := isExisting[ident]; preexists {
					// A re-derivation referencing its own name reads the
					// current column value, not its own result.
					continue
				}
			}
			if err := g.AddEdge(ident, entry.Name); err != nil {
				return nil, err
			}
		}
	}
	logger.Debug("Build: dependency linking complete.")

	return g, nil
}
