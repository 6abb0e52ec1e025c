package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/spec"
)

// Resolve produces the total evaluation order over the spec's outputs via a
// topological sort restricted to the derivation-output subgraph: existing
// columns are always ready and never scheduled. Among outputs whose
// dependencies are all satisfied, spec order wins the tie-break, which
// keeps evaluation deterministic even when an expression overwrites a
// column read by a later, unrelated expression.
//
// Fails with *RedefinitionConflictError when an output collides with an
// existing column and overwrite is disabled, and with
// *CyclicDependencyError naming every member column of a detected cycle.
func Resolve(ctx context.Context, g *Graph, s *spec.Spec, existing []string, overwrite bool) ([]spec.Entry, error) {
	logger := ctxlog.FromContext(ctx)

	existingSet := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		existingSet[name] = struct{}{}
	}

	// Redefinition policy gate, checked in spec order so the first
	// offender is the one reported.
	for _, name := range s.Names() {
		if _, collides := existingSet[name]; collides && !overwrite {
			return nil, &RedefinitionConflictError{Column: name}
		}
	}

	rank := make(map[string]int, s.Len())
	for i, name := range s.Names() {
		rank[name] = i
	}

	// Kahn's algorithm over output nodes only. An output's in-degree
	// counts just its dependencies on other outputs; dependencies on
	// existing columns are satisfied by definition.
	indegree := make(map[string]int, s.Len())
	for _, name := range s.Names() {
		deps, err := g.Dependencies(name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dependencies of %q: %w", name, err)
		}
		count := 0
		for _, dep := range deps {
			// A self-edge counts too: a non-overwriting output defined in
			// terms of itself is a one-node cycle.
			if _, isOutput := rank[dep]; isOutput {
				count++
			}
		}
		indegree[name] = count
	}

	ready := make([]string, 0, s.Len())
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	ordered := make([]spec.Entry, 0, s.Len())
	for len(ready) > 0 {
		// Stable tie-break: lowest spec rank first.
		sort.Slice(ready, func(i, j int) bool { return rank[ready[i]] < rank[ready[j]] })
		name := ready[0]
		ready = ready[1:]

		exprText, _ := s.Expr(name)
		ordered = append(ordered, spec.Entry{Name: name, Expr: exprText})

		dependents, err := g.Dependents(name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dependents of %q: %w", name, err)
		}
		for _, dep := range dependents {
			if _, isOutput := rank[dep]; !isOutput {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) < s.Len() {
		cycle := g.FindCycle()
		members := make([]string, 0, len(cycle))
		for _, id := range cycle {
			if _, isOutput := rank[id]; isOutput {
				members = append(members, id)
			}
		}
		return nil, &CyclicDependencyError{Members: members}
	}

	names := make([]string, len(ordered))
	for i, e := range ordered {
		names[i] = e.Name
	}
	logger.Debug("Resolve: evaluation order determined.", "order", names)
	return ordered, nil
}
