package graph

import (
	"fmt"
	"strings"
)

// UnknownReferenceError is returned when an expression references an
// identifier that is neither an existing column nor another output of the
// same derivation spec.
type UnknownReferenceError struct {
	// Output is the derivation output whose expression holds the reference.
	Output string
	// Reference is the unknown identifier.
	Reference string
	// Available lists the names that were in scope, for the diagnostic.
	Available []string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("derivation %q references unknown column %q (available: %s)",
		e.Output, e.Reference, strings.Join(e.Available, ", "))
}

// CyclicDependencyError is returned when derivation outputs depend on each
// other in a cycle. Members holds every column participating in the cycle.
type CyclicDependencyError struct {
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency between derived columns: %s", strings.Join(e.Members, " -> "))
}

// RedefinitionConflictError is returned when a derivation output collides
// with an existing column and the chain's overwrite policy disallows it.
type RedefinitionConflictError struct {
	Column string
}

func (e *RedefinitionConflictError) Error() string {
	return fmt.Sprintf("derivation output %q would overwrite an existing column (overwrite is disabled)", e.Column)
}
