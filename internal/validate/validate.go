// Package validate defines the boundary to the schema-validation
// collaborator and ships a built-in validator checking declared column
// types, required columns, and null constraints. The enrichment core does
// not interpret validation details beyond forwarding them into provenance.
package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// Rule constrains one column.
type Rule struct {
	// Type the column must carry. cty.NilType skips the type check.
	Type cty.Type
	// Required fails validation when the column is absent.
	Required bool
	// NonNull fails validation when any row holds a null.
	NonNull bool
}

// Schema maps column names to their rules.
type Schema map[string]Rule

// Issue is one violated rule.
type Issue struct {
	Column string
	Reason string
}

func (i Issue) String() string {
	return i.Column + ": " + i.Reason
}

// Error aggregates every violated rule of a validation run. The core
// forwards Issues verbatim into provenance details and re-raises.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("schema validation failed: %s", strings.Join(parts, "; "))
}

// Validator is the validation collaborator contract.
type Validator interface {
	// Name identifies the validator in provenance records.
	Name() string
	// Validate returns nil when the table satisfies the schema, or an
	// *Error describing every violation found.
	Validate(ctx context.Context, tbl *table.Table, schema Schema) error
}

// SchemaValidator is the built-in Validator.
type SchemaValidator struct{}

// NewSchemaValidator creates the built-in validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Name implements Validator.
func (v *SchemaValidator) Name() string { return "schema" }

// Validate implements Validator. All rules are checked; every violation is
// reported, not just the first.
func (v *SchemaValidator) Validate(ctx context.Context, tbl *table.Table, schema Schema) error {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []Issue
	for _, name := range names {
		rule := schema[name]

		typ, exists := tbl.ColumnType(name)
		if !exists {
			if rule.Required {
				issues = append(issues, Issue{Column: name, Reason: "required column is missing"})
			}
			continue
		}

		if rule.Type != cty.NilType && !typ.Equals(rule.Type) {
			issues = append(issues, Issue{
				Column: name,
				Reason: fmt.Sprintf("type is %s, want %s", typ.FriendlyName(), rule.Type.FriendlyName()),
			})
		}

		if rule.NonNull {
			values, _ := tbl.Column(name)
			nulls := 0
			for _, val := range values {
				if val.IsNull() {
					nulls++
				}
			}
			if nulls > 0 {
				issues = append(issues, Issue{
					Column: name,
					Reason: fmt.Sprintf("%d null values in a non-null column", nulls),
				})
			}
		}
	}

	if len(issues) > 0 {
		return &Error{Issues: issues}
	}
	return nil
}
