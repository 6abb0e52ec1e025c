// Package cast converts existing columns to new types through cty's
// conversion machinery. Casting never invents data: a value that cannot be
// converted fails the whole operation.
package cast

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/provenance"
	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// ParseType maps the type names accepted in cast specs to cty types.
func ParseType(name string) (cty.Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string":
		return cty.String, nil
	case "number":
		return cty.Number, nil
	case "bool":
		return cty.Bool, nil
	}
	return cty.NilType, fmt.Errorf("unknown cast type %q, want string, number or bool", name)
}

// Error reports a value that could not be converted.
type Error struct {
	Column string
	Row    int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to cast column %q at row %d: %v", e.Column, e.Row, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Run casts the named columns to their target types and returns a new table
// with one appended provenance record. Columns named in the spec but absent
// from the table are skipped with a warning, matching the tolerant
// behaviour expected from interactive cast specs; the skipped names are
// surfaced in the record's detail.
func Run(ctx context.Context, tbl *table.Table, types map[string]cty.Type) (*table.Table, error) {
	logger := ctxlog.FromContext(ctx)

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	out := tbl
	var casted, skipped []string
	detail := make(map[string]string)

	for _, name := range names {
		target := types[name]
		values, ok := tbl.Column(name)
		if !ok {
			logger.Warn("Cast: column not found, skipping.", "column", name, "available", tbl.Names())
			skipped = append(skipped, name)
			continue
		}

		converted := make([]cty.Value, len(values))
		for i, v := range values {
			if v.IsNull() {
				converted[i] = cty.NullVal(target)
				continue
			}
			cv, err := convert.Convert(v, target)
			if err != nil {
				return nil, &Error{Column: name, Row: i, Err: err}
			}
			converted[i] = cv
		}

		var err error
		out, err = out.SetColumn(name, target, converted)
		if err != nil {
			return nil, &Error{Column: name, Row: -1, Err: err}
		}
		casted = append(casted, name)
		detail["type."+name] = target.FriendlyName()
	}

	if len(skipped) > 0 {
		detail["skipped"] = strings.Join(skipped, ",")
	}

	out = out.WithRecord(provenance.NewRecord(provenance.OpCast, casted, casted, detail))
	logger.Info("Cast: committed.", "columns", casted, "skipped", skipped)
	return out, nil
}
