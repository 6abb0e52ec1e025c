// Package table implements the in-memory column-oriented table that every
// enrichment operation consumes and produces.
//
// A Table is an ordered collection of equal-length named columns holding
// cty values. Tables are handled copy-on-write: operations clone the table
// header (column order, type map, provenance log) and replace only the
// columns they touch, so the untouched column storage is shared between the
// old and the new table while neither can observe the other's changes.
package table

import (
	"fmt"

	"github.com/vk/enrichgo/internal/provenance"
	"github.com/zclconf/go-cty/cty"
)

// Table is an ordered set of named, homogeneously typed columns plus the
// provenance log of the operations that produced it.
type Table struct {
	names  []string
	types  map[string]cty.Type
	cols   map[string][]cty.Value
	rowKey string
	rows   int
	log    provenance.Log
}

// New returns an empty table. The first column added determines the row
// count; every later column must match it.
func New() *Table {
	return &Table{
		types: make(map[string]cty.Type),
		cols:  make(map[string][]cty.Value),
	}
}

// AddColumn appends a new column. It fails if the name is already taken or
// if the value count disagrees with the table's row count. Null values are
// accepted in any column; non-null values must carry the declared type.
func (t *Table) AddColumn(name string, typ cty.Type, values []cty.Value) error {
	if _, exists := t.cols[name]; exists {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(t.names) > 0 && len(values) != t.rows {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), t.rows)
	}
	for i, v := range values {
		if !v.IsNull() && !v.Type().Equals(typ) {
			return fmt.Errorf("column %q row %d: value type %s does not match column type %s",
				name, i, v.Type().FriendlyName(), typ.FriendlyName())
		}
	}
	if len(t.names) == 0 {
		t.rows = len(values)
	}
	t.names = append(t.names, name)
	t.types[name] = typ
	t.cols[name] = values
	return nil
}

// Names returns the column names in table order. The returned slice is a
// copy for the caller to keep.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Has reports whether a column with the given name exists.
func (t *Table) Has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column returns the values of the named column. The slice is shared
// storage and must not be mutated by the caller.
func (t *Table) Column(name string) ([]cty.Value, bool) {
	vals, ok := t.cols[name]
	return vals, ok
}

// ColumnType returns the declared type of the named column.
func (t *Table) ColumnType(name string) (cty.Type, bool) {
	typ, ok := t.types[name]
	return typ, ok
}

// Rows returns the number of rows.
func (t *Table) Rows() int {
	return t.rows
}

// RowKey returns the name of the declared row-key column, or "" if none.
func (t *Table) RowKey() string {
	return t.rowKey
}

// WithRowKey returns a new table handle with the given column declared as
// the row key. It fails if the column does not exist.
func (t *Table) WithRowKey(name string) (*Table, error) {
	if !t.Has(name) {
		return nil, fmt.Errorf("row key column %q does not exist", name)
	}
	out := t.clone()
	out.rowKey = name
	return out, nil
}

// Log returns the table's provenance log. Pure accessor: reading the log
// never mutates it, and the returned value is safe against later appends
// because appends always allocate new storage.
func (t *Table) Log() provenance.Log {
	return t.log
}

// WithRecord returns a new table handle whose provenance log is this
// table's log plus one appended record. The receiver's log is untouched,
// which is what keeps sibling chains branching from one ancestor isolated.
func (t *Table) WithRecord(rec provenance.Record) *Table {
	out := t.clone()
	out.log = t.log.Append(rec)
	return out
}

// SetColumn returns a new table in which the named column holds the given
// values, adding the column if it does not exist. The receiver is never
// modified.
func (t *Table) SetColumn(name string, typ cty.Type, values []cty.Value) (*Table, error) {
	if len(t.names) > 0 && len(values) != t.rows {
		return nil, fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), t.rows)
	}
	for i, v := range values {
		if !v.IsNull() && !v.Type().Equals(typ) {
			return nil, fmt.Errorf("column %q row %d: value type %s does not match column type %s",
				name, i, v.Type().FriendlyName(), typ.FriendlyName())
		}
	}
	out := t.clone()
	if _, exists := out.cols[name]; !exists {
		if len(out.names) == 0 {
			out.rows = len(values)
		}
		out.names = append(out.names, name)
	}
	out.types[name] = typ
	out.cols[name] = values
	return out, nil
}

// clone copies the table header (names, type map, column map, log) while
// sharing the column value slices. Callers must replace, never mutate,
// shared slices.
func (t *Table) clone() *Table {
	out := &Table{
		names:  append([]string(nil), t.names...),
		types:  make(map[string]cty.Type, len(t.types)),
		cols:   make(map[string][]cty.Value, len(t.cols)),
		rowKey: t.rowKey,
		rows:   t.rows,
		log:    t.log.Clone(),
	}
	for k, v := range t.types {
		out.types[k] = v
	}
	for k, v := range t.cols {
		out.cols[k] = v
	}
	return out
}

// Clone returns an independent handle on the same data. Column storage is
// shared; header and log are copied.
func (t *Table) Clone() *Table {
	return t.clone()
}

// Namespace returns the full name→values mapping of the table, suitable as
// the starting evaluation namespace for a derivation batch. The map is
// fresh but the value slices are shared storage.
func (t *Table) Namespace() map[string][]cty.Value {
	ns := make(map[string][]cty.Value, len(t.cols))
	for k, v := range t.cols {
		ns[k] = v
	}
	return ns
}
