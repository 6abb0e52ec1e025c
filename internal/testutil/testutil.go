// Package testutil holds shared helpers for the enrichment test suites.
package testutil

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Numbers converts floats into a number column.
func Numbers(vals ...float64) []cty.Value {
	out := make([]cty.Value, len(vals))
	for i, v := range vals {
		out[i] = cty.NumberFloatVal(v)
	}
	return out
}

// Strings converts Go strings into a string column.
func Strings(vals ...string) []cty.Value {
	out := make([]cty.Value, len(vals))
	for i, v := range vals {
		out[i] = cty.StringVal(v)
	}
	return out
}

// Column pairs a name and typed values for NewTable.
type Column struct {
	Name   string
	Type   cty.Type
	Values []cty.Value
}

// NewTable builds a table from columns, failing the test on any error.
func NewTable(t *testing.T, cols ...Column) *table.Table {
	t.Helper()
	tbl := table.New()
	for _, col := range cols {
		require.NoError(t, tbl.AddColumn(col.Name, col.Type, col.Values))
	}
	return tbl
}
