// Package profile defines the boundary to the profiling collaborator and
// ships a basic profiler reporting shape, column types, missing counts, and
// describe-style numeric statistics. Reports support a lazy mode that
// defers all computation until the report is first read.
package profile

import (
	"context"
	"math/big"
	"sync"

	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// Options controls report generation.
type Options struct {
	// Lazy defers computation until the report is first accessed.
	Lazy bool
}

// NumericStats summarizes one numeric column over its non-null rows.
type NumericStats struct {
	Min  float64
	Max  float64
	Mean float64
	// Count is the number of non-null rows the stats cover.
	Count int
}

// Report is the profiling result. Accessors materialize a lazy report on
// first use; a report is safe for concurrent reads.
type Report struct {
	tbl  *table.Table
	once sync.Once

	rows    int
	cols    int
	types   map[string]string
	missing map[string]int
	numeric map[string]NumericStats
}

// Rows returns the row count.
func (r *Report) Rows() int {
	r.materialize()
	return r.rows
}

// Cols returns the column count.
func (r *Report) Cols() int {
	r.materialize()
	return r.cols
}

// Types returns each column's type name.
func (r *Report) Types() map[string]string {
	r.materialize()
	return r.types
}

// Missing returns the per-column count of null values.
func (r *Report) Missing() map[string]int {
	r.materialize()
	return r.missing
}

// Numeric returns describe-style statistics for each numeric column.
func (r *Report) Numeric() map[string]NumericStats {
	r.materialize()
	return r.numeric
}

func (r *Report) materialize() {
	r.once.Do(func() {
		tbl := r.tbl
		r.tbl = nil // release the table once computed

		r.rows = tbl.Rows()
		names := tbl.Names()
		r.cols = len(names)
		r.types = make(map[string]string, len(names))
		r.missing = make(map[string]int, len(names))
		r.numeric = make(map[string]NumericStats)

		for _, name := range names {
			typ, _ := tbl.ColumnType(name)
			r.types[name] = typ.FriendlyName()

			values, _ := tbl.Column(name)
			nulls := 0
			for _, v := range values {
				if v.IsNull() {
					nulls++
				}
			}
			r.missing[name] = nulls

			if typ.Equals(cty.Number) {
				if stats, ok := describeNumeric(values); ok {
					r.numeric[name] = stats
				}
			}
		}
	})
}

func describeNumeric(values []cty.Value) (NumericStats, bool) {
	var stats NumericStats
	sum := 0.0
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		f, _ := v.AsBigFloat().Float64()
		if stats.Count == 0 {
			stats.Min, stats.Max = f, f
		} else {
			if f < stats.Min {
				stats.Min = f
			}
			if f > stats.Max {
				stats.Max = f
			}
		}
		sum += f
		stats.Count++
	}
	if stats.Count == 0 {
		return NumericStats{}, false
	}
	mean := new(big.Float).Quo(big.NewFloat(sum), big.NewFloat(float64(stats.Count)))
	stats.Mean, _ = mean.Float64()
	return stats, true
}

// Profiler is the profiling collaborator contract.
type Profiler interface {
	// Name identifies the profiler in provenance records.
	Name() string
	Profile(ctx context.Context, tbl *table.Table, opts Options) (*Report, error)
}

// Basic is the built-in profiler.
type Basic struct{}

// NewBasic creates the built-in profiler.
func NewBasic() *Basic {
	return &Basic{}
}

// Name implements Profiler.
func (p *Basic) Name() string { return "basic" }

// Profile implements Profiler. With Options.Lazy the report holds the table
// handle and computes on first access; otherwise it is computed eagerly
// before returning.
func (p *Basic) Profile(ctx context.Context, tbl *table.Table, opts Options) (*Report, error) {
	report := &Report{tbl: tbl}
	if !opts.Lazy {
		report.materialize()
	}
	return report, nil
}
