// Package arrowio converts enrichment tables to and from Apache Arrow
// records and handles the CLI's file formats: CSV in, CSV or Parquet out.
package arrowio

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// arrowTypeFor maps a column type to its Arrow equivalent.
func arrowTypeFor(typ cty.Type) (arrow.DataType, error) {
	switch {
	case typ.Equals(cty.Number):
		return arrow.PrimitiveTypes.Float64, nil
	case typ.Equals(cty.String):
		return arrow.BinaryTypes.String, nil
	case typ.Equals(cty.Bool):
		return arrow.FixedWidthTypes.Boolean, nil
	}
	return nil, fmt.Errorf("column type %s has no Arrow equivalent", typ.FriendlyName())
}

// FromTable builds an Arrow record holding the table's columns in table
// order. The caller owns the returned record and must Release it.
func FromTable(tbl *table.Table) (arrow.Record, error) {
	names := tbl.Names()
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		typ, _ := tbl.ColumnType(name)
		arrowType, err := arrowTypeFor(typ)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields[i] = arrow.Field{Name: name, Type: arrowType, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for i, name := range names {
		values, _ := tbl.Column(name)
		typ, _ := tbl.ColumnType(name)
		switch {
		case typ.Equals(cty.Number):
			fb := builder.Field(i).(*array.Float64Builder)
			for _, v := range values {
				if v.IsNull() {
					fb.AppendNull()
					continue
				}
				f, _ := v.AsBigFloat().Float64()
				fb.Append(f)
			}
		case typ.Equals(cty.String):
			sb := builder.Field(i).(*array.StringBuilder)
			for _, v := range values {
				if v.IsNull() {
					sb.AppendNull()
					continue
				}
				sb.Append(v.AsString())
			}
		case typ.Equals(cty.Bool):
			bb := builder.Field(i).(*array.BooleanBuilder)
			for _, v := range values {
				if v.IsNull() {
					bb.AppendNull()
					continue
				}
				bb.Append(v.True())
			}
		}
	}

	return builder.NewRecord(), nil
}

// ToTable converts an Arrow record back into an enrichment table. Only the
// scalar column types FromTable produces are supported.
func ToTable(rec arrow.Record) (*table.Table, error) {
	tbl := table.New()
	schema := rec.Schema()

	for i := 0; i < int(rec.NumCols()); i++ {
		field := schema.Field(i)
		col := rec.Column(i)
		rows := col.Len()
		values := make([]cty.Value, rows)

		var typ cty.Type
		switch arr := col.(type) {
		case *array.Float64:
			typ = cty.Number
			for row := 0; row < rows; row++ {
				if arr.IsNull(row) {
					values[row] = cty.NullVal(typ)
					continue
				}
				values[row] = cty.NumberFloatVal(arr.Value(row))
			}
		case *array.String:
			typ = cty.String
			for row := 0; row < rows; row++ {
				if arr.IsNull(row) {
					values[row] = cty.NullVal(typ)
					continue
				}
				values[row] = cty.StringVal(arr.Value(row))
			}
		case *array.Boolean:
			typ = cty.Bool
			for row := 0; row < rows; row++ {
				if arr.IsNull(row) {
					values[row] = cty.NullVal(typ)
					continue
				}
				values[row] = cty.BoolVal(arr.Value(row))
			}
		default:
			return nil, fmt.Errorf("column %q: unsupported Arrow type %s", field.Name, field.Type)
		}

		if err := tbl.AddColumn(field.Name, typ, values); err != nil {
			return nil, err
		}
	}

	return tbl, nil
}
