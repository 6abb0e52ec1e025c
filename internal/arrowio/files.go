package arrowio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// ReadCSV loads a CSV file with a header row into a table. Column types are
// inferred from the cell values: a column where every non-empty cell parses
// as a number becomes a number column, likewise for booleans, and anything
// else is a string. Empty cells become nulls.
func ReadCSV(path string) (*table.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCSVFrom(file)
}

// ReadCSVFrom is ReadCSV over an arbitrary reader.
func ReadCSVFrom(r io.Reader) (*table.Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("reading csv: missing header row")
	}

	header := records[0]
	rows := records[1:]

	tbl := table.New()
	for i, name := range header {
		cells := make([]string, len(rows))
		for row := range rows {
			cells[row] = rows[row][i]
		}
		typ, values := inferColumn(cells)
		if err := tbl.AddColumn(name, typ, values); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// inferColumn picks the narrowest type that fits every non-empty cell.
func inferColumn(cells []string) (cty.Type, []cty.Value) {
	isNumber, isBool := true, true
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			isNumber = false
		}
		switch strings.ToLower(cell) {
		case "true", "false":
		default:
			isBool = false
		}
	}

	values := make([]cty.Value, len(cells))
	switch {
	case isNumber:
		for i, cell := range cells {
			if cell == "" {
				values[i] = cty.NullVal(cty.Number)
				continue
			}
			f, _ := strconv.ParseFloat(cell, 64)
			values[i] = cty.NumberFloatVal(f)
		}
		return cty.Number, values
	case isBool:
		for i, cell := range cells {
			if cell == "" {
				values[i] = cty.NullVal(cty.Bool)
				continue
			}
			values[i] = cty.BoolVal(strings.EqualFold(cell, "true"))
		}
		return cty.Bool, values
	default:
		for i, cell := range cells {
			if cell == "" {
				values[i] = cty.NullVal(cty.String)
				continue
			}
			values[i] = cty.StringVal(cell)
		}
		return cty.String, values
	}
}

// WriteCSV writes the table as CSV with a header row. Nulls become empty
// cells.
func WriteCSV(tbl *table.Table, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteCSVTo(tbl, file)
}

// WriteCSVTo is WriteCSV over an arbitrary writer.
func WriteCSVTo(tbl *table.Table, w io.Writer) error {
	writer := csv.NewWriter(w)

	names := tbl.Names()
	if err := writer.Write(names); err != nil {
		return err
	}

	row := make([]string, len(names))
	for r := 0; r < tbl.Rows(); r++ {
		for i, name := range names {
			values, _ := tbl.Column(name)
			row[i] = formatCell(values[r])
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatCell(v cty.Value) string {
	if v.IsNull() {
		return ""
	}
	switch {
	case v.Type().Equals(cty.String):
		return v.AsString()
	case v.Type().Equals(cty.Number):
		return v.AsBigFloat().Text('f', -1)
	case v.Type().Equals(cty.Bool):
		return strconv.FormatBool(v.True())
	}
	return v.GoString()
}

// WriteParquet writes the table as a Snappy-compressed Parquet file.
func WriteParquet(tbl *table.Table, path string) error {
	rec, err := FromTable(tbl)
	if err != nil {
		return err
	}
	defer rec.Release()

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(rec.Schema(), file, props, arrowProps)
	if err != nil {
		return fmt.Errorf("creating parquet writer: %w", err)
	}

	arrowTable := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer arrowTable.Release()

	if err := writer.WriteTable(arrowTable, arrowTable.NumRows()); err != nil {
		writer.Close()
		return fmt.Errorf("writing parquet: %w", err)
	}
	return writer.Close()
}
