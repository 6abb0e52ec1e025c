package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vk/enrichgo/internal/arrowio"
	"github.com/vk/enrichgo/internal/cast"
	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/enrich"
	"github.com/vk/enrichgo/internal/expr"
	"github.com/vk/enrichgo/internal/lookup"
	"github.com/vk/enrichgo/internal/pipeline"
	"github.com/vk/enrichgo/internal/profile"
	"github.com/vk/enrichgo/internal/table"
	"github.com/vk/enrichgo/internal/validate"
	"github.com/vk/enrichgo/modules/httplookup"
	"github.com/zclconf/go-cty/cty"
)

// Run executes the pipeline named by the configuration.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	logger := a.logger.With("run_id", uuid.NewString())
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("App.Run method started.")

	p, err := pipeline.Load(ctx, cfg.PipelinePath)
	if err != nil {
		return fmt.Errorf("failed to load pipeline: %w", err)
	}

	// Pipeline sources are run-scoped; the application registry stays
	// untouched.
	reg := a.registry.Clone()
	for _, src := range p.Sources {
		mod := httplookup.New(src.Name, src.URL, src.Key)
		if err := mod.Register(reg); err != nil {
			return err
		}
	}
	logger.Debug("Lookup sources registered.", "count", len(p.Sources))

	tbl, err := a.load(ctx, p.Input)
	if err != nil {
		return err
	}
	logger.Info("Input table loaded.", "path", p.Input.Path, "rows", tbl.Rows(), "columns", len(tbl.Names()))

	acc := enrich.New(tbl, enrich.WithRegistry(reg))
	for i, step := range p.Steps {
		logger.Info("Running step.", "index", i+1, "kind", step.Kind)
		acc, err = a.applyStep(ctx, acc, step)
		if err != nil {
			return fmt.Errorf("step %d (%s) failed: %w", i+1, step.Kind, err)
		}
	}

	if err := a.write(ctx, acc.Table(), p.Output, cfg.OutputPath); err != nil {
		return err
	}

	logger.Debug("App.Run method finished.")
	return nil
}

// load reads the pipeline's input table and applies its row key.
func (a *App) load(ctx context.Context, in *pipeline.Input) (*table.Table, error) {
	tbl, err := arrowio.ReadCSV(in.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load input table: %w", err)
	}
	if in.RowKey != "" {
		tbl, err = tbl.WithRowKey(in.RowKey)
		if err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func (a *App) applyStep(ctx context.Context, acc *enrich.Accessor, step pipeline.Step) (*enrich.Accessor, error) {
	switch step.Kind {
	case pipeline.KindValidate:
		schema, err := translateSchema(step.Validate)
		if err != nil {
			return nil, err
		}
		return acc.Validate(ctx, schema)

	case pipeline.KindDerive:
		opts := []enrich.Option{enrich.WithOverwrite(step.Derive.Overwrite)}
		switch step.Derive.Engine {
		case "", "hcl":
		case "goscript":
			opts = append(opts, enrich.WithEngine(expr.NewGoScript()))
		default:
			return nil, fmt.Errorf("unknown expression engine %q", step.Derive.Engine)
		}
		return acc.Config(opts...).Derive(ctx, step.Derive.Columns)

	case pipeline.KindCast:
		types := make(map[string]cty.Type, len(step.Cast.Types))
		for name, typeName := range step.Cast.Types {
			typ, err := cast.ParseType(typeName)
			if err != nil {
				return nil, err
			}
			types[name] = typ
		}
		return acc.Cast(ctx, types)

	case pipeline.KindLookup:
		var opts []enrich.Option
		if step.Lookup.OnMissing != "" {
			opts = append(opts, enrich.WithOnMissing(lookup.MissingPolicy(step.Lookup.OnMissing)))
		}
		if step.Lookup.Fill != "" {
			opts = append(opts, enrich.WithFillValue(inferScalar(step.Lookup.Fill)))
		}
		acc = acc.Config(opts...)
		var err error
		for _, dst := range step.Lookup.Dst {
			acc, err = acc.LookupNamed(ctx, step.Lookup.Source, step.Lookup.Src, dst)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil

	case pipeline.KindProfile:
		next, report, err := acc.Profile(ctx, profile.Options{Lazy: step.Profile.Lazy})
		if err != nil {
			return nil, err
		}
		a.printReport(report)
		return next, nil
	}
	return nil, fmt.Errorf("unknown step kind %q", step.Kind)
}

// translateSchema turns the pipeline's string-typed validate step into a
// validation schema.
func translateSchema(v *pipeline.ValidateStep) (validate.Schema, error) {
	schema := make(validate.Schema)
	for name, typeName := range v.Types {
		typ, err := cast.ParseType(typeName)
		if err != nil {
			return nil, fmt.Errorf("validate %q: %w", name, err)
		}
		rule := schema[name]
		rule.Type = typ
		schema[name] = rule
	}
	for _, name := range v.Required {
		rule := schema[name]
		rule.Required = true
		schema[name] = rule
	}
	for _, name := range v.NonNull {
		rule := schema[name]
		rule.NonNull = true
		schema[name] = rule
	}
	return schema, nil
}

// inferScalar parses a fill literal the same way CSV cells are typed.
func inferScalar(text string) cty.Value {
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return cty.NumberFloatVal(f)
	}
	switch strings.ToLower(text) {
	case "true":
		return cty.True
	case "false":
		return cty.False
	}
	return cty.StringVal(text)
}

func (a *App) printReport(report *profile.Report) {
	fmt.Fprintf(a.outW, "profile: %d rows, %d columns\n", report.Rows(), report.Cols())

	types := report.Types()
	missing := report.Missing()
	numeric := report.Numeric()

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		line := fmt.Sprintf("  %s: %s, %d missing", name, types[name], missing[name])
		if stats, ok := numeric[name]; ok {
			line += fmt.Sprintf(", min=%g max=%g mean=%g", stats.Min, stats.Max, stats.Mean)
		}
		fmt.Fprintln(a.outW, line)
	}
}

// write persists the enriched table. A missing output block means the
// pipeline is report-only, unless the CLI supplied a path.
func (a *App) write(ctx context.Context, tbl *table.Table, out *pipeline.Output, override string) error {
	logger := ctxlog.FromContext(ctx)

	path, format := "", ""
	if out != nil {
		path, format = out.Path, out.Format
	}
	if override != "" {
		path, format = override, ""
	}
	if path == "" {
		logger.Debug("No output destination, skipping write.")
		return nil
	}

	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".parquet":
			format = "parquet"
		default:
			format = "csv"
		}
	}

	var err error
	switch format {
	case "csv":
		err = arrowio.WriteCSV(tbl, path)
	case "parquet":
		err = arrowio.WriteParquet(tbl, path)
	default:
		return fmt.Errorf("unknown output format %q, want csv or parquet", format)
	}
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	logger.Info("Output written.", "path", path, "format", format, "rows", tbl.Rows())
	return nil
}
