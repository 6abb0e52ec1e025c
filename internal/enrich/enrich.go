// Package enrich is the fluent entry point of the enrichment pipeline. An
// Accessor wraps one table together with chain-local options; every
// operation returns a new Accessor wrapping the resulting table, so a
// handle is never mutated and chains branching from one handle stay fully
// isolated — including their provenance logs.
package enrich

import (
	"context"
	"sort"

	"github.com/vk/enrichgo/internal/cast"
	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/derive"
	"github.com/vk/enrichgo/internal/expr"
	"github.com/vk/enrichgo/internal/lookup"
	"github.com/vk/enrichgo/internal/profile"
	"github.com/vk/enrichgo/internal/provenance"
	"github.com/vk/enrichgo/internal/registry"
	"github.com/vk/enrichgo/internal/spec"
	"github.com/vk/enrichgo/internal/table"
	"github.com/vk/enrichgo/internal/validate"
	"github.com/zclconf/go-cty/cty"
)

// Options carries chain-local configuration. Config never touches global
// process state; every Accessor owns its own copy.
type Options struct {
	// Overwrite permits a derivation output to replace an existing column.
	Overwrite bool
	// Fill is the value for unmatched lookup rows; cty.NilVal means a null
	// of the destination type.
	Fill cty.Value
	// OnMissing is the unmatched-row policy for key joins.
	OnMissing lookup.MissingPolicy
	// Engine is the expression-evaluation collaborator.
	Engine derive.Engine
	// Validator is the schema-validation collaborator.
	Validator validate.Validator
	// Profiler is the profiling collaborator.
	Profiler profile.Profiler
	// Registry resolves named lookup sources.
	Registry *registry.Registry
}

// Option mutates chain-local options.
type Option func(*Options)

// WithOverwrite sets the derivation overwrite policy.
func WithOverwrite(allow bool) Option {
	return func(o *Options) { o.Overwrite = allow }
}

// WithFillValue sets the fill value for unmatched lookup rows.
func WithFillValue(v cty.Value) Option {
	return func(o *Options) { o.Fill = v }
}

// WithOnMissing sets the unmatched-row policy for key joins.
func WithOnMissing(p lookup.MissingPolicy) Option {
	return func(o *Options) { o.OnMissing = p }
}

// WithEngine replaces the expression engine.
func WithEngine(e derive.Engine) Option {
	return func(o *Options) { o.Engine = e }
}

// WithValidator replaces the validation collaborator.
func WithValidator(v validate.Validator) Option {
	return func(o *Options) { o.Validator = v }
}

// WithProfiler replaces the profiling collaborator.
func WithProfiler(p profile.Profiler) Option {
	return func(o *Options) { o.Profiler = p }
}

// WithRegistry attaches a lookup-source registry to the chain.
func WithRegistry(r *registry.Registry) Option {
	return func(o *Options) { o.Registry = r }
}

// Accessor is one link of an enrichment chain.
type Accessor struct {
	tbl  *table.Table
	opts Options
}

// New wraps a table into a chainable handle. Defaults: overwrite disabled,
// null fill, warn on unmatched rows, HCL expression engine, built-in
// validator and profiler.
func New(tbl *table.Table, opts ...Option) *Accessor {
	o := Options{
		OnMissing: lookup.MissingWarn,
		Engine:    expr.NewHCL(),
		Validator: validate.NewSchemaValidator(),
		Profiler:  profile.NewBasic(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Accessor{tbl: tbl, opts: o}
}

// Table returns the wrapped table.
func (a *Accessor) Table() *table.Table {
	return a.tbl
}

// Config returns a new handle with adjusted chain-local options. The
// receiver and its options are untouched.
func (a *Accessor) Config(opts ...Option) *Accessor {
	o := a.opts
	for _, opt := range opts {
		opt(&o)
	}
	return &Accessor{tbl: a.tbl, opts: o}
}

// wrap continues the chain with a new table under the same options.
func (a *Accessor) wrap(tbl *table.Table) *Accessor {
	return &Accessor{tbl: tbl, opts: a.opts}
}

// Validate checks the table against the schema via the validation
// collaborator. Failures pass through unmodified; success appends one
// provenance record naming the validator and the checked columns.
func (a *Accessor) Validate(ctx context.Context, schema validate.Schema) (*Accessor, error) {
	if err := a.opts.Validator.Validate(ctx, a.tbl, schema); err != nil {
		return nil, err
	}

	checked := make([]string, 0, len(schema))
	for name := range schema {
		checked = append(checked, name)
	}
	sort.Strings(checked)

	detail := map[string]string{"validator": a.opts.Validator.Name()}
	rec := provenance.NewRecord(provenance.OpValidate, checked, nil, detail)
	ctxlog.FromContext(ctx).Info("Validate: passed.", "columns", checked, "validator", a.opts.Validator.Name())
	return a.wrap(a.tbl.WithRecord(rec)), nil
}

// Derive evaluates a derivation spec, committing all of its outputs
// atomically. On failure the receiver remains the valid head of the chain.
func (a *Accessor) Derive(ctx context.Context, s *spec.Spec) (*Accessor, error) {
	out, err := derive.Run(ctx, a.tbl, s, a.opts.Engine, a.opts.Overwrite)
	if err != nil {
		return nil, err
	}
	return a.wrap(out), nil
}

// DeriveMap derives from a plain map, normalized to lexical order.
func (a *Accessor) DeriveMap(ctx context.Context, m map[string]string) (*Accessor, error) {
	return a.Derive(ctx, spec.FromMap(m))
}

// DeriveFile derives from an HCL or YAML spec document on disk.
func (a *Accessor) DeriveFile(ctx context.Context, path string) (*Accessor, error) {
	s, err := spec.FromFile(path)
	if err != nil {
		return nil, err
	}
	return a.Derive(ctx, s)
}

// Cast converts columns to the given types.
func (a *Accessor) Cast(ctx context.Context, types map[string]cty.Type) (*Accessor, error) {
	out, err := cast.Run(ctx, a.tbl, types)
	if err != nil {
		return nil, err
	}
	return a.wrap(out), nil
}

// Lookup runs one lookup spec under the chain's fill and missing-row
// policy.
func (a *Accessor) Lookup(ctx context.Context, s lookup.Spec) (*Accessor, error) {
	out, err := lookup.Dispatch(ctx, a.tbl, s, lookup.Options{Fill: a.opts.Fill, OnMissing: a.opts.OnMissing})
	if err != nil {
		return nil, err
	}
	return a.wrap(out), nil
}

// LookupNamed resolves a source by name from the chain's registry and runs
// it as a custom-resolver lookup. The chain's fill value and missing-row
// policy apply whenever the source exposes its reference data as a table.
func (a *Accessor) LookupNamed(ctx context.Context, source, src, dst string) (*Accessor, error) {
	if a.opts.Registry == nil {
		return nil, &lookup.SpecInvalidError{Reason: "no lookup-source registry configured on this chain"}
	}
	resolver, ok := a.opts.Registry.Resolver(source)
	if !ok {
		return nil, &lookup.SpecInvalidError{Reason: "unknown lookup source " + source}
	}
	return a.Lookup(ctx, lookup.Spec{Resolver: resolver, Src: src, Dst: dst})
}

// Profile generates a report via the profiling collaborator and appends one
// provenance record. The report is separate from the chain; the returned
// handle continues it.
func (a *Accessor) Profile(ctx context.Context, opts profile.Options) (*Accessor, *profile.Report, error) {
	report, err := a.opts.Profiler.Profile(ctx, a.tbl, opts)
	if err != nil {
		return nil, nil, err
	}

	detail := map[string]string{"profiler": a.opts.Profiler.Name()}
	if opts.Lazy {
		detail["lazy"] = "true"
	}
	rec := provenance.NewRecord(provenance.OpProfile, a.tbl.Names(), nil, detail)
	return a.wrap(a.tbl.WithRecord(rec)), report, nil
}
