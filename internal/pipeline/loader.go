package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/spec"
	"github.com/zclconf/go-cty/cty"
)

// Load parses a pipeline HCL file. Top-level blocks are processed in
// document order, which is also the execution order of the steps.
func Load(ctx context.Context, path string) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Pipeline loader started.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse pipeline file %s: %w", path, diags)
	}

	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("pipeline file %s: unexpected body type", path)
	}

	p := &Pipeline{}
	for _, block := range body.Blocks {
		var err error
		switch block.Type {
		case "input":
			err = p.translateInput(block)
		case "output":
			err = p.translateOutput(block)
		case "source":
			err = p.translateSource(block)
		case KindValidate, KindDerive, KindCast, KindLookup, KindProfile:
			err = p.translateStep(block)
		default:
			err = fmt.Errorf("unknown block type %q", block.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline file %s, line %d: %w", path, block.DefRange().Start.Line, err)
		}
	}

	if p.Input == nil {
		return nil, fmt.Errorf("pipeline file %s: missing input block", path)
	}

	logger.Debug("Pipeline loading complete.", "sources", len(p.Sources), "steps", len(p.Steps))
	return p, nil
}

func (p *Pipeline) translateInput(block *hclsyntax.Block) error {
	if p.Input != nil {
		return fmt.Errorf("duplicate input block")
	}
	attrs, err := literalAttrs(block)
	if err != nil {
		return err
	}
	in := &Input{}
	if err := takeString(attrs, "path", &in.Path, true); err != nil {
		return err
	}
	if err := takeString(attrs, "row_key", &in.RowKey, false); err != nil {
		return err
	}
	if err := rejectLeftovers(attrs, "input"); err != nil {
		return err
	}
	p.Input = in
	return nil
}

func (p *Pipeline) translateOutput(block *hclsyntax.Block) error {
	if p.Output != nil {
		return fmt.Errorf("duplicate output block")
	}
	attrs, err := literalAttrs(block)
	if err != nil {
		return err
	}
	out := &Output{}
	if err := takeString(attrs, "path", &out.Path, true); err != nil {
		return err
	}
	if err := takeString(attrs, "format", &out.Format, false); err != nil {
		return err
	}
	if err := rejectLeftovers(attrs, "output"); err != nil {
		return err
	}
	p.Output = out
	return nil
}

func (p *Pipeline) translateSource(block *hclsyntax.Block) error {
	if len(block.Labels) != 1 {
		return fmt.Errorf("source block requires exactly one label, the source name")
	}
	attrs, err := literalAttrs(block)
	if err != nil {
		return err
	}
	src := Source{Name: block.Labels[0]}
	if err := takeString(attrs, "url", &src.URL, true); err != nil {
		return err
	}
	if err := takeString(attrs, "key", &src.Key, true); err != nil {
		return err
	}
	if err := rejectLeftovers(attrs, "source"); err != nil {
		return err
	}
	for _, existing := range p.Sources {
		if existing.Name == src.Name {
			return fmt.Errorf("duplicate source %q", src.Name)
		}
	}
	p.Sources = append(p.Sources, src)
	return nil
}

func (p *Pipeline) translateStep(block *hclsyntax.Block) error {
	step := Step{Kind: block.Type}
	var err error
	switch block.Type {
	case KindValidate:
		step.Validate, err = translateValidate(block)
	case KindDerive:
		step.Derive, err = translateDerive(block)
	case KindCast:
		step.Cast, err = translateCast(block)
	case KindLookup:
		step.Lookup, err = translateLookup(block)
	case KindProfile:
		step.Profile, err = translateProfile(block)
	}
	if err != nil {
		return err
	}
	p.Steps = append(p.Steps, step)
	return nil
}

func translateValidate(block *hclsyntax.Block) (*ValidateStep, error) {
	attrs, err := literalAttrs(block)
	if err != nil {
		return nil, err
	}
	v := &ValidateStep{}
	if v.Required, err = takeStringList(attrs, "required"); err != nil {
		return nil, err
	}
	if v.NonNull, err = takeStringList(attrs, "non_null"); err != nil {
		return nil, err
	}
	if v.Types, err = takeStringMap(attrs, "types"); err != nil {
		return nil, err
	}
	if err := rejectLeftovers(attrs, KindValidate); err != nil {
		return nil, err
	}
	return v, nil
}

func translateDerive(block *hclsyntax.Block) (*DeriveStep, error) {
	d := &DeriveStep{}

	var columns *hclsyntax.Block
	for _, nested := range block.Body.Blocks {
		if nested.Type != "columns" {
			return nil, fmt.Errorf("derive block does not allow %q blocks", nested.Type)
		}
		if columns != nil {
			return nil, fmt.Errorf("derive block allows a single columns block")
		}
		columns = nested
	}
	if columns == nil {
		return nil, fmt.Errorf("derive block requires a columns block")
	}

	attrs, err := blockAttrs(block)
	if err != nil {
		return nil, err
	}
	if err := takeBool(attrs, "overwrite", &d.Overwrite); err != nil {
		return nil, err
	}
	if err := takeString(attrs, "engine", &d.Engine, false); err != nil {
		return nil, err
	}
	if err := rejectLeftovers(attrs, KindDerive); err != nil {
		return nil, err
	}

	d.Columns, err = translateColumns(columns)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// translateColumns builds a derivation spec from a columns block, keeping
// the attributes in source order.
func translateColumns(block *hclsyntax.Block) (*spec.Spec, error) {
	if len(block.Body.Blocks) != 0 {
		return nil, fmt.Errorf("columns block does not allow nested blocks")
	}

	attrs := make([]*hclsyntax.Attribute, 0, len(block.Body.Attributes))
	for _, attr := range block.Body.Attributes {
		attrs = append(attrs, attr)
	}
	sort.Slice(attrs, func(i, j int) bool {
		return attrs[i].SrcRange.Start.Byte < attrs[j].SrcRange.Start.Byte
	})

	var s spec.Spec
	for _, attr := range attrs {
		text, err := literalString(attr.Expr)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", attr.Name, err)
		}
		if err := s.Add(attr.Name, text); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func translateCast(block *hclsyntax.Block) (*CastStep, error) {
	if len(block.Body.Blocks) != 0 {
		return nil, fmt.Errorf("cast block does not allow nested blocks")
	}
	c := &CastStep{Types: make(map[string]string, len(block.Body.Attributes))}
	for name, attr := range block.Body.Attributes {
		text, err := literalString(attr.Expr)
		if err != nil {
			return nil, fmt.Errorf("cast %q: %w", name, err)
		}
		c.Types[name] = text
	}
	return c, nil
}

func translateLookup(block *hclsyntax.Block) (*LookupStep, error) {
	if len(block.Labels) != 1 {
		return nil, fmt.Errorf("lookup block requires exactly one label, the source name")
	}
	attrs, err := literalAttrs(block)
	if err != nil {
		return nil, err
	}
	l := &LookupStep{Source: block.Labels[0]}
	if err := takeString(attrs, "src", &l.Src, true); err != nil {
		return nil, err
	}
	if l.Dst, err = takeStringList(attrs, "dst"); err != nil {
		return nil, err
	}
	if len(l.Dst) == 0 {
		return nil, fmt.Errorf("lookup block requires a non-empty dst list")
	}
	if err := takeString(attrs, "on_missing", &l.OnMissing, false); err != nil {
		return nil, err
	}
	switch l.OnMissing {
	case "", "warn", "raise", "ignore":
	default:
		return nil, fmt.Errorf("invalid on_missing %q, want warn, raise or ignore", l.OnMissing)
	}
	if err := takeString(attrs, "fill", &l.Fill, false); err != nil {
		return nil, err
	}
	if err := rejectLeftovers(attrs, KindLookup); err != nil {
		return nil, err
	}
	return l, nil
}

func translateProfile(block *hclsyntax.Block) (*ProfileStep, error) {
	attrs, err := literalAttrs(block)
	if err != nil {
		return nil, err
	}
	pr := &ProfileStep{}
	if err := takeBool(attrs, "lazy", &pr.Lazy); err != nil {
		return nil, err
	}
	if err := rejectLeftovers(attrs, KindProfile); err != nil {
		return nil, err
	}
	return pr, nil
}

// literalAttrs returns the block's attributes, rejecting nested blocks.
func literalAttrs(block *hclsyntax.Block) (map[string]hclsyntax.Expression, error) {
	if len(block.Body.Blocks) != 0 {
		return nil, fmt.Errorf("%s block does not allow nested blocks", block.Type)
	}
	return blockAttrs(block)
}

func blockAttrs(block *hclsyntax.Block) (map[string]hclsyntax.Expression, error) {
	attrs := make(map[string]hclsyntax.Expression, len(block.Body.Attributes))
	for name, attr := range block.Body.Attributes {
		attrs[name] = attr.Expr
	}
	return attrs, nil
}

func rejectLeftovers(attrs map[string]hclsyntax.Expression, blockType string) error {
	if len(attrs) == 0 {
		return nil
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("%s block does not allow attribute %q", blockType, names[0])
}

func takeString(attrs map[string]hclsyntax.Expression, name string, dst *string, required bool) error {
	expr, ok := attrs[name]
	if !ok {
		if required {
			return fmt.Errorf("missing required attribute %q", name)
		}
		return nil
	}
	delete(attrs, name)
	text, err := literalString(expr)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	*dst = text
	return nil
}

func takeBool(attrs map[string]hclsyntax.Expression, name string, dst *bool) error {
	expr, ok := attrs[name]
	if !ok {
		return nil
	}
	delete(attrs, name)
	val, err := literalValue(expr)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	if !val.Type().Equals(cty.Bool) {
		return fmt.Errorf("attribute %q must be a boolean", name)
	}
	*dst = val.True()
	return nil
}

func takeStringList(attrs map[string]hclsyntax.Expression, name string) ([]string, error) {
	expr, ok := attrs[name]
	if !ok {
		return nil, nil
	}
	delete(attrs, name)
	val, err := literalValue(expr)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, err)
	}
	if !val.CanIterateElements() {
		return nil, fmt.Errorf("attribute %q must be a list of strings", name)
	}
	var out []string
	for _, elem := range val.AsValueSlice() {
		if !elem.Type().Equals(cty.String) || elem.IsNull() {
			return nil, fmt.Errorf("attribute %q must be a list of strings", name)
		}
		out = append(out, elem.AsString())
	}
	return out, nil
}

func takeStringMap(attrs map[string]hclsyntax.Expression, name string) (map[string]string, error) {
	expr, ok := attrs[name]
	if !ok {
		return nil, nil
	}
	delete(attrs, name)
	val, err := literalValue(expr)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, err)
	}
	if !val.CanIterateElements() {
		return nil, fmt.Errorf("attribute %q must be a map of strings", name)
	}
	out := make(map[string]string)
	for key, elem := range val.AsValueMap() {
		if !elem.Type().Equals(cty.String) || elem.IsNull() {
			return nil, fmt.Errorf("attribute %q must be a map of strings", name)
		}
		out[key] = elem.AsString()
	}
	return out, nil
}

func literalValue(expr hclsyntax.Expression) (cty.Value, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("value must be a literal: %w", diags)
	}
	return val, nil
}

func literalString(expr hclsyntax.Expression) (string, error) {
	val, err := literalValue(expr)
	if err != nil {
		return "", err
	}
	if !val.Type().Equals(cty.String) || val.IsNull() {
		return "", fmt.Errorf("value must be a string literal")
	}
	return val.AsString(), nil
}
