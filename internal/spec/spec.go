// Package spec models a derivation specification: an ordered mapping from
// output column names to expression text. Order matters — it is the
// tie-break rule of the dependency resolver — so specs preserve the order
// entries were added or appeared in their source document.
//
// Specs can be built programmatically, from a Go map (normalized to lexical
// name order so the result is deterministic), or parsed from an HCL or YAML
// document given as a string or a file path.
package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// Entry is one output column definition.
type Entry struct {
	Name string
	Expr string
}

// Spec is an ordered derivation specification. The zero value is empty and
// usable.
type Spec struct {
	entries []Entry
	index   map[string]int
}

// Add appends one definition. Duplicate output names are rejected: a spec
// that defines the same column twice has no well-defined evaluation order.
func (s *Spec) Add(name, exprText string) error {
	if name == "" {
		return fmt.Errorf("derivation output name cannot be empty")
	}
	if _, dup := s.index[name]; dup {
		return fmt.Errorf("derivation output %q defined twice", name)
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	s.index[name] = len(s.entries)
	s.entries = append(s.entries, Entry{Name: name, Expr: exprText})
	return nil
}

// Entries returns the definitions in spec order. The slice is a copy.
func (s *Spec) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Names returns the output names in spec order.
func (s *Spec) Names() []string {
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.Name
	}
	return names
}

// Expr returns the expression defining the named output.
func (s *Spec) Expr(name string) (string, bool) {
	i, ok := s.index[name]
	if !ok {
		return "", false
	}
	return s.entries[i].Expr, true
}

// Len returns the number of definitions.
func (s *Spec) Len() int {
	return len(s.entries)
}

// FromMap builds a spec from a plain Go map. Map iteration order is
// unspecified, so entries are normalized to lexical name order to keep
// resolution deterministic. Callers that care about a specific order should
// build the spec with Add or parse a document.
func FromMap(m map[string]string) *Spec {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var s Spec
	for _, name := range names {
		// Add cannot fail here: map keys are unique and non-empty names
		// are enforced below.
		if name == "" {
			continue
		}
		_ = s.Add(name, m[name])
	}
	return &s
}

// ParseHCL parses a one-level HCL attributes document in which every
// attribute value is a string of expression text:
//
//	total    = "price * quantity"
//	total_2x = "total * 2"
//
// Document order is preserved via attribute source positions.
func ParseHCL(src []byte, filename string) (*Spec, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse derivation spec %s: %w", filename, diags)
	}

	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("derivation spec %s: unexpected body type", filename)
	}
	if len(body.Blocks) > 0 {
		return nil, fmt.Errorf("derivation spec %s: blocks are not allowed, only name = \"expression\" attributes", filename)
	}

	// hclsyntax stores attributes as a map; source byte offsets restore
	// document order.
	attrs := make([]*hclsyntax.Attribute, 0, len(body.Attributes))
	for _, attr := range body.Attributes {
		attrs = append(attrs, attr)
	}
	sort.Slice(attrs, func(i, j int) bool {
		return attrs[i].SrcRange.Start.Byte < attrs[j].SrcRange.Start.Byte
	})

	var s Spec
	for _, attr := range attrs {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, fmt.Errorf("derivation spec %s: attribute %q must be a literal string: %w", filename, attr.Name, valDiags)
		}
		if val.Type() != cty.String {
			return nil, fmt.Errorf("derivation spec %s: attribute %q must be a string, got %s", filename, attr.Name, val.Type().FriendlyName())
		}
		if err := s.Add(attr.Name, val.AsString()); err != nil {
			return nil, fmt.Errorf("derivation spec %s: %w", filename, err)
		}
	}
	return &s, nil
}

// ParseYAML parses a YAML mapping document of output name to expression
// text, preserving document order.
func ParseYAML(src []byte) (*Spec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML derivation spec: %w", err)
	}
	if len(doc.Content) == 0 {
		return &Spec{}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("YAML derivation spec must be a mapping of column name to expression")
	}

	var s Spec
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		if valNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("YAML derivation spec: value for %q must be an expression string", keyNode.Value)
		}
		if err := s.Add(keyNode.Value, valNode.Value); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// FromFile loads a spec document from disk, dispatching on extension:
// .hcl for HCL documents, .yaml/.yml for YAML mappings.
func FromFile(path string) (*Spec, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read derivation spec: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return ParseHCL(src, filepath.Base(path))
	case ".yaml", ".yml":
		return ParseYAML(src)
	}
	return nil, fmt.Errorf("derivation spec %s: unsupported extension, want .hcl, .yaml or .yml", path)
}
