// Package pipeline defines the file-based enrichment pipeline model and its
// HCL loader. A pipeline names an input table, a sequence of enrichment
// steps, optional lookup sources, and an output destination.
package pipeline

import "github.com/vk/enrichgo/internal/spec"

// Input names the table a pipeline starts from.
type Input struct {
	// Path is the CSV file to load.
	Path string
	// RowKey is the column lookups join on. Optional.
	RowKey string
}

// Output names where the enriched table is written.
type Output struct {
	Path string
	// Format is "csv" or "parquet". When empty it is inferred from the
	// path extension.
	Format string
}

// Source declares an HTTP lookup source available to lookup steps.
type Source struct {
	Name string
	URL  string
	Key  string
}

// Step kinds, in the vocabulary of the enrichment accessor.
const (
	KindValidate = "validate"
	KindDerive   = "derive"
	KindCast     = "cast"
	KindLookup   = "lookup"
	KindProfile  = "profile"
)

// Step is one enrichment operation. Exactly one of the payload fields is
// set, matching Kind.
type Step struct {
	Kind string

	Validate *ValidateStep
	Derive   *DeriveStep
	Cast     *CastStep
	Lookup   *LookupStep
	Profile  *ProfileStep
}

// ValidateStep checks the table against a declared schema.
type ValidateStep struct {
	Required []string
	Types    map[string]string
	NonNull  []string
}

// DeriveStep adds derived columns from expressions.
type DeriveStep struct {
	Columns   *spec.Spec
	Overwrite bool
	// Engine selects the expression engine. Empty means the default.
	Engine string
}

// CastStep converts columns to declared types.
type CastStep struct {
	Types map[string]string
}

// LookupStep joins columns in from a declared source.
type LookupStep struct {
	Source    string
	Src       string
	Dst       []string
	OnMissing string
	Fill      string
}

// ProfileStep records a summary of the table.
type ProfileStep struct {
	Lazy bool
}

// Pipeline is a fully loaded pipeline document. Steps preserve the order
// they appear in the file.
type Pipeline struct {
	Input   *Input
	Output  *Output
	Sources []Source
	Steps   []Step
}
