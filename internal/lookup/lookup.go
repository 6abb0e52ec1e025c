// Package lookup enriches a table with a destination column resolved from
// an external source: either a key-based join against another table, or a
// custom resolver callable. Dispatch is by variant, never by runtime
// introspection, and every call appends one provenance record carrying the
// join key, the source identity, and the count of unmatched rows.
package lookup

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/provenance"
	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// Resolver populates dst on the given table. Implementations may perform
// blocking I/O; the dispatcher treats the call as opaque and applies no
// timeout of its own — resolvers needing one must carry it themselves.
// Opaque resolvers are outside the fill and missing-row policy; resolvers
// whose reference data is a keyed table should also implement TableSource
// so Dispatch can honor the policy for them.
type Resolver interface {
	// Identity names the resolver in provenance records.
	Identity() string
	Resolve(ctx context.Context, tbl *table.Table, src, dst string) (*table.Table, error)
}

// TableSource is implemented by resolvers whose reference data is a keyed
// table. Dispatch fetches the table and performs the join itself, so the
// chain's fill value and missing-row policy apply to named sources exactly
// as they do to inline source tables, and the provenance record carries the
// unmatched-row count.
type TableSource interface {
	SourceTable(ctx context.Context) (*table.Table, error)
}

// Func adapts a plain function into a Resolver.
type Func struct {
	// ID is recorded as the resolver identity in provenance.
	ID string
	Fn func(ctx context.Context, tbl *table.Table, src, dst string) (*table.Table, error)
}

// Identity implements Resolver.
func (f *Func) Identity() string { return f.ID }

// Resolve implements Resolver.
func (f *Func) Resolve(ctx context.Context, tbl *table.Table, src, dst string) (*table.Table, error) {
	return f.Fn(ctx, tbl, src, dst)
}

// Spec describes one lookup. Exactly one of Source or Resolver must be set.
type Spec struct {
	// Source is the table joined against by key.
	Source *table.Table
	// SourceID names the source in provenance; defaults to "table".
	SourceID string
	// Src is the key column of the current table; "" means the table's
	// declared row key.
	Src string
	// Dst is the destination column to populate.
	Dst string
	// Resolver is the custom callable variant.
	Resolver Resolver
}

// MissingPolicy controls how unmatched rows are treated during a key join.
type MissingPolicy string

const (
	// MissingWarn fills unmatched rows and logs a warning. The default.
	MissingWarn MissingPolicy = "warn"
	// MissingRaise fails the lookup when any row is unmatched.
	MissingRaise MissingPolicy = "raise"
	// MissingIgnore fills unmatched rows silently.
	MissingIgnore MissingPolicy = "ignore"
)

// Options carries chain-level lookup configuration.
type Options struct {
	// Fill is the value written into unmatched rows. cty.NilVal means a
	// null of the destination column's type.
	Fill cty.Value
	// OnMissing is the unmatched-row policy; empty means MissingWarn.
	OnMissing MissingPolicy
}

// SpecInvalidError is returned when neither or both of source/resolver
// meaningfully apply, or a named column is missing.
type SpecInvalidError struct {
	Reason string
}

func (e *SpecInvalidError) Error() string {
	return "invalid lookup spec: " + e.Reason
}

// ContractViolationError is returned when a custom resolver breaks its
// post-conditions: the destination column must exist afterwards and the row
// count must be unchanged.
type ContractViolationError struct {
	Resolver string
	Reason   string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("resolver %q violated its contract: %s", e.Resolver, e.Reason)
}

// UnmatchedError is returned under MissingRaise when a key join leaves rows
// unmatched.
type UnmatchedError struct {
	Dst       string
	Unmatched int
}

func (e *UnmatchedError) Error() string {
	return fmt.Sprintf("lookup into %q left %d rows unmatched", e.Dst, e.Unmatched)
}

// Dispatch runs one lookup. On success the returned table carries the
// populated destination column and one appended provenance record; on any
// failure the input table is untouched.
func Dispatch(ctx context.Context, tbl *table.Table, s Spec, opts Options) (*table.Table, error) {
	if s.Dst == "" {
		return nil, &SpecInvalidError{Reason: "destination column name is required"}
	}

	switch {
	case s.Resolver != nil && s.Source != nil:
		return nil, &SpecInvalidError{Reason: "source table and resolver are mutually exclusive"}
	case s.Resolver != nil:
		return dispatchResolver(ctx, tbl, s, opts)
	case s.Source != nil:
		return dispatchJoin(ctx, tbl, s, opts)
	}
	return nil, &SpecInvalidError{Reason: "either a source table or a resolver must be provided"}
}

// dispatchResolver runs the custom-resolver variant. A resolver exposing
// its reference data via TableSource is joined by the dispatcher itself
// under the chain's options; an opaque resolver is trusted completely, with
// its post-conditions validated before the result is committed.
func dispatchResolver(ctx context.Context, tbl *table.Table, s Spec, opts Options) (*table.Table, error) {
	logger := ctxlog.FromContext(ctx)

	if ts, ok := s.Resolver.(TableSource); ok {
		source, err := ts.SourceTable(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolver %q failed: %w", s.Resolver.Identity(), err)
		}
		joined := s
		joined.Source = source
		joined.SourceID = s.Resolver.Identity()
		joined.Resolver = nil
		return dispatchJoin(ctx, tbl, joined, opts)
	}

	logger.Debug("Lookup: invoking custom resolver.", "resolver", s.Resolver.Identity(), "dst", s.Dst)

	out, err := s.Resolver.Resolve(ctx, tbl, s.Src, s.Dst)
	if err != nil {
		return nil, fmt.Errorf("resolver %q failed: %w", s.Resolver.Identity(), err)
	}
	if out == nil {
		return nil, &ContractViolationError{Resolver: s.Resolver.Identity(), Reason: "returned a nil table"}
	}
	if !out.Has(s.Dst) {
		return nil, &ContractViolationError{
			Resolver: s.Resolver.Identity(),
			Reason:   fmt.Sprintf("destination column %q was not populated", s.Dst),
		}
	}
	if out.Rows() != tbl.Rows() {
		return nil, &ContractViolationError{
			Resolver: s.Resolver.Identity(),
			Reason:   fmt.Sprintf("row count changed from %d to %d", tbl.Rows(), out.Rows()),
		}
	}

	detail := map[string]string{"resolver": s.Resolver.Identity()}
	if s.Src != "" {
		detail["key"] = s.Src
	}
	rec := provenance.NewRecord(provenance.OpLookup, inputsFor(s.Src), []string{s.Dst}, detail)
	return out.WithRecord(rec), nil
}

// Join populates dst on tbl by matching tbl's key column (src, or its
// declared row key when src is "") against source's row key. Unmatched
// rows receive fill; cty.NilVal fill means a null of the destination type.
// Returns the enriched table and the unmatched-row count. Join appends no
// provenance; it is the primitive Dispatch and resolver implementations
// build on.
func Join(ctx context.Context, tbl, source *table.Table, src, dst string, fill cty.Value) (*table.Table, int, error) {
	keyCol := src
	if keyCol == "" {
		keyCol = tbl.RowKey()
	}
	if keyCol == "" {
		return nil, 0, &SpecInvalidError{Reason: "no key column given and the table declares no row key"}
	}
	keys, ok := tbl.Column(keyCol)
	if !ok {
		return nil, 0, &SpecInvalidError{Reason: fmt.Sprintf("key column %q does not exist", keyCol)}
	}

	sourceKey := source.RowKey()
	if sourceKey == "" {
		return nil, 0, &SpecInvalidError{Reason: "source table declares no row key to join against"}
	}
	sourceKeys, ok := source.Column(sourceKey)
	if !ok {
		return nil, 0, &SpecInvalidError{Reason: fmt.Sprintf("source row key column %q does not exist", sourceKey)}
	}
	sourceVals, ok := source.Column(dst)
	if !ok {
		return nil, 0, &SpecInvalidError{Reason: fmt.Sprintf("destination column %q does not exist in source", dst)}
	}
	dstType, _ := source.ColumnType(dst)

	if fill == cty.NilVal {
		fill = cty.NullVal(dstType)
	} else if !fill.IsNull() && !fill.Type().Equals(dstType) {
		return nil, 0, &SpecInvalidError{
			Reason: fmt.Sprintf("fill value type %s does not match destination type %s",
				fill.Type().FriendlyName(), dstType.FriendlyName()),
		}
	}

	// Index the source by key. Later rows win on duplicate keys, matching
	// last-write semantics for reference tables.
	index := make(map[string]cty.Value, len(sourceKeys))
	for i, k := range sourceKeys {
		if k.IsNull() {
			continue
		}
		index[keyString(k)] = sourceVals[i]
	}

	values := make([]cty.Value, tbl.Rows())
	unmatched := 0
	for i, k := range keys {
		if !k.IsNull() {
			if v, found := index[keyString(k)]; found {
				values[i] = v
				continue
			}
		}
		values[i] = fill
		unmatched++
	}

	out, err := tbl.SetColumn(dst, dstType, values)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to write lookup column %q: %w", dst, err)
	}
	return out, unmatched, nil
}

// dispatchJoin performs the key-based join variant. Unmatched rows receive
// the fill value; partial matches are expected and non-fatal unless the
// policy says otherwise.
func dispatchJoin(ctx context.Context, tbl *table.Table, s Spec, opts Options) (*table.Table, error) {
	logger := ctxlog.FromContext(ctx)

	keyCol := s.Src
	if keyCol == "" {
		keyCol = tbl.RowKey()
	}

	out, unmatched, err := Join(ctx, tbl, s.Source, s.Src, s.Dst, opts.Fill)
	if err != nil {
		return nil, err
	}

	policy := opts.OnMissing
	if policy == "" {
		policy = MissingWarn
	}
	if unmatched > 0 {
		switch policy {
		case MissingRaise:
			return nil, &UnmatchedError{Dst: s.Dst, Unmatched: unmatched}
		case MissingWarn:
			logger.Warn("Lookup: unmatched rows filled.", "dst", s.Dst, "unmatched", unmatched, "key", keyCol)
		}
	}

	sourceID := s.SourceID
	if sourceID == "" {
		sourceID = "table"
	}
	detail := map[string]string{
		"source":     sourceID,
		"key":        keyCol,
		"source_key": s.Source.RowKey(),
		"unmatched":  strconv.Itoa(unmatched),
	}
	rec := provenance.NewRecord(provenance.OpLookup, []string{keyCol}, []string{s.Dst}, detail)
	logger.Info("Lookup: committed.", "dst", s.Dst, "source", sourceID, "unmatched", unmatched)
	return out.WithRecord(rec), nil
}

// keyString renders a key value into a canonical map key.
func keyString(v cty.Value) string {
	return v.GoString()
}

func inputsFor(src string) []string {
	if src == "" {
		return nil
	}
	return []string{src}
}
