// Package httplookup provides a lookup source backed by an HTTP endpoint
// serving a JSON array of flat objects. The fetched document is turned into
// a keyed reference table and joined into the chain's table. All I/O stays
// inside the resolver, as the enrichment core requires.
package httplookup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vk/enrichgo/internal/ctxlog"
	"github.com/vk/enrichgo/internal/lookup"
	"github.com/vk/enrichgo/internal/registry"
	"github.com/vk/enrichgo/internal/table"
	"github.com/zclconf/go-cty/cty"
	"resty.dev/v3"
)

// Source is an HTTP-backed lookup source. It implements lookup.Resolver,
// lookup.TableSource and registry.Module.
type Source struct {
	name   string
	url    string
	key    string
	client *resty.Client
}

// New creates a source that fetches its reference data from url. key names
// the column of the fetched document used as the join key.
func New(name, url, key string) *Source {
	return &Source{
		name:   name,
		url:    url,
		key:    key,
		client: resty.New(),
	}
}

// Register implements registry.Module.
func (s *Source) Register(r *registry.Registry) error {
	return r.Register(s.name, s)
}

// Identity implements lookup.Resolver.
func (s *Source) Identity() string {
	return "http:" + s.name
}

// SourceTable implements lookup.TableSource: fetch the document and build
// the keyed reference table. The dispatcher performs the join itself, so
// the chain's fill value and missing-row policy apply.
func (s *Source) SourceTable(ctx context.Context) (*table.Table, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("httplookup: fetching reference data.", "source", s.name, "url", s.url)

	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lookup source %q: %w", s.name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("lookup source %q returned status %s", s.name, resp.Status())
	}

	var rows []map[string]any
	if err := json.Unmarshal(resp.Bytes(), &rows); err != nil {
		return nil, fmt.Errorf("lookup source %q returned invalid JSON: %w", s.name, err)
	}

	source, err := tableFromRows(rows, s.key)
	if err != nil {
		return nil, fmt.Errorf("lookup source %q: %w", s.name, err)
	}
	logger.Debug("httplookup: reference table built.", "source", s.name, "rows", source.Rows())
	return source, nil
}

// Resolve implements lookup.Resolver for direct use outside the dispatcher.
// Unmatched rows are filled with nulls.
func (s *Source) Resolve(ctx context.Context, tbl *table.Table, src, dst string) (*table.Table, error) {
	source, err := s.SourceTable(ctx)
	if err != nil {
		return nil, err
	}

	out, unmatched, err := lookup.Join(ctx, tbl, source, src, dst, cty.NilVal)
	if err != nil {
		return nil, err
	}
	if unmatched > 0 {
		ctxlog.FromContext(ctx).Warn("httplookup: unmatched rows filled with nulls.", "source", s.name, "unmatched", unmatched)
	}
	return out, nil
}

// tableFromRows converts a JSON array of flat objects into a keyed table.
// Column types are inferred from the first non-nil value of each column.
func tableFromRows(rows []map[string]any, key string) (*table.Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("document holds no rows")
	}

	nameSet := make(map[string]struct{})
	for _, row := range rows {
		for name := range row {
			nameSet[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	tbl := table.New()
	for _, name := range names {
		typ := cty.NilType
		for _, row := range rows {
			if v, ok := row[name]; ok && v != nil {
				switch v.(type) {
				case float64:
					typ = cty.Number
				case string:
					typ = cty.String
				case bool:
					typ = cty.Bool
				default:
					return nil, fmt.Errorf("column %q holds a nested value, only flat objects are supported", name)
				}
				break
			}
		}
		if typ == cty.NilType {
			typ = cty.String
		}

		values := make([]cty.Value, len(rows))
		for i, row := range rows {
			v, ok := row[name]
			if !ok || v == nil {
				values[i] = cty.NullVal(typ)
				continue
			}
			switch tv := v.(type) {
			case float64:
				values[i] = cty.NumberFloatVal(tv)
			case string:
				values[i] = cty.StringVal(tv)
			case bool:
				values[i] = cty.BoolVal(tv)
			default:
				return nil, fmt.Errorf("column %q holds a nested value at row %d", name, i)
			}
			if !values[i].Type().Equals(typ) {
				return nil, fmt.Errorf("column %q mixes value types", name)
			}
		}

		if err := tbl.AddColumn(name, typ, values); err != nil {
			return nil, err
		}
	}

	return tbl.WithRowKey(key)
}
