package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/enrichgo/internal/pipeline"
)

func loadString(t *testing.T, src string) (*pipeline.Pipeline, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return pipeline.Load(context.Background(), path)
}

func TestLoadFullDocument(t *testing.T) {
	p, err := loadString(t, `
input {
  path    = "orders.csv"
  row_key = "code"
}

output {
  path = "enriched.parquet"
}

source "regions" {
  url = "https://example.test/regions"
  key = "code"
}

validate {
  required = ["price", "quantity"]
  types    = { price = "number" }
  non_null = ["code"]
}

derive {
  overwrite = true
  columns {
    total    = "price * quantity"
    total_2x = "total * 2"
  }
}

cast {
  total = "string"
}

lookup "regions" {
  src        = "code"
  dst        = ["region"]
  on_missing = "raise"
}

profile {
  lazy = true
}
`)
	require.NoError(t, err)

	require.NotNil(t, p.Input)
	assert.Equal(t, "orders.csv", p.Input.Path)
	assert.Equal(t, "code", p.Input.RowKey)

	require.NotNil(t, p.Output)
	assert.Equal(t, "enriched.parquet", p.Output.Path)

	require.Len(t, p.Sources, 1)
	assert.Equal(t, "regions", p.Sources[0].Name)
	assert.Equal(t, "https://example.test/regions", p.Sources[0].URL)

	require.Len(t, p.Steps, 5)
	kinds := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []string{"validate", "derive", "cast", "lookup", "profile"}, kinds)

	v := p.Steps[0].Validate
	assert.Equal(t, []string{"price", "quantity"}, v.Required)
	assert.Equal(t, map[string]string{"price": "number"}, v.Types)
	assert.Equal(t, []string{"code"}, v.NonNull)

	d := p.Steps[1].Derive
	assert.True(t, d.Overwrite)
	assert.Equal(t, []string{"total", "total_2x"}, d.Columns.Names())

	l := p.Steps[3].Lookup
	assert.Equal(t, "regions", l.Source)
	assert.Equal(t, []string{"region"}, l.Dst)
	assert.Equal(t, "raise", l.OnMissing)

	assert.True(t, p.Steps[4].Profile.Lazy)
}

func TestLoadStepOrderFollowsDocument(t *testing.T) {
	p, err := loadString(t, `
input { path = "a.csv" }

profile {}

derive {
  columns {
    x = "1 + 1"
  }
}

profile {}
`)
	require.NoError(t, err)
	require.Len(t, p.Steps, 3)
	assert.Equal(t, "profile", p.Steps[0].Kind)
	assert.Equal(t, "derive", p.Steps[1].Kind)
	assert.Equal(t, "profile", p.Steps[2].Kind)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]struct {
		src  string
		want string
	}{
		"missing input": {
			src:  `profile {}`,
			want: "missing input block",
		},
		"unknown block": {
			src:  "input { path = \"a.csv\" }\nwidget {}\n",
			want: "unknown block type",
		},
		"duplicate input": {
			src:  "input { path = \"a.csv\" }\ninput { path = \"b.csv\" }\n",
			want: "duplicate input block",
		},
		"derive without columns": {
			src:  "input { path = \"a.csv\" }\nderive {}\n",
			want: "requires a columns block",
		},
		"unexpected attribute": {
			src:  "input {\n path = \"a.csv\"\n color = \"red\"\n}\n",
			want: "does not allow attribute",
		},
		"lookup without dst": {
			src:  "input { path = \"a.csv\" }\nlookup \"s\" { src = \"k\" }\n",
			want: "non-empty dst list",
		},
		"invalid on_missing": {
			src:  "input { path = \"a.csv\" }\nlookup \"s\" {\n src = \"k\"\n dst = [\"d\"]\n on_missing = \"explode\"\n}\n",
			want: "invalid on_missing",
		},
		"duplicate source": {
			src:  "input { path = \"a.csv\" }\nsource \"s\" {\n url = \"u\"\n key = \"k\"\n}\nsource \"s\" {\n url = \"u\"\n key = \"k\"\n}\n",
			want: "duplicate source",
		},
		"non-literal value": {
			src:  "input { path = some_var }\n",
			want: "must be a literal",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadString(t, tc.src)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}
