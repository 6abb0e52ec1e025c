package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/enrichgo/internal/app"
	"github.com/vk/enrichgo/internal/testutil"
)

func TestRunEndToEnd(t *testing.T) {
	result := testutil.RunPipelineTest(t, map[string]string{
		"orders.csv": "code,price,quantity\n1,5,2\n2,10,2\n3,15,2\n",
		"pipeline.hcl": `
input {
  path    = "orders.csv"
  row_key = "code"
}

output {
  path = "enriched.csv"
}

validate {
  required = ["price", "quantity"]
  types    = { price = "number" }
}

derive {
  columns {
    total = "price * quantity"
    big   = "total > 25"
  }
}

cast {
  total = "string"
}

profile {}
`,
	})
	require.NoError(t, result.Err)

	data, err := os.ReadFile(filepath.Join(result.Dir, "enriched.csv"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "code,price,quantity,total,big", lines[0])
	assert.Equal(t, "1,5,2,10,false", lines[1])
	assert.Equal(t, "3,15,2,30,true", lines[3])

	assert.Contains(t, result.LogOutput, "profile: 3 rows, 5 columns")
}

func TestRunDeriveFailureAborts(t *testing.T) {
	result := testutil.RunPipelineTest(t, map[string]string{
		"orders.csv": "code,price\n1,5\n",
		"pipeline.hcl": `
input { path = "orders.csv" }

output { path = "enriched.csv" }

derive {
  columns {
    bad = "missing_col * 2"
  }
}
`,
	})
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "step 1 (derive) failed")

	_, statErr := os.Stat(filepath.Join(result.Dir, "enriched.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

// regionsServer serves reference data with no row for code 2.
func regionsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"code": 1, "region": "north"},
			{"code": 3, "region": "south"}
		]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func lookupPipeline(url, onMissing string) string {
	return fmt.Sprintf(`
input {
  path    = "orders.csv"
  row_key = "code"
}

output {
  path = "enriched.csv"
}

source "regions" {
  url = %q
  key = "code"
}

lookup "regions" {
  src        = "code"
  dst        = ["region"]
  on_missing = %q
}
`, url, onMissing)
}

func TestRunLookupOnMissingRaise(t *testing.T) {
	srv := regionsServer(t)
	result := testutil.RunPipelineTest(t, map[string]string{
		"orders.csv":   "code,price\n1,5\n2,10\n3,15\n",
		"pipeline.hcl": lookupPipeline(srv.URL, "raise"),
	})
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "step 1 (lookup) failed")
	assert.Contains(t, result.Err.Error(), "unmatched")

	_, statErr := os.Stat(filepath.Join(result.Dir, "enriched.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunLookupOnMissingWarn(t *testing.T) {
	srv := regionsServer(t)
	result := testutil.RunPipelineTest(t, map[string]string{
		"orders.csv":   "code,price\n1,5\n2,10\n3,15\n",
		"pipeline.hcl": lookupPipeline(srv.URL, "warn"),
	})
	require.NoError(t, result.Err)

	data, err := os.ReadFile(filepath.Join(result.Dir, "enriched.csv"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "code,price,region", lines[0])
	assert.Equal(t, "1,5,north", lines[1])
	assert.Equal(t, "2,10,", lines[2])
	assert.Equal(t, "3,15,south", lines[3])

	assert.Contains(t, result.LogOutput, "unmatched")
}

func TestRunTwiceOnSameApp(t *testing.T) {
	srv := regionsServer(t)

	tmpDir := t.TempDir()
	files := map[string]string{
		"orders.csv":   "code,price\n1,5\n3,15\n",
		"pipeline.hcl": lookupPipeline(srv.URL, "warn"),
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0644))
	}

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := app.NewConfig(app.Config{
		PipelinePath: "pipeline.hcl",
		LogLevel:     "debug",
		LogFormat:    "text",
	})
	require.NoError(t, err)

	testApp, err := app.NewApp(&testutil.SafeBuffer{}, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, testApp.Run(ctx, cfg))
	require.NoError(t, testApp.Run(ctx, cfg))
}

func TestRunMissingInputFile(t *testing.T) {
	result := testutil.RunPipelineTest(t, map[string]string{
		"pipeline.hcl": "input { path = \"nowhere.csv\" }\n",
	})
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "failed to load input table")
}
