package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/enrichgo/internal/app"
)

// HarnessResult holds the outcomes of an end-to-end pipeline run.
type HarnessResult struct {
	LogOutput string
	Dir       string
	Err       error
}

// RunPipelineTest writes the given files into a temporary directory and
// executes the pipeline named "pipeline.hcl" there. File contents may refer
// to sibling files by bare name; the harness rewrites nothing.
func RunPipelineTest(t *testing.T, files map[string]string) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0644))
	}

	// Pipelines name their inputs and outputs with relative paths, so run
	// from inside the temporary directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	logBuffer := &SafeBuffer{}
	cfg, err := app.NewConfig(app.Config{
		PipelinePath: "pipeline.hcl",
		LogLevel:     "debug",
		LogFormat:    "text",
	})
	require.NoError(t, err)

	testApp, err := app.NewApp(logBuffer, cfg)
	require.NoError(t, err)

	runErr := testApp.Run(context.Background(), cfg)
	return &HarnessResult{
		LogOutput: logBuffer.String(),
		Dir:       tmpDir,
		Err:       runErr,
	}
}
