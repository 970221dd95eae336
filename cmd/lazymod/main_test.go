package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/lazymod/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestRun_StartupError(t *testing.T) {
	t.Parallel()

	// A manifest with a syntax error fails while the app is being built.
	invalidHCL := `
		module "a" {
			source = "a"
		// Missing closing brace here
	`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "main.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0600))

	runErr := run(context.Background(), &bytes.Buffer{}, []string{filePath})

	require.Error(t, runErr)
	errStr := runErr.Error()
	require.True(t, strings.Contains(errStr, "application startup failed"))
	require.True(t, strings.Contains(errStr, "failed to parse"))
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})

	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_ReportsStats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifest := `
version = "0.1.0"

main {
  source = "(function(require){ return require(\"answer\") })"
}

module "answer" {
  value = 42
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle.hcl"), []byte(manifest), 0600))

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-report", "-log-level", "error", dir})

	require.NoError(t, err)
	require.Contains(t, out.String(), `"answer"`)
	require.Contains(t, out.String(), `"global"`)
}
