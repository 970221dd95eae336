package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.hcl")
	nested := filepath.Join(dir, "sub", "b.hcl")
	touch(t, a)
	touch(t, nested)
	touch(t, filepath.Join(dir, "sub", "c.json"))

	files, err := FindFiles([]string{dir, a, filepath.Join(dir, "missing")}, ".hcl")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, nested}, files)
}

func TestFindFiles_SingleFileWithOtherExtension(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "x.txt")
	touch(t, other)

	files, err := FindFiles([]string{other}, ".hcl")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFindFiles_EmptyExtension(t *testing.T) {
	_, err := FindFiles([]string{"."}, "")
	assert.Error(t, err)
}
