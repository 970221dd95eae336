package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/lazymod/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "nested", "cache"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "cache:1.0.0:ui/button.js")
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, s.Put(ctx, "cache:1.0.0:ui/button.js", []byte("v1")))
	require.NoError(t, s.Put(ctx, "cache:1.0.0:ui/button.js", []byte("v2")))

	got, err := s.Get(ctx, "cache:1.0.0:ui/button.js")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:1.0.0:ui/button.js"}, keys, "no temporary files are left behind")
}

func TestKeysIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPrune(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{
		"cache:1.2.0:a.js",
		"cache:1.1.9:a.js",
		"cache:0.9.0:b.json",
		"cache:1.3.0:a.js",
		"cache:latest:c.js",
		"unrelated",
	} {
		require.NoError(t, s.Put(ctx, key, []byte(key)))
	}

	removed, err := s.Prune(ctx, "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:1.2.0:a.js", "cache:1.3.0:a.js", "unrelated"}, keys)
}

func TestVersionOf(t *testing.T) {
	v, ok := versionOf("cache:2.0.0:lib/x.js")
	assert.True(t, ok)
	assert.Equal(t, "2.0.0", v)

	_, ok = versionOf("lmd:2.0.0:lib/x.js")
	assert.False(t, ok)
}

func TestNewer(t *testing.T) {
	assert.True(t, newer("1.10.0", "1.9.0"))
	assert.True(t, newer("v2.0.0", "1.0.0"))
	assert.False(t, newer("1.0.0", "1.0.0"))
	assert.False(t, newer("latest", "1.0.0"))
}
