package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreFilter_DefaultPatterns(t *testing.T) {
	f, err := NewIgnoreFilter(t.TempDir())
	require.NoError(t, err)

	assert.True(t, f.ShouldIgnore("node_modules/react/index.js"))
	assert.True(t, f.ShouldIgnore(".git/HEAD"))
	assert.True(t, f.ShouldIgnore("__pycache__/mod.pyc"))
	assert.True(t, f.ShouldIgnore("Cargo.lock"))
	assert.False(t, f.ShouldIgnore("src/main.rs"))
	assert.False(t, f.ShouldIgnore("README.md"))
}

func TestIgnoreFilter_ReadsIgnoreFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n# comment\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".aqchatignore"), []byte("docs/generated/\n"), 0o644))

	f, err := NewIgnoreFilter(dir)
	require.NoError(t, err)

	assert.True(t, f.ShouldIgnore("server.log"))
	assert.True(t, f.ShouldIgnore("docs/generated/api.md"))
	assert.False(t, f.ShouldIgnore("docs/manual.md"))
}
