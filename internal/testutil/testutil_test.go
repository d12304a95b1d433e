package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "test", "nested", "dir")

	require.NoError(t, EnsureDir(testDir))
	assert.True(t, DirExists(testDir))
	assert.False(t, DirExists(filepath.Join(testDir, "missing")))
}

func TestWriteCatalog(t *testing.T) {
	path := WriteCatalog(t, "products: []\n")
	assert.True(t, FileExists(path))
	assert.False(t, FileExists("/non/existent/file"))
}

func TestWriteFile(t *testing.T) {
	path := WriteFile(t, "labels.txt", []byte("grozi_1\n"))
	assert.Equal(t, "labels.txt", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "grozi_1\n", string(data))
}
