package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
}

func TestDiscoverImages_EmptyArgs(t *testing.T) {
	files, err := DiscoverImages(nil, false, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscoverImages_FilesPassThrough(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "shelf.png", "notes.txt")

	files, err := DiscoverImages([]string{
		filepath.Join(dir, "shelf.png"),
		filepath.Join(dir, "notes.txt"),
	}, false, nil)
	require.NoError(t, err)
	assert.Len(t, files, 2, "explicit files are not filtered by extension")
}

func TestDiscoverImages_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "b.jpg", "a.png", "notes.txt", "sub/c.png")

	files, err := DiscoverImages([]string{dir}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.jpg")}, files)
}

func TestDiscoverImages_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.png", "sub/c.png", "sub/deeper/d.webp")

	files, err := DiscoverImages([]string{dir}, true, nil)
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Contains(t, files, filepath.Join(dir, "sub", "deeper", "d.webp"))
}

func TestDiscoverImages_Exclude(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.png", "a_overlay.png", "b.png")

	files, err := DiscoverImages([]string{dir}, false, []string{"*_overlay.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}, files)
}

func TestDiscoverImages_Missing(t *testing.T) {
	_, err := DiscoverImages([]string{"/non/existent/shelf.jpg"}, false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/non/existent/shelf.jpg")
}
