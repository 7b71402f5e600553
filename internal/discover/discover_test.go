package discover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "protected"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.mp3"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "protected", "c.mp3"), []byte("data"), 0o644))
	return root
}

func TestWalkFiltersByExtension(t *testing.T) {
	root := setupTree(t)
	d := New(Options{SourceRoots: []string{root}, AudioFormats: []string{".mp3"}})

	var found []string
	err := d.Walk(context.Background(), func(path string, info os.FileInfo) error {
		found = append(found, path)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
}

func TestWalkSkipsProtectedPaths(t *testing.T) {
	root := setupTree(t)
	d := New(Options{
		SourceRoots:    []string{root},
		AudioFormats:   []string{".mp3"},
		ProtectedPaths: []string{filepath.Join(root, "protected")},
	})

	var found []string
	err := d.Walk(context.Background(), func(path string, info os.FileInfo) error {
		found = append(found, path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.mp3")}, found)
}

func TestWalkRespectsSizeBounds(t *testing.T) {
	root := setupTree(t)
	d := New(Options{
		SourceRoots:  []string{root},
		AudioFormats: []string{".mp3"},
		MinSizeBytes: 100,
	})

	var found []string
	err := d.Walk(context.Background(), func(path string, info os.FileInfo) error {
		found = append(found, path)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	root := setupTree(t)
	d := New(Options{SourceRoots: []string{root}, AudioFormats: []string{".mp3"}})

	calls := 0
	err := d.Walk(context.Background(), func(path string, info os.FileInfo) error {
		calls++
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
