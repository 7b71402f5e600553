package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/musiccleanup/internal/config"
)

func newTestSettings(t *testing.T, sourceDir, workspaceDir, outputDir string) *config.Settings {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	contents := "source_roots:\n  - " + sourceDir + "\n" +
		"output_root: " + outputDir + "\n" +
		"workspace_dir: " + workspaceDir + "\n" +
		"audio_formats: [\".mp3\"]\n" +
		"duplicate_action: report_only\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(contents), 0o644))

	s, err := config.Load(cfgPath)
	require.NoError(t, err)
	return s
}

func writeFakeMP3(t *testing.T, path string, payload string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("ID3"+payload), 0o644))
}

func TestRunAnalyzesDiscoveredFilesAndRecordsDuplicates(t *testing.T) {
	source := t.TempDir()
	workspace := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")

	writeFakeMP3(t, filepath.Join(source, "a.mp3"), "identical audio bytes for both copies")
	writeFakeMP3(t, filepath.Join(source, "b.mp3"), "identical audio bytes for both copies")
	writeFakeMP3(t, filepath.Join(source, "c.mp3"), "a completely different song entirely")

	settings := newTestSettings(t, source, workspace, output)

	sess, err := New(settings)
	require.NoError(t, err)
	defer sess.Close()

	summary, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.FilesDiscovered)
	assert.Equal(t, 3, summary.FilesAnalyzed)
	assert.Equal(t, 0, summary.FilesFailed)
	assert.Equal(t, 1, summary.DuplicateGroups)
}

func TestRunIsIdempotentOnRepeatedInvocation(t *testing.T) {
	source := t.TempDir()
	workspace := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")

	writeFakeMP3(t, filepath.Join(source, "only.mp3"), "a lone unique track")

	settings := newTestSettings(t, source, workspace, output)

	sess, err := New(settings)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Run(context.Background())
	require.NoError(t, err)

	summary, err := sess.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesAnalyzed)
	assert.Equal(t, 0, summary.DuplicateGroups)
}
