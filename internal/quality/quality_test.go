package quality

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "track.flac")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestAnalyzeHealthyFile(t *testing.T) {
	data := make([]byte, 100*1024)
	copy(data, "fLaC")
	for i := 9000; i < len(data); i++ {
		data[i] = byte(i % 251)
	}
	path := writeTempFile(t, data)

	a := New()
	report, err := a.Analyze(path, Options{MinHealthScore: 50, FileSizeBytes: int64(len(data))})
	require.NoError(t, err)
	assert.Equal(t, "flac", report.DetectedFormat)
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestAnalyzeFlagsCorruptedHeader(t *testing.T) {
	data := make([]byte, 20*1024)
	for i := range data {
		data[i] = byte(i % 250)
	}
	path := writeTempFile(t, data)

	a := New()
	report, err := a.Analyze(path, Options{MinHealthScore: 50, FileSizeBytes: int64(len(data))})
	require.NoError(t, err)
	assert.Contains(t, report.Defects, DefectCorruptedHeader)
	assert.Equal(t, StatusCorrupt, report.Status)
}

func TestAnalyzeFlagsMostlySilence(t *testing.T) {
	data := make([]byte, 20*1024)
	copy(data, "fLaC")
	path := writeTempFile(t, data) // all-zero body past the header

	a := New()
	report, err := a.Analyze(path, Options{MinHealthScore: 50, FileSizeBytes: int64(len(data))})
	require.NoError(t, err)
	assert.Contains(t, report.Defects, DefectMostlySilence)
}

func TestScoreFromDefectsClampsToZero(t *testing.T) {
	score := scoreFromDefects([]Defect{DefectCorruptedHeader, DefectTruncatedFile, DefectInvalidSync})
	assert.Equal(t, 0, score)
}

func TestStatusFromDefectsCriticalOverridesScore(t *testing.T) {
	status := statusFromDefects([]Defect{DefectCorruptedHeader}, 90, 50)
	assert.Equal(t, StatusCorrupt, status)
}

func TestStatusFromDefectsSuspectBelowThreshold(t *testing.T) {
	status := statusFromDefects(nil, 40, 50)
	assert.Equal(t, StatusSuspect, status)
}
