package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("source_roots:\n  - /music\noutput_root: /out\nworkspace_dir: /ws\n"), 0o644))

	s, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"/music"}, s.SourceRoots)
	assert.Equal(t, "/out", s.OutputRoot)
	assert.Equal(t, FingerprintBoth, s.FingerprintAlgorithm)
	assert.Equal(t, DuplicateActionMove, s.DuplicateAction)
	assert.Greater(t, s.MaxWorkers, 0)
	assert.Equal(t, int(float64(s.MemoryLimitMB)*1.5), s.HardMemoryLimitMB())
}

func TestValidateRejectsBadEnum(t *testing.T) {
	s := &Settings{
		SourceRoots:           []string{"/music"},
		OutputRoot:            "/out",
		WorkspaceDir:          "/ws",
		FingerprintAlgorithm:  "nonsense",
		DuplicateAction:       DuplicateActionMove,
		DuplicateSimilarity:   1.0,
		IntegrityLevel:        IntegrityChecksum,
		MinHealthScore:        50,
		BatchSize:             10,
		MaxWorkers:            1,
		MemoryLimitMB:         256,
		CheckpointIntervalSec: 60,
		StructureTemplate:     "{artist}",
	}
	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fingerprint_algorithm")
}

func TestValidateRequiresSourceRoots(t *testing.T) {
	s := &Settings{
		OutputRoot:            "/out",
		WorkspaceDir:          "/ws",
		FingerprintAlgorithm:  FingerprintBoth,
		DuplicateAction:       DuplicateActionMove,
		DuplicateSimilarity:   1.0,
		IntegrityLevel:        IntegrityChecksum,
		MinHealthScore:        50,
		BatchSize:             10,
		MaxWorkers:            1,
		MemoryLimitMB:         256,
		CheckpointIntervalSec: 60,
		StructureTemplate:     "{artist}",
	}
	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source_roots")
}
