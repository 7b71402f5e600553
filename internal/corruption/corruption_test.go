package corruption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/musiccleanup/internal/catalog"
)

func TestPartitionSeparatesCorruptFiles(t *testing.T) {
	f := New(Options{KeepSuspectInGrouping: true})
	files := []AnalyzedFile{
		{FileID: 1, IntegrityStatus: catalog.IntegrityHealthy},
		{FileID: 2, IntegrityStatus: catalog.IntegrityCorrupt},
		{FileID: 3, IntegrityStatus: catalog.IntegritySuspect},
	}

	healthy, quarantine := f.Partition(files)
	require.Len(t, healthy, 2)
	require.Len(t, quarantine, 1)
	assert.Equal(t, uint(2), quarantine[0].FileID)
}

func TestPartitionExcludesSuspectWhenConfigured(t *testing.T) {
	f := New(Options{KeepSuspectInGrouping: false})
	files := []AnalyzedFile{
		{FileID: 1, IntegrityStatus: catalog.IntegritySuspect},
	}

	healthy, quarantine := f.Partition(files)
	assert.Empty(t, healthy)
	require.Len(t, quarantine, 1)
}

func TestEachStopsOnHandlerError(t *testing.T) {
	f := New(Options{KeepSuspectInGrouping: true})
	files := []AnalyzedFile{
		{FileID: 1, IntegrityStatus: catalog.IntegrityHealthy},
		{FileID: 2, IntegrityStatus: catalog.IntegrityHealthy},
	}

	calls := 0
	err := f.Each(files, func(AnalyzedFile) error {
		calls++
		return assert.AnError
	}, func(AnalyzedFile) error { return nil })

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
