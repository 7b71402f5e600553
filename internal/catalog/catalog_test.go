package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUpsertFingerprintIsIdempotent(t *testing.T) {
	c := openTestCatalog(t)

	fp := FingerprintInput{
		Algorithm:  AlgorithmPrimary,
		Bitstring:  "abc123",
		Duration:   180.5,
		SampleRate: 44100,
		Channels:   2,
	}

	id1, err := c.UpsertFingerprint(fp)
	require.NoError(t, err)

	id2, err := c.UpsertFingerprint(fp)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	var count int64
	require.NoError(t, c.db.Model(&FingerprintRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStoreFileEnforcesPathUniqueness(t *testing.T) {
	c := openTestCatalog(t)

	in := FileInput{Path: "/music/a.mp3", Size: 100, ModTime: time.Now()}
	id1, err := c.StoreFile(in)
	require.NoError(t, err)

	in.Size = 200
	id2, err := c.StoreFile(in)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	var row FileRow
	require.NoError(t, c.db.First(&row, id1).Error)
	assert.Equal(t, int64(200), row.Size)
}

func TestOperationStateMachineRejectsIllegalTransition(t *testing.T) {
	c := openTestCatalog(t)

	opID, err := c.RecordOperation(OperationInput{
		TransactionID: "tx-1",
		Kind:          OpCopy,
		SourcePath:    "/music/a.mp3",
	})
	require.NoError(t, err)

	// pending -> committed skips prepared, which is illegal.
	err = c.UpdateOperationStatus(opID, OpCommitted)
	require.Error(t, err)

	require.NoError(t, c.UpdateOperationStatus(opID, OpPrepared))
	require.NoError(t, c.UpdateOperationStatus(opID, OpCommitted))
}

func TestFindFingerprintDuplicatesStreamsOnlyGroupsOfTwoOrMore(t *testing.T) {
	c := openTestCatalog(t)

	sharedFP, err := c.UpsertFingerprint(FingerprintInput{Algorithm: AlgorithmPrimary, Bitstring: "shared"})
	require.NoError(t, err)
	uniqueFP, err := c.UpsertFingerprint(FingerprintInput{Algorithm: AlgorithmPrimary, Bitstring: "unique"})
	require.NoError(t, err)

	_, err = c.StoreFile(FileInput{Path: "/a.mp3", Size: 1, ModTime: time.Now(), FingerprintID: &sharedFP})
	require.NoError(t, err)
	_, err = c.StoreFile(FileInput{Path: "/b.mp3", Size: 1, ModTime: time.Now(), FingerprintID: &sharedFP})
	require.NoError(t, err)
	_, err = c.StoreFile(FileInput{Path: "/c.mp3", Size: 1, ModTime: time.Now(), FingerprintID: &uniqueFP})
	require.NoError(t, err)

	var groups []DuplicateGroup
	err = c.FindFingerprintDuplicates(func(g DuplicateGroup) error {
		groups = append(groups, g)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, groups, 1)
	assert.Equal(t, sharedFP, groups[0].Fingerprint.ID)
	assert.Len(t, groups[0].Files, 2)
}

func TestUpdateProgressUpsertsByKey(t *testing.T) {
	c := openTestCatalog(t)

	require.NoError(t, c.UpdateProgress("session-1", "discover", ProgressCounters{FilesTotal: 10, FilesProcessed: 5}))
	require.NoError(t, c.UpdateProgress("session-1", "discover", ProgressCounters{FilesTotal: 10, FilesProcessed: 10}))

	var count int64
	require.NoError(t, c.db.Model(&ProgressRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var row ProgressRow
	require.NoError(t, c.db.Where("session_id = ? AND stage = ?", "session-1", "discover").First(&row).Error)
	assert.Equal(t, int64(10), row.FilesProcessed)
}

func TestCleanupStaleFingerprintsKeepsReferenced(t *testing.T) {
	c := openTestCatalog(t)

	staleFP, err := c.UpsertFingerprint(FingerprintInput{Algorithm: AlgorithmFallback, Bitstring: "stale"})
	require.NoError(t, err)
	keptFP, err := c.UpsertFingerprint(FingerprintInput{Algorithm: AlgorithmFallback, Bitstring: "kept"})
	require.NoError(t, err)

	_, err = c.StoreFile(FileInput{Path: "/kept.mp3", Size: 1, ModTime: time.Now(), FingerprintID: &keptFP})
	require.NoError(t, err)

	// Force both rows to look old.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, c.db.Model(&FingerprintRow{}).Where("id IN ?", []uint{staleFP, keptFP}).
		Update("last_seen_at", old).Error)

	deleted, err := c.CleanupStaleFingerprints(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []FingerprintRow
	require.NoError(t, c.db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, keptFP, remaining[0].ID)
}
