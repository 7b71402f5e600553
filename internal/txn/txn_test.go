package txn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/musiccleanup/internal/catalog"
)

func newTestManager(t *testing.T) (*Manager, *catalog.Catalog, string) {
	t.Helper()
	cat, err := catalog.Open(catalog.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	backupDir := filepath.Join(t.TempDir(), "backups")
	m := NewManager(cat, Options{BackupDir: backupDir, VerifyOperations: true})
	return m, cat, backupDir
}

func TestTransactionCopyCommitsSuccessfully(t *testing.T) {
	m, _, _ := newTestManager(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "source.mp3")
	dst := filepath.Join(dir, "dest", "target.mp3")
	require.NoError(t, os.WriteFile(src, []byte("audio bytes"), 0o644))

	tx, err := m.Begin("session-1")
	require.NoError(t, err)
	require.NoError(t, tx.AddOperation(OperationPlan{Kind: KindCopy, SourcePath: src, TargetPath: dst}))
	require.NoError(t, tx.Prepare())
	require.NoError(t, tx.Commit())

	assert.Equal(t, catalog.TxCommitted, tx.State())
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", string(data))

	_, err = os.Stat(src)
	assert.NoError(t, err, "copy must not remove the source")
}

func TestTransactionMoveRemovesSource(t *testing.T) {
	m, _, _ := newTestManager(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "source.mp3")
	dst := filepath.Join(dir, "organized", "target.mp3")
	require.NoError(t, os.WriteFile(src, []byte("audio bytes"), 0o644))

	tx, err := m.Begin("session-1")
	require.NoError(t, err)
	require.NoError(t, tx.AddOperation(OperationPlan{Kind: KindMove, SourcePath: src, TargetPath: dst}))
	require.NoError(t, tx.Prepare())
	require.NoError(t, tx.Commit())

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dst)
	assert.NoError(t, err)
}

func TestTransactionRollsBackOnFailureMidway(t *testing.T) {
	m, _, _ := newTestManager(t)
	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.mp3")
	srcB := filepath.Join(dir, "b.mp3")
	require.NoError(t, os.WriteFile(srcA, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(srcB, []byte("second"), 0o644))

	tx, err := m.Begin("session-1")
	require.NoError(t, err)
	require.NoError(t, tx.AddOperation(OperationPlan{Kind: KindDelete, SourcePath: srcA}))
	require.NoError(t, tx.AddOperation(OperationPlan{Kind: KindDelete, SourcePath: srcB}))
	require.NoError(t, tx.Prepare())

	// Remove srcB out from under the transaction so its delete step fails
	// after srcA has already been deleted, forcing a rollback.
	require.NoError(t, os.Remove(srcB))

	err = tx.Commit()
	require.Error(t, err)
	assert.Equal(t, catalog.TxRolledBack, tx.State())

	_, statErr := os.Stat(srcA)
	assert.NoError(t, statErr, "rollback must restore the first deleted file")
}

func TestTransactionRollbackOfMoveRemovesOrphanedTarget(t *testing.T) {
	m, _, _ := newTestManager(t)
	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.mp3")
	dstA := filepath.Join(dir, "organized", "a.mp3")
	srcB := filepath.Join(dir, "b.mp3")
	require.NoError(t, os.WriteFile(srcA, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(srcB, []byte("second"), 0o644))

	tx, err := m.Begin("session-1")
	require.NoError(t, err)
	require.NoError(t, tx.AddOperation(OperationPlan{Kind: KindMove, SourcePath: srcA, TargetPath: dstA}))
	require.NoError(t, tx.AddOperation(OperationPlan{Kind: KindDelete, SourcePath: srcB}))
	require.NoError(t, tx.Prepare())

	// Remove srcB out from under the transaction so its delete step fails
	// after srcA has already been moved, forcing a rollback of the move.
	require.NoError(t, os.Remove(srcB))

	err = tx.Commit()
	require.Error(t, err)
	assert.Equal(t, catalog.TxRolledBack, tx.State())

	_, statErr := os.Stat(srcA)
	assert.NoError(t, statErr, "rollback must restore the moved source")
	_, statErr = os.Stat(dstA)
	assert.True(t, os.IsNotExist(statErr), "rollback must remove the orphaned move target")
}

func TestAddOperationRejectedAfterPrepare(t *testing.T) {
	m, _, _ := newTestManager(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mp3")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	tx, err := m.Begin("session-1")
	require.NoError(t, err)
	require.NoError(t, tx.AddOperation(OperationPlan{Kind: KindDelete, SourcePath: src}))
	require.NoError(t, tx.Prepare())

	err = tx.AddOperation(OperationPlan{Kind: KindDelete, SourcePath: src})
	require.Error(t, err)
}
