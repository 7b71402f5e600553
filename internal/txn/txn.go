// Package txn implements the TransactionManager of spec.md §4.8: a reified
// plan of filesystem Operations with explicit states (created, prepared,
// committed, aborted, rolled_back), backed by per-operation backups and
// committed in submission order with reverse-order rollback on failure.
package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	atomicfile "github.com/natefinch/atomic"
	"github.com/tphakala/musiccleanup/internal/catalog"
	"github.com/tphakala/musiccleanup/internal/logging"
	"github.com/tphakala/musiccleanup/internal/rollback"
	"github.com/tphakala/musiccleanup/internal/xerrors"
)

// Kind mirrors catalog.OperationKind for callers that don't import catalog directly.
type Kind = catalog.OperationKind

const (
	KindCopy   = catalog.OpCopy
	KindMove   = catalog.OpMove
	KindDelete = catalog.OpDelete
	KindMkdir  = catalog.OpMkdir
	KindRmdir  = catalog.OpRmdir
	KindRename = catalog.OpRename
)

// OperationPlan is one unit of work submitted to a Transaction before prepare.
type OperationPlan struct {
	Kind       Kind
	SourcePath string
	TargetPath string
}

// operationState tracks one operation's run-time bookkeeping across
// prepare/commit/rollback, alongside its Catalog-persisted id.
type operationState struct {
	id         string
	plan       OperationPlan
	backupPath string
	executed   bool
}

// Transaction coordinates a batch of Operations as a unit.
type Transaction struct {
	id            string
	sessionID     string
	state         catalog.TransactionState
	cat           *catalog.Catalog
	rollbackStore *rollback.Store
	backupDir     string
	verify        bool
	dryRun        bool
	ops           []*operationState
}

// Manager creates and commits Transactions against a shared Catalog.
type Manager struct {
	cat           *catalog.Catalog
	rollbackStore *rollback.Store
	backupDir     string
	verify        bool
	dryRun        bool
}

// Options configures a Manager.
type Options struct {
	BackupDir        string
	VerifyOperations bool
	DryRun           bool
	RollbackStore    *rollback.Store
}

// NewManager builds a Manager. backupDir is created on first use.
func NewManager(cat *catalog.Catalog, opts Options) *Manager {
	return &Manager{
		cat:           cat,
		rollbackStore: opts.RollbackStore,
		backupDir:     opts.BackupDir,
		verify:        opts.VerifyOperations,
		dryRun:        opts.DryRun,
	}
}

// Begin creates a new Transaction in the created state, journaled to the Catalog.
func (m *Manager) Begin(sessionID string) (*Transaction, error) {
	id := uuid.NewString()
	if err := m.cat.RecordTransaction(id, sessionID); err != nil {
		return nil, err
	}
	return &Transaction{
		id:            id,
		sessionID:     sessionID,
		state:         catalog.TxCreated,
		cat:           m.cat,
		rollbackStore: m.rollbackStore,
		backupDir:     m.backupDir,
		verify:        m.verify,
		dryRun:        m.dryRun,
	}, nil
}

// AddOperation is legal only while the Transaction is in the created state.
func (t *Transaction) AddOperation(plan OperationPlan) error {
	if t.state != catalog.TxCreated {
		return fmt.Errorf("txn: add_operation illegal in state %s", t.state)
	}
	var target *string
	if plan.TargetPath != "" {
		target = &plan.TargetPath
	}
	id, err := t.cat.RecordOperation(catalog.OperationInput{
		TransactionID: t.id,
		Kind:          plan.Kind,
		SourcePath:    plan.SourcePath,
		TargetPath:    target,
	})
	if err != nil {
		return err
	}
	t.ops = append(t.ops, &operationState{id: id, plan: plan})
	return nil
}

// Prepare validates every queued Operation and materializes backups for
// copy/move/delete/rename. No destructive action is taken yet.
func (t *Transaction) Prepare() error {
	if t.state != catalog.TxCreated {
		return fmt.Errorf("txn: prepare illegal in state %s", t.state)
	}

	seenTargets := make(map[string]bool)
	var mutatedPaths []string
	for _, op := range t.ops {
		switch op.plan.Kind {
		case KindCopy, KindMove, KindDelete, KindRename:
			if _, err := os.Stat(op.plan.SourcePath); err != nil {
				return xerrors.New(err).Component("txn").Category(xerrors.CategoryFileIO).
					Context("operation", op.id).Build()
			}
			mutatedPaths = append(mutatedPaths, op.plan.SourcePath)
		}
		if op.plan.TargetPath != "" {
			if seenTargets[op.plan.TargetPath] {
				return fmt.Errorf("txn: conflicting target path within batch: %s", op.plan.TargetPath)
			}
			seenTargets[op.plan.TargetPath] = true
			if err := os.MkdirAll(filepath.Dir(op.plan.TargetPath), 0o755); err != nil {
				return err
			}
		}
	}

	if err := t.captureRollbackPoint(mutatedPaths); err != nil {
		return err
	}

	for _, op := range t.ops {
		switch op.plan.Kind {
		case KindCopy, KindMove, KindDelete, KindRename:
			backupPath, err := t.materializeBackup(op.plan.SourcePath)
			if err != nil {
				return err
			}
			op.backupPath = backupPath
		}

		if err := t.cat.UpdateOperationStatus(op.id, catalog.OpPrepared); err != nil {
			return err
		}
	}

	t.state = catalog.TxPrepared
	return t.cat.UpdateTransactionState(t.id, t.state)
}

// captureRollbackPoint snapshots checksums and directory structure for every
// path the Transaction is about to mutate, before any destructive action
// runs, and journals it to the Catalog so CheckpointManager.Recover can
// verify it if the process dies mid-commit.
func (t *Transaction) captureRollbackPoint(paths []string) error {
	if t.rollbackStore == nil || len(paths) == 0 {
		return nil
	}
	point, err := t.rollbackStore.Capture(rollback.ScopeTransaction, t.id, paths)
	if err != nil {
		return err
	}
	checksums, err := json.Marshal(point.Checksums)
	if err != nil {
		return err
	}
	structure, err := json.Marshal(point.Structure)
	if err != nil {
		return err
	}
	return t.cat.RecordRollbackPoint(catalog.RollbackPointInput{
		ID:              point.ID,
		Scope:           catalog.ScopeTransaction,
		ReferenceID:     t.id,
		ChecksumMapJSON: string(checksums),
		StructureJSON:   string(structure),
		SizeBytes:       point.SizeBytes,
	})
}

func (t *Transaction) materializeBackup(sourcePath string) (string, error) {
	if t.backupDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(t.backupDir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(sourcePath)
	stem := filepath.Base(sourcePath[:len(sourcePath)-len(ext)])
	backupPath := filepath.Join(t.backupDir, fmt.Sprintf("%s_%d%s", stem, time.Now().UnixNano(), ext))

	if err := copyFile(sourcePath, backupPath); err != nil {
		return "", err
	}
	return backupPath, nil
}

// Commit executes every prepared Operation in submission order. On failure
// it rolls back already-executed Operations in reverse order using their
// backups, ending the Transaction in rolled_back (or aborted on a secondary
// failure during that rollback).
func (t *Transaction) Commit() error {
	if t.state != catalog.TxPrepared {
		return fmt.Errorf("txn: commit illegal in state %s", t.state)
	}
	log := logging.ForComponent("txn")

	for _, op := range t.ops {
		if t.dryRun {
			op.executed = true
			continue
		}
		if err := t.execute(op); err != nil {
			log.Error("operation failed, rolling back transaction", "tx", t.id, "op", op.id, "error", err)
			if rerr := t.rollback(); rerr != nil {
				t.state = catalog.TxAborted
				_ = t.cat.UpdateTransactionState(t.id, t.state)
				return fmt.Errorf("commit failed (%w) and rollback failed (%v): manual reconciliation required", err, rerr)
			}
			t.state = catalog.TxRolledBack
			_ = t.cat.UpdateTransactionState(t.id, t.state)
			return err
		}
		op.executed = true
		if err := t.cat.UpdateOperationStatus(op.id, catalog.OpCommitted); err != nil {
			return err
		}
	}

	t.state = catalog.TxCommitted
	return t.cat.UpdateTransactionState(t.id, t.state)
}

func (t *Transaction) execute(op *operationState) error {
	switch op.plan.Kind {
	case KindCopy:
		return t.executeCopy(op)
	case KindMove:
		return t.executeMove(op)
	case KindDelete:
		return os.Remove(op.plan.SourcePath)
	case KindRename:
		return os.Rename(op.plan.SourcePath, op.plan.TargetPath)
	case KindMkdir:
		return os.MkdirAll(op.plan.SourcePath, 0o755)
	case KindRmdir:
		entries, err := os.ReadDir(op.plan.SourcePath)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return fmt.Errorf("txn: refusing to remove non-empty directory %s", op.plan.SourcePath)
		}
		return os.Remove(op.plan.SourcePath)
	default:
		return fmt.Errorf("txn: unknown operation kind %s", op.plan.Kind)
	}
}

func (t *Transaction) executeCopy(op *operationState) error {
	if err := copyFile(op.plan.SourcePath, op.plan.TargetPath); err != nil {
		return err
	}
	if t.verify {
		return verifySizeEqual(op.plan.SourcePath, op.plan.TargetPath)
	}
	return nil
}

func (t *Transaction) executeMove(op *operationState) error {
	if sameFilesystem(op.plan.SourcePath, op.plan.TargetPath) {
		if err := os.Rename(op.plan.SourcePath, op.plan.TargetPath); err == nil {
			return nil
		}
	}
	if err := copyFile(op.plan.SourcePath, op.plan.TargetPath); err != nil {
		return err
	}
	if t.verify {
		if err := verifySizeEqual(op.plan.SourcePath, op.plan.TargetPath); err != nil {
			return err
		}
	}
	return os.Remove(op.plan.SourcePath)
}

// rollback restores every executed operation in reverse order from its backup.
func (t *Transaction) rollback() error {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if !op.executed {
			continue
		}
		if op.backupPath == "" {
			continue
		}
		switch op.plan.Kind {
		case KindCopy:
			_ = os.Remove(op.plan.TargetPath)
		case KindMove, KindRename:
			if err := restoreFromBackup(op.backupPath, op.plan.SourcePath); err != nil {
				return err
			}
			if op.plan.TargetPath != "" {
				_ = os.Remove(op.plan.TargetPath)
			}
		case KindDelete:
			if err := restoreFromBackup(op.backupPath, op.plan.SourcePath); err != nil {
				return err
			}
		}
		if err := t.cat.UpdateOperationStatus(op.id, catalog.OpRolledBack); err != nil {
			return err
		}
	}
	return nil
}

// Abort transitions every queued Operation to aborted without executing anything.
func (t *Transaction) Abort() error {
	for _, op := range t.ops {
		if op.executed {
			continue
		}
		if err := t.cat.UpdateOperationStatus(op.id, catalog.OpAborted); err != nil {
			return err
		}
	}
	t.state = catalog.TxAborted
	return t.cat.UpdateTransactionState(t.id, t.state)
}

// ID returns the Transaction's identifier.
func (t *Transaction) ID() string { return t.id }

// State returns the Transaction's current state.
func (t *Transaction) State() catalog.TransactionState { return t.state }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return atomicfile.WriteFile(dst, in)
}

func restoreFromBackup(backupPath, destPath string) error {
	in, err := os.Open(backupPath)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return atomicfile.WriteFile(destPath, in)
}

func verifySizeEqual(a, b string) error {
	ai, err := os.Stat(a)
	if err != nil {
		return err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return err
	}
	if ai.Size() != bi.Size() {
		return errors.New("txn: verification failed: size mismatch after copy")
	}
	if ai.Size() > 2*1024*1024 {
		return verifyEdgeChunks(a, b)
	}
	return nil
}

// verifyEdgeChunks compares the first and last 1 MiB of two files, the
// cheaper verification spec.md §4.8 allows for large files.
func verifyEdgeChunks(a, b string) error {
	const edge = 1024 * 1024
	af, err := os.Open(a)
	if err != nil {
		return err
	}
	defer af.Close()
	bf, err := os.Open(b)
	if err != nil {
		return err
	}
	defer bf.Close()

	aHead := make([]byte, edge)
	bHead := make([]byte, edge)
	if _, err := io.ReadFull(af, aHead); err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	if _, err := io.ReadFull(bf, bHead); err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	if string(aHead) != string(bHead) {
		return errors.New("txn: verification failed: leading chunk mismatch")
	}

	info, err := af.Stat()
	if err != nil {
		return err
	}
	if info.Size() > edge {
		if _, err := af.Seek(-edge, io.SeekEnd); err != nil {
			return err
		}
		if _, err := bf.Seek(-edge, io.SeekEnd); err != nil {
			return err
		}
		aTail := make([]byte, edge)
		bTail := make([]byte, edge)
		if _, err := io.ReadFull(af, aTail); err != nil {
			return err
		}
		if _, err := io.ReadFull(bf, bTail); err != nil {
			return err
		}
		if string(aTail) != string(bTail) {
			return errors.New("txn: verification failed: trailing chunk mismatch")
		}
	}
	return nil
}
