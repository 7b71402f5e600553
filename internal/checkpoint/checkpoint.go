// Package checkpoint implements the CheckpointManager of spec.md §4.10:
// periodic and event-driven snapshots of pipeline state, plus the startup
// recovery procedure that detects an interrupted prior run and drives it
// back to a consistent state before new work begins.
package checkpoint

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/musiccleanup/internal/catalog"
	"github.com/tphakala/musiccleanup/internal/logging"
	"github.com/tphakala/musiccleanup/internal/resourceguard"
	"github.com/tphakala/musiccleanup/internal/rollback"
)

// RecoveryState is the closed set of outcomes from the startup procedure.
type RecoveryState string

const (
	RecoveryClean       RecoveryState = "clean"
	RecoveryInterrupted RecoveryState = "interrupted"
	RecoveryRecovered   RecoveryState = "recovered"
	RecoveryCorrupted   RecoveryState = "corrupted"
)

// RecoveryAction is one step of a RecoveryPlan, recorded with its outcome.
type RecoveryAction struct {
	Description string
	Succeeded   bool
	Err         error
}

// PendingTransaction is one Transaction the recovery plan must resolve.
type PendingTransaction struct {
	ID    string
	State catalog.TransactionState
}

// RecoveryPlan is an explicit, inspectable plan built from the startup scan,
// kept separate from its execution per spec.md §12.
type RecoveryPlan struct {
	PendingTransactions    []PendingTransaction // resolved in reverse submission order
	RollbackPointIDs       []string             // to verify
	ResumeOperationGroupID string               // from the last healthy checkpoint
}

// Manager creates Checkpoints and runs startup recovery.
type Manager struct {
	cat           *catalog.Catalog
	rollbackStore *rollback.Store
	sessionID     string
	interval      time.Duration
	memMonitor    *resourceguard.MemoryMonitor
}

// Options configures a Manager.
type Options struct {
	SessionID      string
	Interval       time.Duration // default 5 min
	MemoryMonitor  *resourceguard.MemoryMonitor
}

// New builds a Manager.
func New(cat *catalog.Catalog, rollbackStore *rollback.Store, opts Options) *Manager {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Manager{
		cat:           cat,
		rollbackStore: rollbackStore,
		sessionID:     opts.SessionID,
		interval:      interval,
		memMonitor:    opts.MemoryMonitor,
	}
}

// Checkpoint captures a snapshot of kind, tagged with the current
// operation-group id and active counts.
func (m *Manager) Checkpoint(kind catalog.CheckpointKind, operationGroupID string, activeTx, activeOps int) error {
	var rss uint64
	if m.memMonitor != nil {
		rss = m.memMonitor.RSSBytes()
	}
	return m.cat.RecordCheckpoint(catalog.CheckpointInput{
		ID:               uuid.NewString(),
		Kind:             kind,
		SessionID:        m.sessionID,
		OperationGroupID: operationGroupID,
		ActiveTxCount:    activeTx,
		ActiveOpCount:    activeOps,
		MemoryRSSBytes:   rss,
		ProcessID:        os.Getpid(),
	})
}

// RunPeriodic emits a manual-kind checkpoint on the configured interval
// until ctx is cancelled.
func (m *Manager) RunPeriodic(ctx context.Context, operationGroupID func() string, activeCounts func() (int, int)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	log := logging.ForComponent("checkpoint")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tx, ops := activeCounts()
			if err := m.Checkpoint(catalog.CheckpointManual, operationGroupID(), tx, ops); err != nil {
				log.Warn("periodic checkpoint failed", "error", err)
			}
		}
	}
}

// WatchSignals installs a handler for SIGINT/SIGTERM that takes an
// emergency error-kind checkpoint, rolls back any prepared Transactions,
// then exits the process. It returns a stop function to cancel watching.
func (m *Manager) WatchSignals(rollbackPrepared func() error) (stop func()) {
	log := logging.ForComponent("checkpoint")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			log.Warn("received shutdown signal, taking emergency checkpoint", "signal", sig)
			if err := m.Checkpoint(catalog.CheckpointError, "", 0, 0); err != nil {
				log.Error("emergency checkpoint failed", "error", err)
			}
			if rollbackPrepared != nil {
				if err := rollbackPrepared(); err != nil {
					log.Error("emergency rollback failed", "error", err)
				}
			}
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// Recover runs the startup procedure from spec.md §4.10: scan for
// Transactions not in a terminal state, gather the RollbackPoints recorded
// against those Transactions, build a RecoveryPlan, execute it, and report
// the resulting RecoveryState. With no non-terminal Transaction it returns
// RecoveryClean at once; RollbackPoints not tied to a non-terminal
// Transaction are not examined, whatever their age.
func (m *Manager) Recover() (RecoveryState, *RecoveryPlan, []RecoveryAction, error) {
	nonTerminal, err := m.cat.NonTerminalTransactions()
	if err != nil {
		return RecoveryCorrupted, nil, nil, err
	}
	if len(nonTerminal) == 0 {
		return RecoveryClean, nil, nil, nil
	}

	lastShutdown, err := m.cat.LatestCheckpointOfKind(catalog.CheckpointShutdown)
	if err != nil {
		return RecoveryCorrupted, nil, nil, err
	}

	since := time.Time{}
	if lastShutdown != nil {
		since = lastShutdown.CreatedAt
	}

	var pending []PendingTransaction
	var rollbackPointIDs []string
	for i := len(nonTerminal) - 1; i >= 0; i-- {
		pending = append(pending, PendingTransaction{ID: nonTerminal[i].ID, State: nonTerminal[i].State})
		points, perr := m.cat.RollbackPointsForReference(nonTerminal[i].ID)
		if perr != nil {
			continue
		}
		for _, p := range points {
			rollbackPointIDs = append(rollbackPointIDs, p.ID)
		}
	}

	resumeGroup := ""
	recentCheckpoints, err := m.cat.CheckpointsSince(since)
	if err == nil {
		for i := len(recentCheckpoints) - 1; i >= 0; i-- {
			if recentCheckpoints[i].Kind != catalog.CheckpointError {
				resumeGroup = recentCheckpoints[i].OperationGroupID
				break
			}
		}
	}

	plan := &RecoveryPlan{
		PendingTransactions:    pending,
		RollbackPointIDs:       rollbackPointIDs,
		ResumeOperationGroupID: resumeGroup,
	}

	actions := m.execute(plan)
	actions = append(actions, m.verifyRollbackPoints(plan.RollbackPointIDs)...)
	state := RecoveryRecovered
	for _, a := range actions {
		if !a.Succeeded {
			state = RecoveryCorrupted
			break
		}
	}
	return state, plan, actions, nil
}

// verifyRollbackPoints re-verifies each RollbackPoint named in the plan
// against the filesystem as it stands now, reporting a failed RecoveryAction
// for any point whose files don't fully check out.
func (m *Manager) verifyRollbackPoints(ids []string) []RecoveryAction {
	if m.rollbackStore == nil {
		return nil
	}
	var actions []RecoveryAction
	for _, id := range ids {
		point, err := m.rollbackStore.Load(id)
		if err != nil {
			actions = append(actions, RecoveryAction{
				Description: "verify rollback point " + id,
				Succeeded:   false,
				Err:         err,
			})
			continue
		}
		result := m.rollbackStore.VerifyPoint(point)
		actions = append(actions, RecoveryAction{
			Description: "verify rollback point " + id,
			Succeeded:   result.IntegrityScore == 1.0 || len(point.Checksums) == 0,
		})
	}
	return actions
}

func (m *Manager) execute(plan *RecoveryPlan) []RecoveryAction {
	var actions []RecoveryAction
	for _, pending := range plan.PendingTransactions {
		target := catalog.TxAborted
		if pending.State == catalog.TxPrepared {
			target = catalog.TxRolledBack
		}
		err := m.cat.UpdateTransactionState(pending.ID, target)
		actions = append(actions, RecoveryAction{
			Description: "resolve transaction " + pending.ID + " to " + string(target),
			Succeeded:   err == nil,
			Err:         err,
		})
	}
	return actions
}
