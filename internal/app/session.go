// Package app wires every collaborator package into the end-to-end run
// described by spec.md §1-§5: discover candidate files, fingerprint and
// grade them, detect duplicates, and reorganize the library transactionally
// with checkpoint/rollback support, following the teacher's top-level
// DirectoryAnalysis orchestration style (internal/analysis/directory.go).
package app

import (
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/musiccleanup/internal/catalog"
	"github.com/tphakala/musiccleanup/internal/checkpoint"
	"github.com/tphakala/musiccleanup/internal/config"
	"github.com/tphakala/musiccleanup/internal/corruption"
	"github.com/tphakala/musiccleanup/internal/discover"
	"github.com/tphakala/musiccleanup/internal/fingerprint"
	"github.com/tphakala/musiccleanup/internal/metadata"
	"github.com/tphakala/musiccleanup/internal/pipeline"
	"github.com/tphakala/musiccleanup/internal/quality"
	"github.com/tphakala/musiccleanup/internal/resourceguard"
	"github.com/tphakala/musiccleanup/internal/rollback"
	"github.com/tphakala/musiccleanup/internal/txn"
)

// largeFileThreshold mirrors the QualityAnalyzer's definition of "large" for
// the purpose of bounding sampled-chunk work per spec.md §4.4.
const largeFileThreshold = 100 * 1024 * 1024

// Session holds every wired collaborator for one run of the cleanup pipeline.
type Session struct {
	settings  *config.Settings
	sessionID string

	cat           *catalog.Catalog
	discoverer    *discover.Discoverer
	fingerprinter *fingerprint.Fingerprinter
	qualityA      *quality.Analyzer
	corrFilter    *corruption.Filter
	enricher      metadata.Enricher
	txnMgr        *txn.Manager
	checkpointMgr *checkpoint.Manager
	rollbackStore *rollback.Store
	memMonitor    *resourceguard.MemoryMonitor
	executor      *pipeline.Executor
}

// New builds a Session from validated Settings. The catalog, rollback
// store, and backup directory all live under settings.WorkspaceDir.
func New(settings *config.Settings) (*Session, error) {
	cat, err := catalog.Open(catalog.Options{
		Path:  filepath.Join(settings.WorkspaceDir, "catalog.db"),
		Debug: settings.Debug,
	})
	if err != nil {
		return nil, err
	}

	rollbackStore, err := rollback.NewStore(filepath.Join(settings.WorkspaceDir, "rollback_points"))
	if err != nil {
		return nil, err
	}

	memMonitor := resourceguard.NewMemoryMonitor(settings.MemoryLimitMB, settings.HardMemoryLimitMB(), 5*time.Second)

	toolPath, _ := exec.LookPath("fpcalc")
	limiter := resourceguard.NewRateLimiter(1)
	fingerprinter := fingerprint.New(toolPath, settings.FingerprintClipLength(), limiter)

	discoverer := discover.New(discover.Options{
		SourceRoots:    settings.SourceRoots,
		ProtectedPaths: settings.ProtectedPaths,
		AudioFormats:   settings.AudioFormats,
	})

	corrFilter := corruption.New(corruption.Options{KeepSuspectInGrouping: settings.KeepSuspectInGrouping})

	txnMgr := txn.NewManager(cat, txn.Options{
		BackupDir:        filepath.Join(settings.WorkspaceDir, "backups"),
		VerifyOperations: settings.VerifyOperations,
		DryRun:           settings.DryRun,
		RollbackStore:    rollbackStore,
	})

	checkpointMgr := checkpoint.New(cat, rollbackStore, checkpoint.Options{
		SessionID:     uuid.NewString(),
		Interval:      settings.CheckpointInterval(),
		MemoryMonitor: memMonitor,
	})

	executor := pipeline.NewExecutor(settings.BatchSize, memMonitor)

	return &Session{
		settings:      settings,
		sessionID:     uuid.NewString(),
		cat:           cat,
		discoverer:    discoverer,
		fingerprinter: fingerprinter,
		qualityA:      quality.New(),
		corrFilter:    corrFilter,
		enricher:      metadata.NoopEnricher{},
		txnMgr:        txnMgr,
		checkpointMgr: checkpointMgr,
		rollbackStore: rollbackStore,
		memMonitor:    memMonitor,
		executor:      executor,
	}, nil
}

// Close releases the Session's durable collaborators.
func (s *Session) Close() error {
	return s.cat.Close()
}

func mapIntegrity(status quality.Status) catalog.IntegrityStatus {
	switch status {
	case quality.StatusSuspect:
		return catalog.IntegritySuspect
	case quality.StatusCorrupt:
		return catalog.IntegrityCorrupt
	default:
		return catalog.IntegrityHealthy
	}
}

func defectStrings(defects []quality.Defect) []string {
	out := make([]string, len(defects))
	for i, d := range defects {
		out[i] = string(d)
	}
	return out
}
