package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/musiccleanup/internal/catalog"
	"github.com/tphakala/musiccleanup/internal/checkpoint"
	"github.com/tphakala/musiccleanup/internal/config"
	"github.com/tphakala/musiccleanup/internal/corruption"
	"github.com/tphakala/musiccleanup/internal/duplicate"
	"github.com/tphakala/musiccleanup/internal/fingerprint"
	"github.com/tphakala/musiccleanup/internal/logging"
	"github.com/tphakala/musiccleanup/internal/metadata"
	"github.com/tphakala/musiccleanup/internal/organizer"
	"github.com/tphakala/musiccleanup/internal/pipeline"
	"github.com/tphakala/musiccleanup/internal/quality"
	"github.com/tphakala/musiccleanup/internal/txn"
	"github.com/tphakala/musiccleanup/internal/xerrors"
)

// Summary reports the outcome of one Run.
type Summary struct {
	FilesDiscovered  int
	FilesAnalyzed    int
	FilesFailed      int
	DuplicateGroups  int
	QuarantinedFiles int
}

// fileResult is the in-memory projection of one analyzed File, enough to
// drive corruption partitioning and duplicate resolution without re-querying
// the Catalog.
type fileResult struct {
	FileID    uint
	Path      string
	Status    quality.Status
	Score     int
	Format    string
	Bitrate   int
	Size      int64
	Bitstring string
}

// Run executes one full pass: recovery, discovery, analysis, quarantine,
// duplicate resolution, and transactional reorganization. Discovery, analysis
// and quarantine decisions stream through a bounded channel rather than
// materializing the whole library in memory, per spec.md §1/§4.11's
// memory-bounded-over-libraries-larger-than-RAM requirement.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	log := logging.ForComponent("app")

	state, _, actions, err := s.checkpointMgr.Recover()
	if err != nil {
		return Summary{}, err
	}
	if state != checkpoint.RecoveryClean {
		for _, a := range actions {
			log.Info("recovery action", "description", a.Description, "succeeded", a.Succeeded)
		}
	}

	stop := s.checkpointMgr.WatchSignals(nil)
	defer stop()

	memCtx, stopMem := context.WithCancel(ctx)
	defer stopMem()
	go s.memMonitor.Run(memCtx)

	tx, err := s.txnMgr.Begin(s.sessionID)
	if err != nil {
		return Summary{}, err
	}

	var (
		discovered  atomic.Int64
		quarantined atomic.Int64
		txMu        sync.Mutex
	)

	itemCh := make(chan pipeline.Item, s.settings.BatchSize)
	walkDone := make(chan error, 1)
	go func() {
		defer close(itemCh)
		walkDone <- s.discoverer.Walk(ctx, func(path string, info os.FileInfo) error {
			discovered.Add(1)
			select {
			case itemCh <- pipeline.Item{Path: path, Data: info}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	stage := pipeline.Stage{
		Name:    "analyze",
		Workers: s.settings.MaxWorkers,
		Process: func(ctx context.Context, item pipeline.Item) error {
			info, _ := item.Data.(os.FileInfo)
			res, err := s.analyzeFile(ctx, item.Path, info)
			if err != nil {
				return err
			}
			if !s.corrFilter.IsHealthy(corruption.AnalyzedFile{
				FileID:          res.FileID,
				Path:            res.Path,
				IntegrityStatus: mapIntegrity(res.Status),
			}) {
				target := filepath.Join(s.settings.WorkspaceDir, "rejected", "corrupted", filepath.Base(res.Path))
				txMu.Lock()
				opErr := tx.AddOperation(txn.OperationPlan{Kind: txn.KindMove, SourcePath: res.Path, TargetPath: target})
				txMu.Unlock()
				if opErr != nil {
					return opErr
				}
				quarantined.Add(1)
			}
			return nil
		},
	}
	batch := s.executor.Run(ctx, stage, itemCh)

	if err := <-walkDone; err != nil {
		_ = tx.Abort()
		return Summary{}, err
	}

	if err := s.cat.UpdateProgress(s.sessionID, "analyze", catalog.ProgressCounters{
		FilesTotal:     discovered.Load(),
		FilesProcessed: int64(batch.Succeeded + batch.Failed),
		FilesSucceeded: int64(batch.Succeeded),
		FilesFailed:    int64(batch.Failed),
	}); err != nil {
		log.Warn("progress update failed", "error", err)
	}

	groupCount := 0
	err = s.cat.FindFingerprintDuplicates(func(group catalog.DuplicateGroup) error {
		candidates := make([]duplicate.Candidate, 0, len(group.Files))
		bitrate := 0
		if group.Fingerprint.Bitrate != nil {
			bitrate = *group.Fingerprint.Bitrate
		}
		for _, f := range group.Files {
			if !s.corrFilter.IsHealthy(corruption.AnalyzedFile{
				FileID:          f.ID,
				Path:            f.Path,
				IntegrityStatus: f.IntegrityStatus,
			}) {
				continue
			}
			format := ""
			if f.QualityReport != nil {
				format = f.QualityReport.DetectedFormat
			}
			candidates = append(candidates, duplicate.Candidate{
				FileID:       f.ID,
				Path:         f.Path,
				QualityScore: f.QualityScore,
				Format:       format,
				Bitrate:      bitrate,
				SizeBytes:    f.Size,
			})
		}
		if len(candidates) < 2 {
			return nil
		}
		groupCount++
		resolutions := duplicate.Resolve(candidates)
		txMu.Lock()
		defer txMu.Unlock()
		return s.applyResolutions(tx, group, resolutions)
	})
	if err != nil {
		_ = tx.Abort()
		return Summary{}, err
	}

	if err := tx.Prepare(); err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, err
	}

	if err := s.checkpointMgr.Checkpoint(catalog.CheckpointShutdown, s.sessionID, 0, 0); err != nil {
		log.Warn("final checkpoint failed", "error", err)
	}

	return Summary{
		FilesDiscovered:  int(discovered.Load()),
		FilesAnalyzed:    batch.Succeeded,
		FilesFailed:      batch.Failed,
		DuplicateGroups:  groupCount,
		QuarantinedFiles: int(quarantined.Load()),
	}, nil
}

// applyResolutions records the DuplicateGroup in the Catalog and, unless the
// configured DuplicateAction is report_only, queues reject members for
// move/delete and the canonical member for its organized destination.
func (s *Session) applyResolutions(tx *txn.Transaction, group catalog.DuplicateGroup, resolutions []duplicate.Resolution) error {
	members := make([]catalog.DuplicateMemberInput, 0, len(resolutions))
	var canonicalID uint
	for _, r := range resolutions {
		role := catalog.RoleReject
		if r.Role == duplicate.RoleCanonical {
			role = catalog.RoleCanonical
			canonicalID = r.Candidate.FileID
		}
		members = append(members, catalog.DuplicateMemberInput{
			FileID: r.Candidate.FileID,
			Role:   role,
		})
	}

	if _, err := s.cat.RecordDuplicateGroup(catalog.DuplicateGroupInput{
		GroupHash:       group.Fingerprint.Bitstring,
		DetectionMethod: string(group.Fingerprint.Algorithm),
		CanonicalFileID: canonicalID,
		Members:         members,
	}); err != nil {
		return err
	}

	if s.settings.DuplicateAction == config.DuplicateActionReportOnly {
		return nil
	}

	for _, r := range resolutions {
		if r.Role == duplicate.RoleCanonical {
			target := s.organizedDestination(r.Candidate)
			if target == "" || target == r.Candidate.Path {
				continue
			}
			if err := tx.AddOperation(txn.OperationPlan{Kind: txn.KindMove, SourcePath: r.Candidate.Path, TargetPath: target}); err != nil {
				return err
			}
			continue
		}
		switch s.settings.DuplicateAction {
		case config.DuplicateActionDelete:
			if err := tx.AddOperation(txn.OperationPlan{Kind: txn.KindDelete, SourcePath: r.Candidate.Path}); err != nil {
				return err
			}
		case config.DuplicateActionMove:
			target := filepath.Join(s.settings.WorkspaceDir, "duplicates", filepath.Base(r.Candidate.Path))
			if err := tx.AddOperation(txn.OperationPlan{Kind: txn.KindMove, SourcePath: r.Candidate.Path, TargetPath: target}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) organizedDestination(c duplicate.Candidate) string {
	tags, err := s.enricher.Enrich(context.Background(), c.Path, "")
	if err != nil {
		tags = metadata.Tags{}
	}
	relDir := organizer.Plan(organizer.Metadata{
		Genre:  tags.Genre,
		Artist: tags.Artist,
		Title:  tags.Title,
		Year:   tags.Year,
	}, organizer.Options{Template: s.settings.StructureTemplate})
	return filepath.Join(s.settings.OutputRoot, relDir+filepath.Ext(c.Path))
}

// analyzeFile fingerprints and grades one file, persisting both results to
// the Catalog, and classifies any failure for the PipelineExecutor's retry
// policy.
func (s *Session) analyzeFile(ctx context.Context, path string, info os.FileInfo) (fileResult, error) {
	fp, err := s.fingerprinter.Fingerprint(ctx, path)
	if err != nil {
		return fileResult{}, classifyFingerprintErr(err)
	}

	bitrate := 0
	if fp.Bitrate != nil {
		bitrate = *fp.Bitrate
	}
	var size int64
	var modTime time.Time
	if info != nil {
		size = info.Size()
		modTime = info.ModTime()
	}

	report, err := s.qualityA.Analyze(path, quality.Options{
		MinHealthScore:  s.settings.MinHealthScore,
		LargeFileBytes:  largeFileThreshold,
		SampledSeconds:  30,
		Bitrate:         bitrate,
		SampleRate:      fp.SampleRate,
		Channels:        fp.Channels,
		DurationSeconds: fp.Duration,
		FileSizeBytes:   size,
	})
	if err != nil {
		return fileResult{}, xerrors.New(err).Component("app").Category(xerrors.CategoryFileIO).
			Severity(xerrors.SeverityPermanent).Build()
	}

	algo := catalog.AlgorithmFallback
	if fp.Algorithm == "primary" {
		algo = catalog.AlgorithmPrimary
	}
	fpID, err := s.cat.UpsertFingerprint(catalog.FingerprintInput{
		Algorithm:  algo,
		Bitstring:  fp.Bitstring,
		Duration:   fp.Duration,
		SampleRate: fp.SampleRate,
		Channels:   fp.Channels,
		Bitrate:    fp.Bitrate,
	})
	if err != nil {
		return fileResult{}, err
	}

	fileID, err := s.cat.StoreFile(catalog.FileInput{
		Path:          path,
		Size:          size,
		ModTime:       modTime,
		FingerprintID: &fpID,
	})
	if err != nil {
		return fileResult{}, err
	}

	if _, err := s.cat.StoreQualityReport(catalog.QualityReportInput{
		FileID:         fileID,
		HealthScore:    report.HealthScore,
		Defects:        defectStrings(report.Defects),
		EntropyMean:    report.EntropyMean,
		EntropyStdDev:  report.EntropyStdDev,
		DetectedFormat: report.DetectedFormat,
		HeaderFlags:    report.HeaderFlags,
	}, mapIntegrity(report.Status)); err != nil {
		return fileResult{}, err
	}

	return fileResult{
		FileID:    fileID,
		Path:      path,
		Status:    report.Status,
		Score:     report.HealthScore,
		Format:    report.DetectedFormat,
		Bitrate:   bitrate,
		Size:      size,
		Bitstring: fp.Bitstring,
	}, nil
}

// classifyFingerprintErr maps a fingerprint.Error's Kind onto the
// PipelineExecutor's retry/permanent split: I/O hiccups and timeouts are
// worth retrying, a consistently missing tool or unreadable audio is not.
func classifyFingerprintErr(err error) error {
	severity := xerrors.SeverityPermanent
	var fe *fingerprint.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fingerprint.KindTimeout, fingerprint.KindIo:
			severity = xerrors.SeverityTransient
		}
	}
	return xerrors.New(err).Component("app").Category(xerrors.CategoryExternalTool).Severity(severity).Build()
}
