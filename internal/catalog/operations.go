package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FingerprintInput is the caller-supplied payload for UpsertFingerprint.
type FingerprintInput struct {
	Algorithm  FingerprintAlgorithmTag
	Bitstring  string
	Duration   float64
	SampleRate int
	Channels   int
	Bitrate    *int
}

// UpsertFingerprint is idempotent on (algorithm, bitstring): a second call
// with the same pair only refreshes LastSeenAt and returns the existing id.
func (c *Catalog) UpsertFingerprint(fp FingerprintInput) (uint, error) {
	now := time.Now()
	var id uint

	err := c.db.Transaction(func(tx *gorm.DB) error {
		var existing FingerprintRow
		err := tx.Where("algorithm = ? AND bitstring = ?", fp.Algorithm, fp.Bitstring).
			First(&existing).Error
		switch {
		case err == nil:
			existing.LastSeenAt = now
			if err := tx.Model(&existing).Update("last_seen_at", now).Error; err != nil {
				return err
			}
			id = existing.ID
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := FingerprintRow{
				Algorithm:   fp.Algorithm,
				Bitstring:   fp.Bitstring,
				Duration:    fp.Duration,
				SampleRate:  fp.SampleRate,
				Channels:    fp.Channels,
				Bitrate:     fp.Bitrate,
				GeneratedAt: now,
				LastSeenAt:  now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return 0, newError(KindIo, "upsert_fingerprint", err)
	}
	return id, nil
}

// FileInput is the caller-supplied payload for StoreFile.
type FileInput struct {
	Path            string
	Size            int64
	ModTime         time.Time
	FingerprintID   *uint
	QualityReportID *uint
}

// StoreFile enforces path uniqueness: storing an existing path updates its
// mutable attributes in place rather than creating a duplicate row.
func (c *Catalog) StoreFile(in FileInput) (uint, error) {
	var id uint
	err := c.db.Transaction(func(tx *gorm.DB) error {
		if in.FingerprintID != nil {
			if err := tx.Model(&FingerprintRow{}).Where("id = ?", *in.FingerprintID).
				Update("last_seen_at", time.Now()).Error; err != nil {
				return err
			}
		}
		var existing FileRow
		err := tx.Where("path = ?", in.Path).First(&existing).Error
		switch {
		case err == nil:
			existing.Size = in.Size
			existing.ModTime = in.ModTime
			if in.FingerprintID != nil {
				existing.FingerprintID = in.FingerprintID
			}
			if in.QualityReportID != nil {
				existing.QualityReportID = in.QualityReportID
			}
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			id = existing.ID
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := FileRow{
				Path:            in.Path,
				Size:            in.Size,
				ModTime:         in.ModTime,
				IntegrityStatus: IntegrityHealthy,
				FingerprintID:   in.FingerprintID,
				QualityReportID: in.QualityReportID,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return 0, newError(KindConflict, "store_file", err)
	}
	return id, nil
}

// OperationInput is the caller-supplied payload for RecordOperation.
type OperationInput struct {
	TransactionID string
	Kind          OperationKind
	SourcePath    string
	TargetPath    *string
}

// RecordOperation inserts a new Operation row in the pending state.
func (c *Catalog) RecordOperation(in OperationInput) (string, error) {
	row := OperationRow{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TransactionID: in.TransactionID,
		Kind:          in.Kind,
		SourcePath:    in.SourcePath,
		TargetPath:    in.TargetPath,
		Status:        OpPending,
		CreatedAt:     time.Now(),
	}
	if err := c.db.Create(&row).Error; err != nil {
		return "", newError(KindIo, "record_operation", err)
	}
	return row.ID, nil
}

// legalOperationTransitions encodes the Operation state machine from spec.md §4.8.
var legalOperationTransitions = map[OperationStatus]map[OperationStatus]bool{
	OpPending:   {OpPrepared: true, OpAborted: true},
	OpPrepared:  {OpCommitted: true, OpAborted: true, OpRolledBack: true},
	OpCommitted: {OpRolledBack: true},
}

// UpdateOperationStatus applies a transition, rejecting any not permitted by
// the Operation state machine.
func (c *Catalog) UpdateOperationStatus(opID string, newStatus OperationStatus) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		var op OperationRow
		if err := tx.Where("id = ?", opID).First(&op).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, "update_operation_status", err)
			}
			return newError(KindIo, "update_operation_status", err)
		}

		allowed := legalOperationTransitions[op.Status]
		if !allowed[newStatus] {
			return newError(KindIntegrityViolation, "update_operation_status",
				&transitionError{from: op.Status, to: newStatus})
		}

		updates := map[string]any{"status": newStatus}
		now := time.Now()
		switch newStatus {
		case OpPrepared:
			updates["started_at"] = now
		case OpCommitted, OpRolledBack, OpAborted:
			updates["completed_at"] = now
		}
		return tx.Model(&op).Updates(updates).Error
	})
}

type transitionError struct {
	from OperationStatus
	to   OperationStatus
}

func (e *transitionError) Error() string {
	return "illegal operation transition from " + string(e.from) + " to " + string(e.to)
}

// DuplicateGroup is one streamed result of FindFingerprintDuplicates.
type DuplicateGroup struct {
	Fingerprint FingerprintRow
	Files       []FileRow
}

// findDuplicatesBatchSize bounds how many fingerprint groups are resolved
// per round trip so memory stays flat regardless of catalog size.
const findDuplicatesBatchSize = 200

// FindFingerprintDuplicates streams fingerprint groups that have two or more
// referring Files, processing fingerprint ids in batches so the whole result
// set is never materialized at once. fn is invoked once per group; a
// non-nil return from fn stops iteration and is propagated to the caller.
func (c *Catalog) FindFingerprintDuplicates(fn func(DuplicateGroup) error) error {
	var lastID uint
	for {
		var ids []uint
		err := c.db.Model(&FileRow{}).
			Select("fingerprint_id").
			Where("fingerprint_id IS NOT NULL AND fingerprint_id > ?", lastID).
			Group("fingerprint_id").
			Having("COUNT(*) >= ?", 2).
			Order("fingerprint_id").
			Limit(findDuplicatesBatchSize).
			Pluck("fingerprint_id", &ids).Error
		if err != nil {
			return newError(KindIo, "find_fingerprint_duplicates", err)
		}
		if len(ids) == 0 {
			return nil
		}

		for _, fpID := range ids {
			var fp FingerprintRow
			if err := c.db.First(&fp, fpID).Error; err != nil {
				return newError(KindIo, "find_fingerprint_duplicates", err)
			}
			var files []FileRow
			if err := c.db.Preload("QualityReport").Where("fingerprint_id = ?", fpID).Find(&files).Error; err != nil {
				return newError(KindIo, "find_fingerprint_duplicates", err)
			}
			if err := fn(DuplicateGroup{Fingerprint: fp, Files: files}); err != nil {
				return err
			}
		}
		lastID = ids[len(ids)-1]
	}
}

// ProgressCounters is the mutable counter set for a (session, stage) row.
type ProgressCounters struct {
	FilesTotal     int64
	FilesProcessed int64
	FilesSucceeded int64
	FilesFailed    int64
	BytesProcessed int64
}

// UpdateProgress upserts keyed by (session_id, stage).
func (c *Catalog) UpdateProgress(sessionID, stage string, counters ProgressCounters) error {
	now := time.Now()
	return c.db.Transaction(func(tx *gorm.DB) error {
		var row ProgressRow
		err := tx.Where("session_id = ? AND stage = ?", sessionID, stage).First(&row).Error
		switch {
		case err == nil:
			row.FilesTotal = counters.FilesTotal
			row.FilesProcessed = counters.FilesProcessed
			row.FilesSucceeded = counters.FilesSucceeded
			row.FilesFailed = counters.FilesFailed
			row.BytesProcessed = counters.BytesProcessed
			row.LastUpdate = now
			return tx.Save(&row).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = ProgressRow{
				SessionID:      sessionID,
				Stage:          stage,
				FilesTotal:     counters.FilesTotal,
				FilesProcessed: counters.FilesProcessed,
				FilesSucceeded: counters.FilesSucceeded,
				FilesFailed:    counters.FilesFailed,
				BytesProcessed: counters.BytesProcessed,
				StartTime:      now,
				LastUpdate:     now,
			}
			return tx.Create(&row).Error
		default:
			return err
		}
	})
}

// CleanupStaleFingerprints deletes fingerprints whose LastSeenAt exceeds
// maxAge and which no File currently references (invariant 4 in spec.md §3:
// a referenced fingerprint is never garbage-collected).
func (c *Catalog) CleanupStaleFingerprints(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	result := c.db.Where("last_seen_at < ? AND id NOT IN (SELECT fingerprint_id FROM file_rows WHERE fingerprint_id IS NOT NULL)", cutoff).
		Delete(&FingerprintRow{})
	if result.Error != nil {
		return 0, newError(KindIo, "cleanup_stale_fingerprints", result.Error)
	}
	return result.RowsAffected, nil
}
