package catalog

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// QualityReportInput is the caller-supplied payload for StoreQualityReport.
type QualityReportInput struct {
	FileID         uint
	HealthScore    int
	Defects        []string
	EntropyMean    float64
	EntropyStdDev  float64
	DetectedFormat string
	HeaderFlags    []string
}

// StoreQualityReport upserts the 1:1 QualityReport owned by a File and
// updates the File's denormalized QualityScore/IntegrityStatus, keeping both
// in sync within a single transaction.
func (c *Catalog) StoreQualityReport(in QualityReportInput, integrity IntegrityStatus) (uint, error) {
	now := time.Now()
	var id uint

	err := c.db.Transaction(func(tx *gorm.DB) error {
		var existing QualityReportRow
		err := tx.Where("file_id = ?", in.FileID).First(&existing).Error
		switch {
		case err == nil:
			existing.HealthScore = in.HealthScore
			existing.DefectTags = strings.Join(in.Defects, ",")
			existing.EntropyMean = in.EntropyMean
			existing.EntropyStdDev = in.EntropyStdDev
			existing.DetectedFormat = in.DetectedFormat
			existing.HeaderFlags = strings.Join(in.HeaderFlags, ",")
			existing.UpdatedAt = now
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			id = existing.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := QualityReportRow{
				FileID:         in.FileID,
				HealthScore:    in.HealthScore,
				DefectTags:     strings.Join(in.Defects, ","),
				EntropyMean:    in.EntropyMean,
				EntropyStdDev:  in.EntropyStdDev,
				DetectedFormat: in.DetectedFormat,
				HeaderFlags:    strings.Join(in.HeaderFlags, ","),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
		default:
			return err
		}

		return tx.Model(&FileRow{}).Where("id = ?", in.FileID).
			Updates(map[string]any{
				"quality_report_id": id,
				"quality_score":     in.HealthScore,
				"integrity_status":  integrity,
			}).Error
	})
	if err != nil {
		return 0, newError(KindIo, "store_quality_report", err)
	}
	return id, nil
}

// DuplicateMemberInput assigns a Role to a File within a DuplicateGroup.
type DuplicateMemberInput struct {
	FileID     uint
	Role       DuplicateRole
	Similarity float64
}

// DuplicateGroupInput is the caller-supplied payload for RecordDuplicateGroup.
type DuplicateGroupInput struct {
	GroupHash       string
	DetectionMethod string
	CanonicalFileID uint
	Members         []DuplicateMemberInput
}

// RecordDuplicateGroup upserts a DuplicateGroup by GroupHash, replacing its
// member set so re-running duplicate detection is idempotent.
func (c *Catalog) RecordDuplicateGroup(in DuplicateGroupInput) (uint, error) {
	var id uint
	err := c.db.Transaction(func(tx *gorm.DB) error {
		var existing DuplicateGroupRow
		err := tx.Where("group_hash = ?", in.GroupHash).First(&existing).Error
		switch {
		case err == nil:
			existing.DetectionMethod = in.DetectionMethod
			existing.CanonicalFileID = in.CanonicalFileID
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			id = existing.ID
			if err := tx.Where("group_id = ?", id).Delete(&DuplicateMemberRow{}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := DuplicateGroupRow{
				GroupHash:       in.GroupHash,
				DetectionMethod: in.DetectionMethod,
				CanonicalFileID: in.CanonicalFileID,
				CreatedAt:       time.Now(),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
		default:
			return err
		}

		for _, m := range in.Members {
			member := DuplicateMemberRow{
				GroupID:    id,
				FileID:     m.FileID,
				Role:       m.Role,
				Similarity: m.Similarity,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, newError(KindIo, "record_duplicate_group", err)
	}
	return id, nil
}
