package catalog

import "time"

// RollbackPointInput is the caller-supplied payload for RecordRollbackPoint.
type RollbackPointInput struct {
	ID              string
	Scope           RollbackScope
	ReferenceID     string
	ChecksumMapJSON string
	StructureJSON   string
	SizeBytes       int64
}

// RecordRollbackPoint persists a RollbackPoint snapshot taken before a
// Transaction mutates the filesystem, so recovery can later verify it.
func (c *Catalog) RecordRollbackPoint(in RollbackPointInput) error {
	row := RollbackPointRow{
		ID:              in.ID,
		Scope:           in.Scope,
		ReferenceID:     in.ReferenceID,
		ChecksumMapJSON: in.ChecksumMapJSON,
		StructureJSON:   in.StructureJSON,
		SizeBytes:       in.SizeBytes,
		CreatedAt:       time.Now(),
	}
	if err := c.db.Create(&row).Error; err != nil {
		return newError(KindIo, "record_rollback_point", err)
	}
	return nil
}

// RollbackPointsForReference returns every RollbackPoint captured against a
// given operation/transaction/session id, in creation order.
func (c *Catalog) RollbackPointsForReference(referenceID string) ([]RollbackPointRow, error) {
	var rows []RollbackPointRow
	err := c.db.Where("reference_id = ?", referenceID).Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, newError(KindIo, "rollback_points_for_reference", err)
	}
	return rows, nil
}
