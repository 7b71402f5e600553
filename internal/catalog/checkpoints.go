package catalog

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// CheckpointInput is the caller-supplied payload for RecordCheckpoint.
type CheckpointInput struct {
	ID               string
	Kind             CheckpointKind
	SessionID        string
	OperationGroupID string
	ActiveTxCount    int
	ActiveOpCount    int
	MemoryRSSBytes   uint64
	DiskFreeBytes    uint64
	ProcessID        int
}

// RecordCheckpoint persists a Checkpoint snapshot. Per spec.md §5 invariant
// 3, callers are expected to take the snapshot inside a Catalog read so the
// recorded state is consistent with the view at capture time; this method
// itself runs in a single transaction to make the insert atomic.
func (c *Catalog) RecordCheckpoint(in CheckpointInput) error {
	row := CheckpointRow{
		ID:               in.ID,
		Kind:             in.Kind,
		SessionID:        in.SessionID,
		OperationGroupID: in.OperationGroupID,
		ActiveTxCount:    in.ActiveTxCount,
		ActiveOpCount:    in.ActiveOpCount,
		MemoryRSSBytes:   in.MemoryRSSBytes,
		DiskFreeBytes:    in.DiskFreeBytes,
		ProcessID:        in.ProcessID,
		CreatedAt:        time.Now(),
	}
	if err := c.db.Create(&row).Error; err != nil {
		return newError(KindIo, "record_checkpoint", err)
	}
	return nil
}

// LatestCheckpointOfKind returns the most recent Checkpoint of the given
// kind, or (nil, nil) if none exists yet.
func (c *Catalog) LatestCheckpointOfKind(kind CheckpointKind) (*CheckpointRow, error) {
	var row CheckpointRow
	err := c.db.Where("kind = ?", kind).Order("created_at desc").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, newError(KindIo, "latest_checkpoint_of_kind", err)
	}
	return &row, nil
}

// CheckpointsSince returns every Checkpoint created after t, in chronological order.
func (c *Catalog) CheckpointsSince(t time.Time) ([]CheckpointRow, error) {
	var rows []CheckpointRow
	err := c.db.Where("created_at > ?", t).Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, newError(KindIo, "checkpoints_since", err)
	}
	return rows, nil
}
