// Package catalog implements the Catalog component of spec.md §4.1: the
// single durable store for fingerprints, files, quality reports, duplicate
// groups, operations, transactions, checkpoints, rollback points and
// progress, backed by an embedded relational database (gorm + SQLite) with
// foreign keys enforced and WAL journaling, following the teacher's
// internal/datastore/sqlite.go connection-management style.
package catalog

import "time"

// IntegrityStatus is the closed set from spec.md §3.
type IntegrityStatus string

const (
	IntegrityHealthy IntegrityStatus = "healthy"
	IntegritySuspect IntegrityStatus = "suspect"
	IntegrityCorrupt IntegrityStatus = "corrupt"
	IntegrityMissing IntegrityStatus = "missing"
)

// FingerprintAlgorithm tags which path produced a Fingerprint.
type FingerprintAlgorithmTag string

const (
	AlgorithmPrimary  FingerprintAlgorithmTag = "primary"
	AlgorithmFallback FingerprintAlgorithmTag = "fallback"
)

// FingerprintRow is the immutable Fingerprint entity (spec.md §3).
type FingerprintRow struct {
	ID         uint                    `gorm:"primaryKey"`
	Algorithm  FingerprintAlgorithmTag `gorm:"size:16;not null;uniqueIndex:idx_fp_algo_bits"`
	Bitstring  string                  `gorm:"not null;uniqueIndex:idx_fp_algo_bits"`
	Duration   float64                 `gorm:"not null"`
	SampleRate int                     `gorm:"not null"`
	Channels   int                     `gorm:"not null"`
	Bitrate    *int
	GeneratedAt time.Time              `gorm:"not null"`
	LastSeenAt  time.Time              `gorm:"index;not null"` // touched on every store_file referencing it

	Files []FileRow `gorm:"foreignKey:FingerprintID"`
}

// QualityReportRow is owned 1:1 by a File (spec.md §3).
type QualityReportRow struct {
	ID              uint   `gorm:"primaryKey"`
	FileID          uint   `gorm:"uniqueIndex;not null;constraint:OnDelete:CASCADE"`
	HealthScore     int    `gorm:"not null"`
	DefectTags      string `gorm:"type:text"` // comma-separated closed-set defect tags, ordered
	EntropyMean     float64
	EntropyStdDev   float64
	DetectedFormat  string `gorm:"size:16"`
	HeaderFlags     string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FileRow is the File entity, identified by absolute path.
type FileRow struct {
	ID              uint            `gorm:"primaryKey"`
	Path            string          `gorm:"uniqueIndex;not null"`
	Size            int64           `gorm:"not null"`
	ModTime         time.Time       `gorm:"not null"`
	IntegrityStatus IntegrityStatus `gorm:"size:16;not null;default:healthy"`
	QualityScore    int             `gorm:"not null;default:0"`
	FingerprintID   *uint           `gorm:"index"`
	QualityReportID *uint           `gorm:"index"`
	DestinationPath string          `gorm:"index"` // set once TransactionManager commits the move/copy
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Fingerprint   *FingerprintRow    `gorm:"foreignKey:FingerprintID;constraint:OnDelete:SET NULL"`
	QualityReport *QualityReportRow  `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE"`
}

// DuplicateRole is the closed set for DuplicateMember.Role.
type DuplicateRole string

const (
	RoleCanonical DuplicateRole = "canonical"
	RoleReject    DuplicateRole = "reject"
)

// DuplicateGroupRow is derived state produced by the DuplicateResolver.
type DuplicateGroupRow struct {
	ID              uint   `gorm:"primaryKey"`
	GroupHash       string `gorm:"uniqueIndex;not null"`
	DetectionMethod string `gorm:"size:32;not null"`
	CanonicalFileID uint   `gorm:"not null"`
	CreatedAt       time.Time

	Members []DuplicateMemberRow `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

// DuplicateMemberRow links a File to a DuplicateGroup with a role.
type DuplicateMemberRow struct {
	ID         uint          `gorm:"primaryKey"`
	GroupID    uint          `gorm:"index;not null;constraint:OnDelete:CASCADE"`
	FileID     uint          `gorm:"index;not null"`
	Role       DuplicateRole `gorm:"size:16;not null"`
	Similarity float64       `gorm:"not null;default:1.0"`
}

// OperationKind is the closed operation-kind vocabulary (spec.md §4.8).
type OperationKind string

const (
	OpCopy  OperationKind = "copy"
	OpMove  OperationKind = "move"
	OpDelete OperationKind = "delete"
	OpMkdir OperationKind = "mkdir"
	OpRmdir OperationKind = "rmdir"
	OpRename OperationKind = "rename"
)

// OperationStatus is the Operation state-machine's closed set (spec.md §4.8).
type OperationStatus string

const (
	OpPending    OperationStatus = "pending"
	OpPrepared   OperationStatus = "prepared"
	OpCommitted  OperationStatus = "committed"
	OpRolledBack OperationStatus = "rolled_back"
	OpAborted    OperationStatus = "aborted"
)

// OperationRow is a single journaled filesystem mutation.
type OperationRow struct {
	ID            string          `gorm:"primaryKey;size:32"` // ULID-like, monotonic
	TransactionID string          `gorm:"index;not null"`
	Kind          OperationKind   `gorm:"size:16;not null"`
	SourcePath    string          `gorm:"index;not null"`
	TargetPath    *string
	BackupPath    *string
	Status        OperationStatus `gorm:"size:16;index;not null;default:pending"`
	CreatedAt     time.Time       `gorm:"index;not null"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// TransactionState is the Transaction's closed set (spec.md §4.8).
type TransactionState string

const (
	TxCreated     TransactionState = "created"
	TxPrepared    TransactionState = "prepared"
	TxCommitted   TransactionState = "committed"
	TxAborted     TransactionState = "aborted"
	TxRolledBack  TransactionState = "rolled_back"
)

// TransactionRow is the ordered set of Operations committed/rolled back as a unit.
type TransactionRow struct {
	ID          string           `gorm:"primaryKey;size:32"`
	State       TransactionState `gorm:"size:16;index;not null;default:created"`
	SessionID   string           `gorm:"index;not null"`
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CheckpointKind is the closed set of checkpoint triggers (spec.md §3).
type CheckpointKind string

const (
	CheckpointStartup          CheckpointKind = "startup"
	CheckpointSessionBegin     CheckpointKind = "session_begin"
	CheckpointBatchComplete    CheckpointKind = "batch_complete"
	CheckpointTransactionCommit CheckpointKind = "transaction_commit"
	CheckpointError            CheckpointKind = "error"
	CheckpointManual           CheckpointKind = "manual"
	CheckpointShutdown         CheckpointKind = "shutdown"
)

// CheckpointRow is a snapshot record of pipeline state.
type CheckpointRow struct {
	ID                string         `gorm:"primaryKey;size:32"`
	Kind              CheckpointKind `gorm:"size:24;index;not null"`
	SessionID         string         `gorm:"index;not null"`
	OperationGroupID  string         `gorm:"index"`
	ActiveTxCount     int
	ActiveOpCount     int
	MemoryRSSBytes    uint64
	DiskFreeBytes     uint64
	ProcessID         int
	CreatedAt         time.Time `gorm:"index;not null"`
}

// RollbackScope is the closed set for RollbackPoint.Scope.
type RollbackScope string

const (
	ScopeOperation   RollbackScope = "operation"
	ScopeTransaction RollbackScope = "transaction"
	ScopeSession     RollbackScope = "session"
)

// RollbackPointRow captures a content/structure snapshot for restoration.
type RollbackPointRow struct {
	ID              string        `gorm:"primaryKey;size:32"`
	Scope           RollbackScope `gorm:"size:16;index;not null"`
	ReferenceID     string        `gorm:"index;not null"` // operation/transaction/session id
	ChecksumMapJSON string        `gorm:"type:text;not null"`
	StructureJSON   string        `gorm:"type:text;not null"`
	SizeBytes       int64         `gorm:"not null"`
	CreatedAt       time.Time     `gorm:"index;not null"`
}

// ProgressRow is keyed by (session_id, stage).
type ProgressRow struct {
	ID             uint      `gorm:"primaryKey"`
	SessionID      string    `gorm:"uniqueIndex:idx_progress_session_stage;not null"`
	Stage          string    `gorm:"uniqueIndex:idx_progress_session_stage;not null"`
	FilesTotal     int64     `gorm:"not null"`
	FilesProcessed int64     `gorm:"not null"`
	FilesSucceeded int64     `gorm:"not null"`
	FilesFailed    int64     `gorm:"not null"`
	BytesProcessed int64     `gorm:"not null"`
	StartTime      time.Time `gorm:"not null"`
	LastUpdate     time.Time `gorm:"not null"`
}

// SchemaVersionRow is updated only by migrations, in the same transaction as
// the schema change that introduced it (spec.md §3 invariant 5).
type SchemaVersionRow struct {
	ID        uint `gorm:"primaryKey"`
	Version   int  `gorm:"not null"`
	AppliedAt time.Time
}

// allModels lists every entity for AutoMigrate, in FK-safe order.
func allModels() []any {
	return []any{
		&SchemaVersionRow{},
		&FingerprintRow{},
		&QualityReportRow{},
		&FileRow{},
		&DuplicateGroupRow{},
		&DuplicateMemberRow{},
		&TransactionRow{},
		&OperationRow{},
		&CheckpointRow{},
		&RollbackPointRow{},
		&ProgressRow{},
	}
}

const currentSchemaVersion = 1
