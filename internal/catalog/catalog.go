package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/musiccleanup/internal/logging"
	"github.com/tphakala/musiccleanup/internal/xerrors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Catalog is the single durable store described in spec.md §4.1. All other
// components reach the database exclusively through this type; nothing else
// in the module imports gorm or holds a *sql.DB directly.
type Catalog struct {
	db     *gorm.DB
	path   string
	log    *slog.Logger
	debug  bool
}

// Options configures Open.
type Options struct {
	Path  string // filesystem path, or ":memory:" for an in-process database
	Debug bool
}

// Open creates the database directory if needed, opens the SQLite
// connection with the pragmas required by spec.md §3 (foreign keys on, WAL
// journaling), and runs AutoMigrate for every entity.
func Open(opts Options) (*Catalog, error) {
	log := logging.ForComponent("catalog")

	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, newError(KindIo, "open", fmt.Errorf("create database directory: %w", err))
		}
	}

	var gormLog gormlogger.Interface
	if opts.Debug {
		gormLog = newSlogGormLogger(log, 100*time.Millisecond, gormlogger.Info)
	} else {
		gormLog = newSlogGormLogger(log, 200*time.Millisecond, gormlogger.Warn)
	}

	db, err := gorm.Open(sqlite.Open(opts.Path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, newError(KindIo, "open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, newError(KindIo, "open", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-4000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			log.Warn("failed to set pragma", "pragma", p, "error", err)
		}
	}
	// SQLite permits exactly one writer; a single shared connection avoids
	// SQLITE_BUSY under the PipelineExecutor's bounded concurrency.
	sqlDB.SetMaxOpenConns(1)

	c := &Catalog{db: db, path: opts.Path, log: log, debug: opts.Debug}
	if err := c.migrate(); err != nil {
		return nil, err
	}

	log.Info("catalog opened", "path", opts.Path)
	return c, nil
}

func (c *Catalog) migrate() error {
	if err := c.db.AutoMigrate(allModels()...); err != nil {
		return newError(KindIo, "migrate", err)
	}

	var row SchemaVersionRow
	err := c.db.Order("id desc").First(&row).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return c.db.Create(&SchemaVersionRow{Version: currentSchemaVersion, AppliedAt: time.Now()}).Error
	case err != nil:
		return newError(KindIo, "migrate", err)
	case row.Version < currentSchemaVersion:
		return c.db.Create(&SchemaVersionRow{Version: currentSchemaVersion, AppliedAt: time.Now()}).Error
	default:
		return nil
	}
}

// Close releases the underlying connection.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return newError(KindIo, "close", err)
	}
	if err := sqlDB.Close(); err != nil {
		return newError(KindIo, "close", err)
	}
	c.log.Info("catalog closed", "path", c.path)
	return nil
}

// Vacuum reclaims free pages, per spec.md §4.1's vacuum operation.
func (c *Catalog) Vacuum() error {
	if err := c.db.Exec("VACUUM").Error; err != nil {
		return newError(KindIo, "vacuum", err)
	}
	return nil
}

// DatabaseSize returns the on-disk size of the catalog file in bytes. For an
// in-memory catalog it always returns 0.
func (c *Catalog) DatabaseSize() (int64, error) {
	if c.path == ":memory:" {
		return 0, nil
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return 0, newError(KindIo, "database_size", err)
	}
	return info.Size(), nil
}

// asEnhanced wraps a lower-level error as an EnhancedError tagged with the
// database category, for components that expect the generic taxonomy.
func asEnhanced(operation string, err error) error {
	if err == nil {
		return nil
	}
	return xerrors.New(err).
		Component("catalog").
		Category(xerrors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
