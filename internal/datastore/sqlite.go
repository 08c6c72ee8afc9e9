package datastore

import (
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

const defaultSlowThreshold = 200 * time.Millisecond

// Options configures OpenSQLite
type Options struct {
	Debug    bool
	Recorder QueryRecorder
}

// OpenSQLite opens or creates the database at path, enables WAL and migrates
// the schema.
func OpenSQLite(path string, opts Options) (*DataStore, error) {
	start := time.Now()
	log := GetLogger().With(logger.String("path", path))

	dsn := path
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, errors.New(err).
					Category(errors.CategoryFileIO).
					Context("path", path).
					Build()
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	level := gormlogger.Warn
	if opts.Debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(defaultSlowThreshold, level, opts.Recorder),
	})
	if err != nil {
		return nil, dbError(err, "open").Context("path", path).Build()
	}

	if path == MemoryPath {
		// every connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, dbError(err, "open").Build()
		}
		sqlDB.SetMaxOpenConns(1)
	}

	ds := &DataStore{DB: db}
	if err := ds.migrate(); err != nil {
		_ = ds.Close()
		return nil, err
	}

	log.Info("datastore opened", logger.Duration("duration", time.Since(start)))
	return ds, nil
}

func (ds *DataStore) migrate() error {
	start := time.Now()
	for _, model := range []any{&Item{}, &Scan{}} {
		if err := ds.DB.AutoMigrate(model); err != nil {
			return dbError(err, "migrate").
				Context("model", model).
				Timing("migrate", time.Since(start)).
				Build()
		}
	}
	GetLogger().Debug("database migration completed",
		logger.Duration("duration", time.Since(start)),
		logger.Int("tables_migrated", 2))
	return nil
}
