package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"datalab-service/internal/config"
	"datalab-service/internal/models"
)

// Connect opens the relational store selected by opts.Driver. Missing
// connection parameters are reported as an EnvironmentConfigurationError
// before any connection is attempted.
func Connect(opts config.DatabaseOptions, log logrus.FieldLogger) (*gorm.DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(opts.SQLitePath)
	default:
		dialector = postgres.New(postgres.Config{
			DriverName: "postgres",
			DSN:        opts.ConnectionString(),
		})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewLogger(log),
		TranslateError: false,
	})
	if err != nil {
		return nil, &models.StoreOperationalError{Err: err}
	}

	if opts.Driver == config.DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, &models.StoreOperationalError{Err: err}
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.WithField("driver", opts.Driver).Info("Database connection established")
	return db, nil
}

// NewLogger routes gorm's SQL logging through logrus.
func NewLogger(log logrus.FieldLogger) logger.Interface {
	return logger.New(
		gormWriter{log: log},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

type gormWriter struct {
	log logrus.FieldLogger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.WithField("component", "gorm").Warnf(format, args...)
}

// AutoMigrate creates or updates the complete schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(models.AllModels()...)
}

// MigrateDroppable recreates the tables an overwrite import drops.
func MigrateDroppable(db *gorm.DB) error {
	return db.AutoMigrate(models.DroppableModels()...)
}

// DropDroppable drops every table an overwrite import recreates. The dataset
// registry and the task table survive.
func DropDroppable(db *gorm.DB) error {
	return db.Migrator().DropTable(models.DroppableModels()...)
}

// Ping checks the connection within ctx.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// IsOperational reports whether err is a connectivity or server-availability
// failure rather than a problem with the data being written.
func IsOperational(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57", "58":
			return true
		}
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation reports whether err is a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsIntegrityViolation reports whether err is any constraint violation.
func IsIntegrityViolation(err error) bool {
	if err == nil {
		return false
	}
	if IsUniqueViolation(err) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// IsSchemaConflict reports whether err came from creating a schema object that
// another session created concurrently.
func IsSchemaConflict(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P07" || pqErr.Code == "42710"
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
