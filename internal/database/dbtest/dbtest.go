// Package dbtest opens isolated in-memory stores for tests.
package dbtest

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"datalab-service/internal/models"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// New returns a migrated in-memory SQLite store private to t. The pool holds a
// single connection, so code under test must route work inside a transaction
// through that transaction.
func New(t testing.TB) *gorm.DB {
	t.Helper()
	name := unsafeChars.ReplaceAllString(t.Name(), "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.AllModels()...), "failed to migrate schema")

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
