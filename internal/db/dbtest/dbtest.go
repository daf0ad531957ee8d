// Package dbtest opens throwaway migrated databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pillbox-backend/internal/db"
)

// Open returns a migrated sqlite database in a temp directory with the given
// device serials registered. A file is used instead of shared memory so
// concurrent connections see the same data; writers queue on the busy
// timeout.
func Open(t testing.TB, serials ...string) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "pillbox.db")+"?_busy_timeout=5000&_txlock=immediate"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	for _, serial := range serials {
		_, err := db.RegisterDevice(gormDB, serial)
		require.NoError(t, err)
	}
	return gormDB
}
