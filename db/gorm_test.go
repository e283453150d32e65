package db

import (
	"path/filepath"
	"testing"

	"QFMIngest/config"
	"QFMIngest/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSN(t *testing.T) {
	cfg := config.Default()
	cfg.DBUser = "fm"
	cfg.DBPassword = "secret"
	cfg.DBHost = "db.local"
	cfg.DBPort = "3307"
	cfg.DBName = "ingest"

	dsn := mysqlDSN(&cfg)
	assert.Contains(t, dsn, "fm:secret@tcp(db.local:3307)/ingest")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestOpenSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.DBDriver = "sqlite"
	cfg.DBDSN = filepath.Join(t.TempDir(), "test.db")
	cfg.DBLogLevel = "silent"

	gdb, err := Open(&cfg)
	require.NoError(t, err)
	defer Close(gdb)

	require.NoError(t, gdb.AutoMigrate(model.All()...))
	assert.True(t, gdb.Migrator().HasTable(&model.WorkItem{}))
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.DBDriver = "oracle"
	_, err := Open(&cfg)
	require.Error(t, err)
}

func TestWithSQLiteParams(t *testing.T) {
	assert.Equal(t, "a.db?_busy_timeout=5000", withSQLiteParams("a.db"))
	assert.Equal(t, "file:x?mode=memory&_busy_timeout=5000", withSQLiteParams("file:x?mode=memory"))
	assert.Equal(t, "a.db?_busy_timeout=1", withSQLiteParams("a.db?_busy_timeout=1"))
}
