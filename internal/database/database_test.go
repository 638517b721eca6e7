package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailog/recorder/internal/config"
	"github.com/trailog/recorder/internal/logging"
)

type widget struct {
	ID   uint `gorm:"primarykey"`
	Name string
}

func TestOpenSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "local.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&widget{}))
	require.NoError(t, db.Create(&widget{Name: "a"}).Error)

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode;").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)

	sqlDB, _ := db.DB()
	require.NoError(t, sqlDB.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	var count int64
	require.NoError(t, reopened.Model(&widget{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOpenSQLite_MemoryIsPrivate(t *testing.T) {
	a, err := OpenSQLite("")
	require.NoError(t, err)
	b, err := OpenSQLite("")
	require.NoError(t, err)

	require.NoError(t, a.AutoMigrate(&widget{}))
	assert.True(t, a.Migrator().HasTable(&widget{}))
	assert.False(t, b.Migrator().HasTable(&widget{}))
}

func TestManager_FallsBackToSQLite(t *testing.T) {
	cfg := config.ServerConfig{
		SQLitePath: filepath.Join(t.TempDir(), "server.db"),
		DB: config.DBConfig{
			Host: "127.0.0.1", Port: "1", Username: "x", Password: "x", Database: "x",
		},
	}
	m := NewManager(cfg, logging.NewZerolog("error"))

	require.NoError(t, m.Connect())
	t.Cleanup(func() { _ = m.Close() })

	assert.True(t, m.ShouldSaveLocal)
	assert.Equal(t, "sqlite", m.DB.Dialector.Name())
	require.NoError(t, m.Setup(&widget{}))
	assert.True(t, m.DB.Migrator().HasTable(&widget{}))
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.DBConfig{Host: "h", Port: "5432", Username: "u", Password: "p", Database: "d"})
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable connect_timeout=5", dsn)
}
