package database

import (
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDBSQLiteAndMigrate(t *testing.T) {
	db, err := InitDB(&config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, m := range model.AllModels() {
		assert.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
	}
}

func TestInitDBUnknownDriver(t *testing.T) {
	_, err := InitDB(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestInitRedisDisabled(t *testing.T) {
	rdb, err := InitRedis(&config.RedisConfig{Enabled: false})
	assert.NoError(t, err)
	assert.Nil(t, rdb)
}
