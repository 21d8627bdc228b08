package database

import (
	"context"
	"testing"
	"time"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	}

	db, err := New(cfg, nil)
	require.NoError(t, err)
	return db
}

func TestNew_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "warn",
	}

	db, err := New(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, db)
	defer db.Close()

	assert.NoError(t, db.Ping(context.Background()))
}

func TestNew_InvalidDriver(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "invalid",
		DSN:    ":memory:",
	}

	db, err := New(cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDB_Migrate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	require.NoError(t, db.Migrate())

	for _, table := range []string{
		"users", "podcasts", "subscriptions", "episodes",
		"clips", "digests", "digest_clips", "jobs", "job_history",
	} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}

	// Migration is idempotent.
	assert.NoError(t, db.Migrate())
}

func TestDB_Migrate_PersistsModels(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	require.NoError(t, db.Migrate())

	user := &models.User{
		Email:     "alice@example.com",
		Frequency: models.FrequencyWeekly,
		Interests: models.StringList{"go", "distributed systems"},
	}
	require.NoError(t, db.Create(user).Error)
	assert.False(t, user.ID.IsZero())

	var loaded models.User
	require.NoError(t, db.First(&loaded, "email = ?", "alice@example.com").Error)
	assert.Equal(t, user.ID, loaded.ID)
	assert.Equal(t, models.StringList{"go", "distributed systems"}, loaded.Interests)
}

func TestDB_Close(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}
