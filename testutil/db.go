// Package testutil opens migrated throwaway databases for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"umamicore/api/database"
	"umamicore/api/models"
)

// NewDB returns a migrated SQLite database living in the test's temp dir.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	client, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "umami.db"), nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, database.Migrate(client.DB, "umami-test", nil))
	return client.DB
}

// CreateWebsite inserts an active website owned by owner.
func CreateWebsite(t testing.TB, db *gorm.DB, owner uuid.UUID) models.Website {
	t.Helper()
	w := models.Website{Name: "site-" + uuid.NewString()[:8], UserID: &owner, CreatedBy: &owner}
	require.NoError(t, db.Create(&w).Error)
	return w
}

// CreateUser inserts a user with the given role and an unusable password.
func CreateUser(t testing.TB, db *gorm.DB, role string) models.User {
	t.Helper()
	u := models.User{Username: "user-" + uuid.NewString()[:8], Password: "x", Role: role}
	require.NoError(t, db.Create(&u).Error)
	return u
}

// Hour returns a fixed UTC instant used as the base of test timelines.
func Hour() time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
}
