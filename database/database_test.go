package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"umamicore/api/models"
)

func TestMigrateSQLite(t *testing.T) {
	client, err := NewSQLiteDB(filepath.Join(t.TempDir(), "umami.db"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, Migrate(client.DB, "secret-pass", nil))
	// Idempotent: a second run keeps the first admin row.
	require.NoError(t, Migrate(client.DB, "other-pass", nil))

	for _, idx := range Indexes() {
		var model any
		switch idx.Table {
		case "session":
			model = &models.Session{}
		case "website_event":
			model = &models.WebsiteEvent{}
		case "event_data":
			model = &models.EventData{}
		case "session_data":
			model = &models.SessionData{}
		case "revenue":
			model = &models.Revenue{}
		}
		assert.True(t, client.DB.Migrator().HasIndex(model, idx.Name), idx.Name)
	}

	var admins []models.User
	require.NoError(t, client.DB.Where("role = ?", models.RoleAdmin).Find(&admins).Error)
	require.Len(t, admins, 1)
	assert.Equal(t, AdminUserID, admins[0].ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admins[0].Password), []byte("secret-pass")))
}

func TestWithSearchPath(t *testing.T) {
	got, err := withSearchPath("postgres://u:p@localhost:5432/db?sslmode=disable", "umami")
	require.NoError(t, err)
	assert.Contains(t, got, "search_path=umami")
	assert.Contains(t, got, "sslmode=disable")

	got, err = withSearchPath("host=localhost dbname=db", "umami")
	require.NoError(t, err)
	assert.Equal(t, "host=localhost dbname=db search_path=umami", got)

	got, err = withSearchPath("host=localhost search_path=other", "umami")
	require.NoError(t, err)
	assert.Equal(t, "host=localhost search_path=other", got)
}

func TestDimensionIndex(t *testing.T) {
	assert.Equal(t, "session_website_id_created_at_browser_idx", DimensionIndex("session", "browser"))
}
