package access

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"umamicore/api/metrics"
	"umamicore/api/models"
	"umamicore/api/store"
	dbtest "umamicore/api/testutil"
)

type fixture struct {
	guard    *Guard
	websites *store.WebsiteStore
	users    *store.UserStore
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) fixture {
	db := dbtest.NewDB(t)
	core, logs := observer.New(zap.WarnLevel)
	websites := store.NewWebsiteStore(db)
	users := store.NewUserStore(db)
	return fixture{
		guard:    NewGuard(websites, users, 30*24*time.Hour, time.Minute, zap.New(core)),
		websites: websites,
		users:    users,
		logs:     logs,
	}
}

func (f fixture) site(t *testing.T, owner uuid.UUID) models.Website {
	w := models.Website{Name: "site", UserID: &owner}
	require.NoError(t, f.websites.Create(context.Background(), &w))
	return w
}

func TestZeroScopeIsInvalid(t *testing.T) {
	var s Scope
	assert.False(t, s.Valid())
	assert.ErrorIs(t, s.Check(), models.ErrTenantMismatch)
}

func TestOwnerAndCrossTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := Principal{UserID: uuid.New(), Role: models.RoleUser}
	bob := Principal{UserID: uuid.New(), Role: models.RoleUser}
	a := f.site(t, alice.UserID)
	b := f.site(t, bob.UserID)

	scope, err := f.guard.Authorize(ctx, alice, a.ID, PermManage)
	require.NoError(t, err)
	assert.Equal(t, a.ID, scope.WebsiteID())
	assert.NoError(t, scope.Check())

	before := testutil.ToFloat64(metrics.TenantMismatches)
	_, err = f.guard.Authorize(ctx, alice, b.ID, PermView)
	assert.ErrorIs(t, err, models.ErrTenantMismatch)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TenantMismatches))

	entries := f.logs.FilterField(zap.String("event", "tenant_mismatch")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID.String(), entries[0].ContextMap()["website_id"])
}

func TestAdminShareAndViewOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	w := f.site(t, owner)
	other := f.site(t, owner)

	admin := Principal{UserID: uuid.New(), Role: models.RoleAdmin}
	_, err := f.guard.Authorize(ctx, admin, w.ID, PermManage)
	assert.NoError(t, err)

	share := Principal{ShareWebsiteID: w.ID}
	scope, err := f.guard.Authorize(ctx, share, w.ID, PermView)
	require.NoError(t, err)
	assert.True(t, scope.ReadOnly())
	_, err = f.guard.Authorize(ctx, share, w.ID, PermManage)
	assert.ErrorIs(t, err, models.ErrTenantMismatch)
	_, err = f.guard.Authorize(ctx, share, other.ID, PermView)
	assert.ErrorIs(t, err, models.ErrTenantMismatch)

	viewer := Principal{UserID: owner, Role: models.RoleViewOnly}
	scope, err = f.guard.Authorize(ctx, viewer, w.ID, PermView)
	require.NoError(t, err)
	assert.True(t, scope.ReadOnly())
	_, err = f.guard.Authorize(ctx, viewer, w.ID, PermManage)
	assert.ErrorIs(t, err, models.ErrTenantMismatch)

	_, err = f.guard.Authorize(ctx, Principal{}, w.ID, PermView)
	assert.ErrorIs(t, err, models.ErrTenantMismatch)
}

func TestTeamAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, err := f.users.CreateUser(ctx, "owner", []byte("x"), models.RoleUser)
	require.NoError(t, err)
	member, err := f.users.CreateUser(ctx, "member", []byte("x"), models.RoleUser)
	require.NoError(t, err)
	team, err := f.users.CreateTeam(ctx, "growth", owner.ID)
	require.NoError(t, err)
	require.NoError(t, f.users.AddTeamMember(ctx, team.ID, member.ID, models.TeamRoleMember))

	w := models.Website{Name: "team", TeamID: &team.ID}
	require.NoError(t, f.websites.Create(ctx, &w))

	ownerP := Principal{UserID: owner.ID, Role: models.RoleUser}
	memberP := Principal{UserID: member.ID, Role: models.RoleUser}

	_, err = f.guard.Authorize(ctx, ownerP, w.ID, PermManage)
	assert.NoError(t, err)
	scope, err := f.guard.Authorize(ctx, memberP, w.ID, PermView)
	require.NoError(t, err)
	assert.True(t, scope.ReadOnly())
	_, err = f.guard.Authorize(ctx, memberP, w.ID, PermManage)
	assert.ErrorIs(t, err, models.ErrTenantMismatch)

	assert.NoError(t, f.guard.CanCreate(ctx, ownerP, &team.ID))
	assert.ErrorIs(t, f.guard.CanCreate(ctx, memberP, &team.ID), models.ErrTenantMismatch)
	assert.NoError(t, f.guard.CanCreate(ctx, memberP, nil))
}

func TestSoftDeletedWebsiteIsInvisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Principal{UserID: uuid.New(), Role: models.RoleUser}
	admin := Principal{UserID: uuid.New(), Role: models.RoleAdmin}
	w := f.site(t, owner.UserID)

	_, err := f.guard.IngestScope(ctx, w.ID)
	require.NoError(t, err)

	deletedAt := time.Now().UTC()
	require.NoError(t, f.websites.SoftDelete(ctx, w.ID, deletedAt))
	f.guard.Invalidate(w.ID)

	_, err = f.guard.Authorize(ctx, owner, w.ID, PermView)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.guard.Authorize(ctx, admin, w.ID, PermView)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.guard.IngestScope(ctx, w.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.guard.AuthorizeRecovery(ctx, owner, w.ID)
	assert.ErrorIs(t, err, models.ErrTenantMismatch)

	scope, err := f.guard.AuthorizeRecovery(ctx, admin, w.ID)
	require.NoError(t, err)
	require.NoError(t, f.websites.Restore(ctx, scope.WebsiteID()))
	f.guard.Invalidate(w.ID)

	_, err = f.guard.Authorize(ctx, owner, w.ID, PermView)
	assert.NoError(t, err)
}

func TestRecoveryPastRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Principal{UserID: uuid.New(), Role: models.RoleAdmin}
	w := f.site(t, uuid.New())

	require.NoError(t, f.websites.SoftDelete(ctx, w.ID, time.Now().UTC().Add(-31*24*time.Hour)))
	_, err := f.guard.AuthorizeRecovery(ctx, admin, w.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIngestScopeUnknownWebsite(t *testing.T) {
	f := newFixture(t)
	_, err := f.guard.IngestScope(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.guard.IngestScope(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestScopeCarriesReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Principal{UserID: uuid.New(), Role: models.RoleUser}
	w := f.site(t, owner.UserID)
	at := dbtest.Hour()
	require.NoError(t, f.websites.Reset(ctx, w.ID, at))
	f.guard.Invalidate(w.ID)

	scope, err := f.guard.Authorize(ctx, owner, w.ID, PermView)
	require.NoError(t, err)
	assert.True(t, scope.ResetAt().Equal(at))
}
