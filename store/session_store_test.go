package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umamicore/api/models"
	"umamicore/api/testutil"
)

func newSession(websiteID uuid.UUID, fp string, seq int64, at time.Time) *models.Session {
	return &models.Session{
		ID:             uuid.New(),
		WebsiteID:      websiteID,
		Fingerprint:    fp,
		WindowSeq:      seq,
		CreatedAt:      at,
		LastActivityAt: at,
	}
}

func TestSessionInsertIfAbsent(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, models.RoleUser)
	site := testutil.CreateWebsite(t, db, owner.ID)
	s := NewSessionStore(db)
	at := testutil.Hour()

	latest, err := s.Latest(ctx, site.ID, "abcdef0123456789")
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := newSession(site.ID, "abcdef0123456789", 0, at)
	created, err := s.InsertIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := newSession(site.ID, "abcdef0123456789", 0, at.Add(time.Second))
	created, err = s.InsertIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	winner, err := s.FindBySeq(ctx, site.ID, "abcdef0123456789", 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, winner.ID)

	next := newSession(site.ID, "abcdef0123456789", 1, at.Add(time.Hour))
	created, err = s.InsertIfAbsent(ctx, next)
	require.NoError(t, err)
	assert.True(t, created)

	latest, err = s.Latest(ctx, site.ID, "abcdef0123456789")
	require.NoError(t, err)
	assert.Equal(t, next.ID, latest.ID)
}

func TestSessionTouchIsMonotonic(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, models.RoleUser)
	site := testutil.CreateWebsite(t, db, owner.ID)
	s := NewSessionStore(db)
	at := testutil.Hour()

	sess := newSession(site.ID, "abcdef0123456789", 0, at)
	_, err := s.InsertIfAbsent(ctx, sess)
	require.NoError(t, err)

	require.NoError(t, s.Touch(ctx, site.ID, sess.ID, at.Add(10*time.Minute)))
	require.NoError(t, s.Touch(ctx, site.ID, sess.ID, at.Add(5*time.Minute)))

	got, err := s.Find(ctx, site.ID, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(at.Add(10*time.Minute)), got.LastActivityAt)

	_, err = s.Find(ctx, uuid.New(), sess.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionCovering(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, models.RoleUser)
	site := testutil.CreateWebsite(t, db, owner.ID)
	s := NewSessionStore(db)
	at := testutil.Hour()
	const fp = "abcdef0123456789"

	early := newSession(site.ID, fp, 0, at)
	late := newSession(site.ID, fp, 1, at.Add(2*time.Hour))
	for _, sess := range []*models.Session{early, late} {
		_, err := s.InsertIfAbsent(ctx, sess)
		require.NoError(t, err)
	}

	got, err := s.Covering(ctx, site.ID, fp, at.Add(20*time.Minute), 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, early.ID, got.ID)

	got, err = s.Covering(ctx, site.ID, fp, at.Add(100*time.Minute), 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, late.ID, got.ID)

	got, err = s.Covering(ctx, site.ID, fp, at.Add(time.Hour), 30*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)
}
