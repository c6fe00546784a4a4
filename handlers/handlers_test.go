package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"umamicore/api/access"
	"umamicore/api/config"
	"umamicore/api/geo"
	"umamicore/api/ingest"
	"umamicore/api/models"
	"umamicore/api/stats"
	"umamicore/api/store"
	"umamicore/api/testutil"
	"umamicore/api/utils"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func init() {
	gin.SetMode(gin.TestMode)
	utils.ConfigureJWT("handlers-test-secret", "umamicore", 0)
}

type api struct {
	db    *gorm.DB
	r     *gin.Engine
	stats *StatsHandlers
	owner models.User
	token string
	site  models.Website
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop()

	websites := store.NewWebsiteStore(db)
	sessions := store.NewSessionStore(db)
	users := store.NewUserStore(db)
	events := store.NewEventStore(db)
	reports := store.NewReportStore(db)
	attrs := store.NewAttributeStore(db)

	guard := access.NewGuard(websites, users, 24*time.Hour, time.Minute, log)
	resolver := ingest.NewResolver(sessions, 30*time.Minute, time.Hour, 3, log)
	writer := ingest.NewWriter(config.IngestConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, Workers: 2}, guard, resolver, events, nil, log)
	engine := stats.NewEngine(db, config.StatsConfig{QueryTimeout: 5 * time.Second}, log)
	locator, err := geo.Open("")
	require.NoError(t, err)

	statsHandlers := NewStatsHandlers(engine, guard, attrs, events, sessions, nil, log)
	r := gin.New()
	Router{
		Auth:    NewAuthHandlers(users, 3600, log),
		Collect: NewCollectHandlers(writer, ingest.NewFingerprinter("salt", false), locator, 10, 5*time.Second, log),
		Sites:   NewWebsiteHandlers(websites, users, guard, log),
		Stats:   statsHandlers,
		Reports: NewReportHandlers(reports, engine, guard, log),
		Teams:   NewTeamHandlers(users, log),
		Health:  NewHealthHandlers(db, log),
	}.Register(r, "test-api-key", log)

	owner := testutil.CreateUser(t, db, models.RoleUser)
	token, err := utils.GenerateJWT(&owner)
	require.NoError(t, err)
	return &api{db: db, r: r, stats: statsHandlers, owner: owner, token: token, site: testutil.CreateWebsite(t, db, owner.ID)}
}

func (a *api) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return a.request(t, method, path, body, func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	})
}

// asAdmin authenticates with the static API key.
func (a *api) asAdmin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return a.request(t, method, path, body, func(req *http.Request) {
		req.Header.Set("X-API-KEY", "test-api-key")
	})
}

func (a *api) request(t *testing.T, method, path string, body any, auth func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserUA)
	auth(req)
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func (a *api) send(t *testing.T, url string) ingest.Result {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/send", "", gin.H{
		"type":    "event",
		"payload": gin.H{"website": a.site.ID, "url": url, "hostname": "example.com", "language": "en-US"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrInvalidInput), http.StatusBadRequest},
		{models.ErrTypeInvariant, http.StatusUnprocessableEntity},
		{models.ErrTenantMismatch, http.StatusForbidden},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrConflictRetryable, http.StatusServiceUnavailable},
		{models.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{context.Canceled, 499},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func TestCollectThenRead(t *testing.T) {
	a := newAPI(t)
	first := a.send(t, "https://example.com/pricing?plan=pro")
	second := a.send(t, "https://example.com/docs")
	assert.Equal(t, first.SessionID, second.SessionID)

	base := "/api/websites/" + a.site.ID.String()
	w := a.do(t, http.MethodGet, base+"/stats", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decode[models.Summary](t, w)
	assert.Equal(t, int64(2), summary.Pageviews)
	assert.Equal(t, int64(1), summary.Visitors)

	w = a.do(t, http.MethodGet, base+"/metrics?type=url", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	b := decode[models.Breakdown](t, w)
	require.Len(t, b.Rows, 2)
	assert.Equal(t, "/docs", b.Rows[0].Value)
	assert.Equal(t, "/pricing", b.Rows[1].Value)

	w = a.do(t, http.MethodGet, base+"/metrics?type=url&incremental=true", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, b.Rows, decode[models.Breakdown](t, w).Rows)

	w = a.do(t, http.MethodGet, base+"/events/"+first.EventID.String(), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "/pricing", decode[models.StoredEvent](t, w).Event.URLPath)
}

func TestCollectRejectsBadInput(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodPost, "/api/send", "", gin.H{"type": "pageview", "payload": gin.H{"website": a.site.ID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/api/websites/"+a.site.ID.String()+"/metrics?type=nope", a.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/api/websites/not-a-uuid/stats", a.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCrossTenantReadsAreForbidden(t *testing.T) {
	a := newAPI(t)
	a.send(t, "https://example.com/")

	w := a.do(t, http.MethodPost, "/api/websites", a.token, gin.H{"name": "other"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	other := decode[models.Website](t, w)

	assert.NotEqual(t, a.site.ID, other.ID)

	stranger := models.User{ID: uuid.New(), Username: "mallory", Role: models.RoleUser}
	token, err := utils.GenerateJWT(&stranger)
	require.NoError(t, err)

	w = a.do(t, http.MethodGet, "/api/websites/"+a.site.ID.String()+"/stats", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Forbidden"}`, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/websites/"+a.site.ID.String()+"/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	type listing struct {
		Count int `json:"count"`
	}
	assert.Equal(t, 0, decode[listing](t, a.do(t, http.MethodGet, "/api/websites", token, nil)).Count)
	assert.Equal(t, 2, decode[listing](t, a.do(t, http.MethodGet, "/api/websites", a.token, nil)).Count)
}

func TestShareTokenIsReadOnly(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodPost, "/api/websites", a.token, gin.H{"name": "public", "share": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	site := decode[models.Website](t, w)
	require.NotNil(t, site.ShareID)

	w = a.do(t, http.MethodGet, "/api/share/"+*site.ShareID, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	share := decode[struct {
		Token string `json:"token"`
	}](t, w)

	w = a.do(t, http.MethodGet, "/api/websites/"+site.ID.String()+"/stats", share.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(t, http.MethodDelete, "/api/websites/"+site.ID.String(), share.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, http.MethodGet, "/api/websites/"+a.site.ID.String()+"/stats", share.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteHidesWebsiteAndRestoreBringsItBack(t *testing.T) {
	a := newAPI(t)
	a.send(t, "https://example.com/")
	base := "/api/websites/" + a.site.ID.String()

	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, base, a.token, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, base+"/stats", a.token, nil).Code)

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, base+"/restore", a.token, nil).Code)
	require.Equal(t, http.StatusOK, a.asAdmin(t, http.MethodPost, base+"/restore", nil).Code)
	w := a.do(t, http.MethodGet, base+"/stats", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(1), decode[models.Summary](t, w).Pageviews)
}

func TestSavedReportRuns(t *testing.T) {
	a := newAPI(t)
	a.send(t, "https://example.com/a")
	a.send(t, "https://example.com/b")
	a.send(t, "https://example.com/b")
	base := "/api/websites/" + a.site.ID.String()

	w := a.do(t, http.MethodPost, base+"/reports", a.token, gin.H{
		"type":       "breakdown",
		"name":       "top pages",
		"parameters": gin.H{"range": "24h", "dimension": "url"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	report := decode[models.Report](t, w)

	w = a.do(t, http.MethodPost, base+"/segments", a.token, gin.H{
		"name":       "only b",
		"parameters": gin.H{"filters": []gin.H{{"dimension": "url", "op": "eq", "value": "/b"}}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	seg := decode[models.Segment](t, w)

	w = a.do(t, http.MethodGet, base+"/reports/"+report.ID.String()+"/run", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[stats.Result](t, w)
	require.NotNil(t, res.Breakdown)
	require.Len(t, res.Breakdown.Rows, 2)
	assert.Equal(t, "/b", res.Breakdown.Rows[0].Value)
	assert.Equal(t, int64(2), res.Breakdown.Rows[0].Count)

	w = a.do(t, http.MethodGet, base+"/reports/"+report.ID.String()+"/run?segment="+seg.ID.String(), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = decode[stats.Result](t, w)
	require.Len(t, res.Breakdown.Rows, 1)

	w = a.do(t, http.MethodPost, base+"/reports", a.token, gin.H{
		"type":       "summary",
		"name":       "bad",
		"parameters": gin.H{"range": "24h", "colour": "red"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventCountsNeedsMirror(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodGet, "/api/websites/"+a.site.ID.String()+"/event-counts", a.token, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestLoginAndHealth(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "umami-test"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[struct {
		Token string `json:"token"`
	}](t, w)

	w = a.do(t, http.MethodPost, "/api/users", login.Token, gin.H{"username": "bob", "password": "hunter2hunter2"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = a.do(t, http.MethodPost, "/api/users", a.token, gin.H{"username": "eve", "password": "hunter2hunter2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/health", "", nil).Code)
}

func TestTeamMembersReadTeamWebsites(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodPost, "/api/teams", a.token, gin.H{"name": "growth"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	team := decode[models.Team](t, w)

	w = a.do(t, http.MethodPost, "/api/websites", a.token, gin.H{"name": "team site", "teamId": team.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	site := decode[models.Website](t, w)

	member := testutil.CreateUser(t, a.db, models.RoleUser)
	token, err := utils.GenerateJWT(&member)
	require.NoError(t, err)

	base := "/api/websites/" + site.ID.String()
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, base+"/stats", token, nil).Code)
	w = a.do(t, http.MethodPost, "/api/teams/"+team.ID.String()+"/users", token, gin.H{"userId": member.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/api/teams/"+team.ID.String()+"/users", a.token, gin.H{"userId": member.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, base+"/stats", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodDelete, base, token, nil).Code)
}

func TestSessionLookup(t *testing.T) {
	a := newAPI(t)
	res := a.send(t, "https://example.com/")
	w := a.do(t, http.MethodPost, "/api/send", "", gin.H{
		"type":    "identify",
		"payload": gin.H{"website": a.site.ID, "data": gin.H{"plan": "pro"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/websites/"+a.site.ID.String()+"/sessions/"+res.SessionID.String(), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Session models.Session `json:"session"`
	}](t, w)
	assert.Equal(t, res.SessionID, body.Session.ID)
	assert.Contains(t, w.Body.String(), "pro")
}

// resetSite resets the fixture website and returns the stored reset point.
func (a *api) resetSite(t *testing.T) time.Time {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/websites/"+a.site.ID.String()+"/reset", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var site models.Website
	require.NoError(t, a.db.First(&site, "website_id = ?", a.site.ID).Error)
	require.NotNil(t, site.ResetAt)
	return site.ResetAt.UTC()
}

func TestSessionHiddenAfterReset(t *testing.T) {
	a := newAPI(t)
	res := a.send(t, "https://example.com/")
	w := a.do(t, http.MethodPost, "/api/send", "", gin.H{
		"type":    "identify",
		"payload": gin.H{"website": a.site.ID, "data": gin.H{"plan": "pro"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	base := "/api/websites/" + a.site.ID.String() + "/sessions/" + res.SessionID.String()

	a.resetSite(t)

	w = a.do(t, http.MethodGet, base, a.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, base+"/data", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Data models.Attributes `json:"data"`
	}](t, w)
	assert.Empty(t, body.Data)
	assert.NotContains(t, w.Body.String(), "pro")
}

type recordedCounts struct {
	calls      int
	start, end time.Time
}

func (r *recordedCounts) EventCountsOverTime(_ context.Context, _ uuid.UUID, _ string, start, end time.Time, _ string) ([]models.EventCount, error) {
	r.calls++
	r.start, r.end = start, end
	return []models.EventCount{{Time: start, Count: 1}}, nil
}

func TestEventCountsStartAtReset(t *testing.T) {
	a := newAPI(t)
	counts := &recordedCounts{}
	a.stats.Analytics = counts
	reset := a.resetSite(t)
	base := "/api/websites/" + a.site.ID.String()

	ms := func(at time.Time) string { return fmt.Sprint(at.UnixMilli()) }
	end := reset.Add(time.Hour)
	w := a.do(t, http.MethodGet, base+"/event-counts?interval=hour&startAt="+ms(reset.Add(-24*time.Hour))+"&endAt="+ms(end), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 1, counts.calls)
	assert.True(t, counts.start.Equal(reset), "start %s, reset %s", counts.start, reset)
	assert.True(t, counts.end.Equal(end.Truncate(time.Millisecond)))

	// Entirely before the reset.
	w = a.do(t, http.MethodGet, base+"/event-counts?startAt="+ms(reset.Add(-48*time.Hour))+"&endAt="+ms(reset.Add(-24*time.Hour)), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decode[[]models.EventCount](t, w))
	assert.Equal(t, 1, counts.calls)

	// Inverted range.
	w = a.do(t, http.MethodGet, base+"/event-counts?startAt="+ms(end)+"&endAt="+ms(reset.Add(30*time.Minute)), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decode[[]models.EventCount](t, w))
	assert.Equal(t, 1, counts.calls)

	w = a.do(t, http.MethodGet, base+"/event-data?startAt="+ms(reset.Add(-48*time.Hour))+"&endAt="+ms(reset.Add(-24*time.Hour)), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}
