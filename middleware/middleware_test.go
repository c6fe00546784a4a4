package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umamicore/api/access"
	"umamicore/api/config"
	"umamicore/api/database"
	"umamicore/api/metrics"
	"umamicore/api/models"
	"umamicore/api/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.ConfigureJWT("middleware-test-secret", "umamicore", 0)
}

func whoami(r *gin.Engine) {
	r.GET("/me", func(c *gin.Context) {
		p := Principal(c)
		c.JSON(http.StatusOK, gin.H{"user": p.UserID.String(), "share": p.ShareWebsiteID.String(), "role": p.Role})
	})
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := gin.New()
	r.Use(AuthRequired("static-key", nil))
	whoami(r)

	user := &models.User{ID: uuid.New(), Username: "alice", Role: models.RoleUser}
	token, err := utils.GenerateJWT(user)
	require.NoError(t, err)
	site := uuid.New()
	share, err := utils.GenerateShareJWT(site)
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
		body   string
	}{
		{"no credentials", func(*http.Request) {}, http.StatusUnauthorized, "No token"},
		{"api key", func(r *http.Request) { r.Header.Set("X-API-KEY", "static-key") }, http.StatusOK, database.AdminUserID.String()},
		{"wrong api key", func(r *http.Request) { r.Header.Set("X-API-KEY", "nope") }, http.StatusUnauthorized, "invalid API key"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, user.ID.String()},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token}) }, http.StatusOK, user.ID.String()},
		{"share token", func(r *http.Request) { r.Header.Set(ShareTokenHeader, share) }, http.StatusOK, site.String()},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc.def.ghi") }, http.StatusUnauthorized, "Invalid or expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestAuthRequiredWithoutAPIKeyIgnoresHeader(t *testing.T) {
	r := gin.New()
	r.Use(AuthRequired("", nil))
	whoami(r)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-API-KEY", "")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestAdminRequired(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		role := c.GetHeader("X-Role")
		c.Set(principalKey, access.Principal{UserID: uuid.New(), Role: role})
	}, AdminRequired())
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Role", models.RoleUser)
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Role", models.RoleAdmin)
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/websites/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/websites/:id", "200")
	before := promtest.ToFloat64(counter)
	serve(r, httptest.NewRequest(http.MethodGet, "/api/websites/"+uuid.NewString(), nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/api/websites/"+uuid.NewString(), nil))
	assert.Equal(t, before+2, promtest.ToFloat64(counter))
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS(config.CORSConfig{AllowedOrigins: []string{"https://dash.example.com"}, AllowCredentials: true}))
	r.POST("/api/send", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/send", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
