package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"umamicore/api/access"
	"umamicore/api/database"
	"umamicore/api/models"
	"umamicore/api/utils"
)

const (
	principalKey = "principal"

	TokenCookie      = "jwt_token"
	ShareTokenHeader = "X-Umami-Share-Token"
)

// Principal returns the caller resolved by AuthRequired.
func Principal(c *gin.Context) access.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(access.Principal); ok {
			return p
		}
	}
	return access.Principal{}
}

func bearer(c *gin.Context) string {
	if token := c.GetHeader(ShareTokenHeader); token != "" {
		return token
	}
	if token, err := c.Cookie(TokenCookie); err == nil && token != "" {
		return token
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

func principalFromClaims(claims *utils.Claims) (access.Principal, bool) {
	if claims.WebsiteID != "" {
		id, err := uuid.Parse(claims.WebsiteID)
		return access.Principal{ShareWebsiteID: id}, err == nil
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return access.Principal{}, false
	}
	return access.Principal{UserID: id, Username: claims.Username, Role: claims.Role}, true
}

// AuthRequired resolves the caller from the X-API-KEY header, a share token,
// the session cookie or a bearer token, in that order. A configured API key
// acts as the built-in administrator.
func AuthRequired(apiKey string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-KEY"); apiKey != "" && key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
				c.Set(principalKey, access.Principal{UserID: database.AdminUserID, Username: "api-key", Role: models.RoleAdmin})
				c.Next()
				return
			}
			log.Warn("rejected api key", zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: invalid API key"})
			return
		}

		tokenString := bearer(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}
		claims, err := utils.ValidateJWT(tokenString)
		if err != nil {
			log.Debug("invalid token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}
		p, ok := principalFromClaims(claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// AdminRequired rejects callers that are not administrators.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Principal(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: administrator only"})
			return
		}
		c.Next()
	}
}
