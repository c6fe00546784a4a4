package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"umamicore/api/middleware"
	"umamicore/api/models"
	"umamicore/api/store"
	"umamicore/api/utils"
)

type AuthHandlers struct {
	UserStore *store.UserStore
	log       *zap.Logger
	maxAge    int
}

func NewAuthHandlers(userStore *store.UserStore, maxAge int, log *zap.Logger) *AuthHandlers {
	return &AuthHandlers{UserStore: userStore, maxAge: maxAge, log: log}
}

// CreateUser lets an administrator add a dashboard account.
func (h *AuthHandlers) CreateUser(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("failed to hash password", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user, err := h.UserStore.CreateUser(c.Request.Context(), req.Username, hashedPassword, req.Role)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this username already exists"})
			return
		}
		respondError(c, h.log, err)
		return
	}

	h.log.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role),
		zap.String("by", middleware.Principal(c).UserID.String()))
	c.JSON(http.StatusCreated, user)
}

// Login handles user authentication and JWT token creation.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	user, err := h.UserStore.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			respondError(c, h.log, err)
			return
		}
		h.log.Info("login failed: unknown user", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		h.log.Info("login failed: password mismatch", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := utils.GenerateJWT(user)
	if err != nil {
		h.log.Error("failed to generate token", zap.String("user_id", user.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetCookie(middleware.TokenCookie, tokenString, h.maxAge, "/", "", false, true)

	h.log.Info("user logged in", zap.String("user_id", user.ID.String()))
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "user": user})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Verify returns the caller behind the presented token.
func (h *AuthHandlers) Verify(c *gin.Context) {
	p := middleware.Principal(c)
	if p.IsShare() {
		c.JSON(http.StatusOK, gin.H{"websiteId": p.ShareWebsiteID})
		return
	}
	user, err := h.UserStore.GetUser(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
