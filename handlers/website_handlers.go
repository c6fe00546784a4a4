package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"umamicore/api/access"
	"umamicore/api/middleware"
	"umamicore/api/models"
	"umamicore/api/store"
	"umamicore/api/utils"
)

type WebsiteHandlers struct {
	Websites *store.WebsiteStore
	Users    *store.UserStore
	Guard    *access.Guard
	log      *zap.Logger
}

func NewWebsiteHandlers(websites *store.WebsiteStore, users *store.UserStore, guard *access.Guard, log *zap.Logger) *WebsiteHandlers {
	return &WebsiteHandlers{Websites: websites, Users: users, Guard: guard, log: log}
}

// authorize resolves the :id website for the caller or writes the error.
func authorize(c *gin.Context, guard *access.Guard, log *zap.Logger, perm access.Permission) (access.Scope, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return access.Scope{}, false
	}
	scope, err := guard.Authorize(c.Request.Context(), middleware.Principal(c), id, perm)
	if err != nil {
		respondError(c, log, err)
		return access.Scope{}, false
	}
	return scope, true
}

func (h *WebsiteHandlers) Create(c *gin.Context) {
	var req models.CreateWebsiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	p := middleware.Principal(c)
	if err := h.Guard.CanCreate(c.Request.Context(), p, req.TeamID); err != nil {
		respondError(c, h.log, err)
		return
	}

	w := models.Website{Name: req.Name, CreatedBy: &p.UserID}
	if req.Domain != "" {
		w.Domain = &req.Domain
	}
	if req.TeamID != nil {
		w.TeamID = req.TeamID
	} else {
		w.UserID = &p.UserID
	}
	if req.Share {
		shareID, err := utils.GenerateShareID()
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		w.ShareID = &shareID
	}

	if err := h.Websites.Create(c.Request.Context(), &w); err != nil {
		respondError(c, h.log, err)
		return
	}
	h.log.Info("website created", zap.String("website_id", w.ID.String()), zap.String("by", p.UserID.String()))
	c.JSON(http.StatusCreated, w)
}

func (h *WebsiteHandlers) List(c *gin.Context) {
	p := middleware.Principal(c)
	ctx := c.Request.Context()
	if p.IsShare() {
		scope, err := h.Guard.Authorize(ctx, p, p.ShareWebsiteID, access.PermView)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		w, err := h.Websites.FindWebsite(ctx, scope.WebsiteID())
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []models.Website{*w}, "count": 1})
		return
	}

	var teams []uuid.UUID
	if !p.IsAdmin() {
		var err error
		if teams, err = h.Users.TeamIDs(ctx, p.UserID); err != nil {
			respondError(c, h.log, err)
			return
		}
	}
	sites, err := h.Websites.ListActive(ctx, p.UserID, teams, p.IsAdmin())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sites, "count": len(sites)})
}

func (h *WebsiteHandlers) Get(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermView)
	if !ok {
		return
	}
	w, err := h.Websites.FindWebsite(c.Request.Context(), scope.WebsiteID())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type updateWebsiteRequest struct {
	Name   string  `json:"name" binding:"required,max=100"`
	Domain *string `json:"domain" binding:"omitempty,max=500"`
	Share  *bool   `json:"share"`
}

// Update renames a website and turns its share link on or off. A share
// link that is already on keeps its id.
func (h *WebsiteHandlers) Update(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermManage)
	if !ok {
		return
	}
	var req updateWebsiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	ctx := c.Request.Context()
	current, err := h.Websites.FindWebsite(ctx, scope.WebsiteID())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	shareID := current.ShareID
	if req.Share != nil {
		switch {
		case !*req.Share:
			shareID = nil
		case shareID == nil:
			id, err := utils.GenerateShareID()
			if err != nil {
				respondError(c, h.log, err)
				return
			}
			shareID = &id
		}
	}
	domain := current.Domain
	if req.Domain != nil {
		domain = req.Domain
	}

	if err := h.Websites.Update(ctx, scope.WebsiteID(), req.Name, domain, shareID); err != nil {
		respondError(c, h.log, err)
		return
	}
	h.Guard.Invalidate(scope.WebsiteID())
	updated, err := h.Websites.FindWebsite(ctx, scope.WebsiteID())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *WebsiteHandlers) Delete(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermManage)
	if !ok {
		return
	}
	if err := h.Websites.SoftDelete(c.Request.Context(), scope.WebsiteID(), time.Now()); err != nil {
		respondError(c, h.log, err)
		return
	}
	h.Guard.Invalidate(scope.WebsiteID())
	h.log.Info("website deleted", zap.String("website_id", scope.WebsiteID().String()))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Reset hides all data recorded so far from every read.
func (h *WebsiteHandlers) Reset(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermManage)
	if !ok {
		return
	}
	if err := h.Websites.Reset(c.Request.Context(), scope.WebsiteID(), time.Now()); err != nil {
		respondError(c, h.log, err)
		return
	}
	h.Guard.Invalidate(scope.WebsiteID())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *WebsiteHandlers) Restore(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	scope, err := h.Guard.AuthorizeRecovery(ctx, middleware.Principal(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.Websites.Restore(ctx, scope.WebsiteID()); err != nil {
		respondError(c, h.log, err)
		return
	}
	h.Guard.Invalidate(scope.WebsiteID())
	h.log.Info("website restored", zap.String("website_id", scope.WebsiteID().String()))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Share exchanges a public share id for a read-only token.
func (h *WebsiteHandlers) Share(c *gin.Context) {
	w, err := h.Websites.FindByShareID(c.Request.Context(), c.Param("shareId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	token, err := utils.GenerateShareJWT(w.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"websiteId": w.ID, "token": token})
}
