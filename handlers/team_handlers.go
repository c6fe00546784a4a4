package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"umamicore/api/middleware"
	"umamicore/api/models"
	"umamicore/api/store"
)

type TeamHandlers struct {
	Users *store.UserStore
	log   *zap.Logger
}

func NewTeamHandlers(users *store.UserStore, log *zap.Logger) *TeamHandlers {
	return &TeamHandlers{Users: users, log: log}
}

type createTeamRequest struct {
	Name string `json:"name" binding:"required,max=50"`
}

type addMemberRequest struct {
	UserID uuid.UUID `json:"userId" binding:"required"`
	Role   string    `json:"role" binding:"omitempty,oneof=team-owner team-member"`
}

// Create makes the caller the owner of a new team.
func (h *TeamHandlers) Create(c *gin.Context) {
	p := middleware.Principal(c)
	if p.IsShare() || p.Role == models.RoleViewOnly {
		respondError(c, h.log, fmt.Errorf("%w: principal cannot create teams", models.ErrTenantMismatch))
		return
	}
	var req createTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	team, err := h.Users.CreateTeam(c.Request.Context(), req.Name, p.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.log.Info("team created", zap.String("team_id", team.ID.String()), zap.String("owner", p.UserID.String()))
	c.JSON(http.StatusCreated, team)
}

// AddMember is open to administrators and the team's owners.
func (h *TeamHandlers) AddMember(c *gin.Context) {
	teamID, ok := pathID(c, "teamId")
	if !ok {
		return
	}
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.Role == "" {
		req.Role = models.TeamRoleMember
	}

	ctx := c.Request.Context()
	p := middleware.Principal(c)
	if !p.IsAdmin() {
		role, err := h.Users.TeamRole(ctx, teamID, p.UserID)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		if p.IsShare() || role != models.TeamRoleOwner {
			respondError(c, h.log, fmt.Errorf("%w: team %s", models.ErrTenantMismatch, teamID))
			return
		}
	}
	if _, err := h.Users.GetUser(ctx, req.UserID); err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.Users.AddTeamMember(ctx, teamID, req.UserID, req.Role); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"teamId": teamID, "userId": req.UserID, "role": req.Role})
}
