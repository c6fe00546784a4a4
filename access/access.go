// Package access owns the tenant boundary. Every read and write of website
// data needs a Scope, and only a Guard can mint one.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"umamicore/api/metrics"
	"umamicore/api/models"
)

type Permission int

const (
	PermView Permission = iota
	PermManage
)

func (p Permission) String() string {
	if p == PermManage {
		return "manage"
	}
	return "view"
}

// Principal is the authenticated caller. Share tokens carry ShareWebsiteID
// and no user.
type Principal struct {
	UserID         uuid.UUID
	Username       string
	Role           string
	ShareWebsiteID uuid.UUID
}

func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin && p.ShareWebsiteID == uuid.Nil }
func (p Principal) IsShare() bool { return p.ShareWebsiteID != uuid.Nil }

// Scope is proof that the holder may touch one website. The zero value is
// not valid and every consumer rejects it.
type Scope struct {
	websiteID uuid.UUID
	resetAt   time.Time
	readOnly  bool
	valid     bool
}

func newScope(w *models.Website, readOnly bool) Scope {
	s := Scope{websiteID: w.ID, readOnly: readOnly, valid: true}
	if w.ResetAt != nil {
		s.resetAt = w.ResetAt.UTC()
	}
	return s
}

func (s Scope) WebsiteID() uuid.UUID { return s.websiteID }
func (s Scope) ReadOnly() bool       { return s.readOnly }
func (s Scope) Valid() bool          { return s.valid }

// ResetAt is the website's statistics reset instant, zero when never reset.
func (s Scope) ResetAt() time.Time { return s.resetAt }

// Check returns ErrTenantMismatch for a scope not minted by a Guard.
func (s Scope) Check() error {
	if !s.valid || s.websiteID == uuid.Nil {
		return fmt.Errorf("%w: missing website scope", models.ErrTenantMismatch)
	}
	return nil
}

type websiteFinder interface {
	FindWebsite(ctx context.Context, websiteID uuid.UUID) (*models.Website, error)
}

type teamFinder interface {
	TeamRole(ctx context.Context, teamID, userID uuid.UUID) (string, error)
}

type Guard struct {
	websites  websiteFinder
	teams     teamFinder
	cache     *cache.Cache
	retention time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewGuard(websites websiteFinder, teams teamFinder, retention, cacheTTL time.Duration, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{
		websites:  websites,
		teams:     teams,
		cache:     cache.New(cacheTTL, 2*cacheTTL),
		retention: retention,
		now:       time.Now,
		log:       log,
	}
}

// website loads a tenant row, tombstoned or not, through the cache.
func (g *Guard) website(ctx context.Context, websiteID uuid.UUID) (*models.Website, error) {
	key := websiteID.String()
	if v, ok := g.cache.Get(key); ok {
		w := v.(models.Website)
		return &w, nil
	}
	w, err := g.websites.FindWebsite(ctx, websiteID)
	if err != nil {
		return nil, err
	}
	g.cache.Set(key, *w, cache.DefaultExpiration)
	return w, nil
}

// Invalidate drops a cached website after delete, reset or restore.
func (g *Guard) Invalidate(websiteID uuid.UUID) {
	g.cache.Delete(websiteID.String())
}

func (g *Guard) deny(p Principal, websiteID uuid.UUID, perm Permission, reason string) error {
	metrics.TenantMismatches.Inc()
	g.log.Warn("cross-tenant access denied",
		zap.String("event", "tenant_mismatch"),
		zap.String("user_id", p.UserID.String()),
		zap.String("share_website_id", p.ShareWebsiteID.String()),
		zap.String("website_id", websiteID.String()),
		zap.String("permission", perm.String()),
		zap.String("reason", reason),
	)
	return fmt.Errorf("%w: website %s", models.ErrTenantMismatch, websiteID)
}

// Authorize checks that p may use websiteID with perm. Tombstoned websites
// are reported as not found.
func (g *Guard) Authorize(ctx context.Context, p Principal, websiteID uuid.UUID, perm Permission) (Scope, error) {
	w, err := g.website(ctx, websiteID)
	if err != nil {
		return Scope{}, err
	}
	if !w.Active() {
		return Scope{}, fmt.Errorf("%w: website %s", models.ErrNotFound, websiteID)
	}

	switch {
	case p.IsShare():
		if p.ShareWebsiteID != websiteID {
			return Scope{}, g.deny(p, websiteID, perm, "share token for another website")
		}
		if perm != PermView {
			return Scope{}, g.deny(p, websiteID, perm, "share tokens are read-only")
		}
		return newScope(w, true), nil
	case p.UserID == uuid.Nil:
		return Scope{}, g.deny(p, websiteID, perm, "anonymous principal")
	case p.IsAdmin():
		return newScope(w, false), nil
	}

	readOnly := p.Role == models.RoleViewOnly
	if readOnly && perm != PermView {
		return Scope{}, g.deny(p, websiteID, perm, "view-only role")
	}

	if w.UserID != nil && *w.UserID == p.UserID {
		return newScope(w, readOnly), nil
	}
	if w.TeamID != nil {
		role, err := g.teams.TeamRole(ctx, *w.TeamID, p.UserID)
		if err != nil {
			return Scope{}, err
		}
		switch {
		case role == models.TeamRoleOwner:
			return newScope(w, readOnly), nil
		case role != "" && perm == PermView:
			return newScope(w, true), nil
		case role != "":
			return Scope{}, g.deny(p, websiteID, perm, "team role cannot manage")
		}
	}
	return Scope{}, g.deny(p, websiteID, perm, "not owner or team member")
}

// IngestScope admits anonymous collection for an active website.
func (g *Guard) IngestScope(ctx context.Context, websiteID uuid.UUID) (Scope, error) {
	if websiteID == uuid.Nil {
		return Scope{}, fmt.Errorf("%w: website id is required", models.ErrInvalidInput)
	}
	w, err := g.website(ctx, websiteID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Scope{}, fmt.Errorf("%w: website %s", models.ErrNotFound, websiteID)
		}
		return Scope{}, err
	}
	if !w.Active() {
		return Scope{}, fmt.Errorf("%w: website %s", models.ErrNotFound, websiteID)
	}
	return newScope(w, false), nil
}

// AuthorizeRecovery lets an administrator address a tombstoned website
// within the retention window, for example to restore it.
func (g *Guard) AuthorizeRecovery(ctx context.Context, p Principal, websiteID uuid.UUID) (Scope, error) {
	if !p.IsAdmin() {
		return Scope{}, g.deny(p, websiteID, PermManage, "recovery needs an administrator")
	}
	g.Invalidate(websiteID)
	w, err := g.website(ctx, websiteID)
	if err != nil {
		return Scope{}, err
	}
	if w.Active() {
		return newScope(w, false), nil
	}
	if g.now().Sub(*w.DeletedAt) > g.retention {
		return Scope{}, fmt.Errorf("%w: website %s is past its retention window", models.ErrNotFound, websiteID)
	}
	return newScope(w, false), nil
}

// CanCreate checks that p may create a website, for a team when teamID is
// set.
func (g *Guard) CanCreate(ctx context.Context, p Principal, teamID *uuid.UUID) error {
	if p.IsShare() || p.UserID == uuid.Nil || p.Role == models.RoleViewOnly {
		return g.deny(p, uuid.Nil, PermManage, "principal cannot create websites")
	}
	if teamID == nil || p.IsAdmin() {
		return nil
	}
	role, err := g.teams.TeamRole(ctx, *teamID, p.UserID)
	if err != nil {
		return err
	}
	if role != models.TeamRoleOwner {
		return g.deny(p, uuid.Nil, PermManage, "not a team owner")
	}
	return nil
}
