package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"umamicore/api/models"
)

// WebsiteStore reads and writes tenants. Lookups return tombstoned rows too;
// the access layer decides who may see them.
type WebsiteStore struct {
	db *gorm.DB
}

func NewWebsiteStore(db *gorm.DB) *WebsiteStore {
	return &WebsiteStore{db: db}
}

func (s *WebsiteStore) Create(ctx context.Context, w *models.Website) error {
	w.Name = models.Truncate(w.Name, models.MaxWebsiteName)
	w.Domain = models.TruncatePtr(w.Domain, models.MaxWebsiteDomain)
	if w.Name == "" {
		return fmt.Errorf("%w: website name is required", models.ErrInvalidInput)
	}
	if (w.UserID == nil) == (w.TeamID == nil) {
		return fmt.Errorf("%w: website needs exactly one owner", models.ErrInvalidInput)
	}
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: share id already in use", models.ErrInvalidInput)
		}
		return wrap("create website", err)
	}
	return nil
}

func (s *WebsiteStore) FindWebsite(ctx context.Context, websiteID uuid.UUID) (*models.Website, error) {
	var w models.Website
	err := s.db.WithContext(ctx).Where("website_id = ?", websiteID).Take(&w).Error
	if err != nil {
		return nil, wrap("find website", err)
	}
	return &w, nil
}

func (s *WebsiteStore) FindByShareID(ctx context.Context, shareID string) (*models.Website, error) {
	var w models.Website
	err := s.db.WithContext(ctx).
		Where("share_id = ? AND deleted_at IS NULL", shareID).
		Take(&w).Error
	if err != nil {
		return nil, wrap("find website by share id", err)
	}
	return &w, nil
}

// ListActive returns the live websites owned by userID or by one of teamIDs.
// all lists every live website regardless of owner.
func (s *WebsiteStore) ListActive(ctx context.Context, userID uuid.UUID, teamIDs []uuid.UUID, all bool) ([]models.Website, error) {
	q := s.db.WithContext(ctx).Where("deleted_at IS NULL")
	if !all {
		if len(teamIDs) > 0 {
			q = q.Where("user_id = ? OR team_id IN ?", userID, teamIDs)
		} else {
			q = q.Where("user_id = ?", userID)
		}
	}
	var sites []models.Website
	if err := q.Order("name ASC, website_id ASC").Find(&sites).Error; err != nil {
		return nil, wrap("list websites", err)
	}
	return sites, nil
}

func (s *WebsiteStore) Update(ctx context.Context, websiteID uuid.UUID, name string, domain *string, shareID *string) error {
	updates := map[string]any{
		"name":       models.Truncate(name, models.MaxWebsiteName),
		"domain":     models.TruncatePtr(domain, models.MaxWebsiteDomain),
		"share_id":   shareID,
		"updated_at": time.Now().UTC().Truncate(time.Microsecond),
	}
	res := s.db.WithContext(ctx).Model(&models.Website{}).
		Where("website_id = ? AND deleted_at IS NULL", websiteID).
		Updates(updates)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("%w: share id already in use", models.ErrInvalidInput)
		}
		return wrap("update website", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: website %s", models.ErrNotFound, websiteID)
	}
	return nil
}

// SoftDelete tombstones the website. Its sessions and events stay in place.
func (s *WebsiteStore) SoftDelete(ctx context.Context, websiteID uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Website{}).
		Where("website_id = ? AND deleted_at IS NULL", websiteID).
		Update("deleted_at", at.UTC().Truncate(time.Microsecond))
	if res.Error != nil {
		return wrap("delete website", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: website %s", models.ErrNotFound, websiteID)
	}
	return nil
}

// Reset hides every event before at from statistics without deleting rows.
func (s *WebsiteStore) Reset(ctx context.Context, websiteID uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Website{}).
		Where("website_id = ? AND deleted_at IS NULL", websiteID).
		Update("reset_at", at.UTC().Truncate(time.Microsecond))
	if res.Error != nil {
		return wrap("reset website", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: website %s", models.ErrNotFound, websiteID)
	}
	return nil
}

func (s *WebsiteStore) Restore(ctx context.Context, websiteID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Website{}).
		Where("website_id = ? AND deleted_at IS NOT NULL", websiteID).
		Update("deleted_at", nil)
	if res.Error != nil {
		return wrap("restore website", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: deleted website %s", models.ErrNotFound, websiteID)
	}
	return nil
}
