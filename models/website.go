package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Website is the tenant. A non-nil DeletedAt is a tombstone: the row stays
// in place and every read path filters on it.
type Website struct {
	ID        uuid.UUID  `gorm:"column:website_id;type:uuid;primaryKey" json:"id"`
	Name      string     `gorm:"type:varchar(100);not null" json:"name"`
	Domain    *string    `gorm:"type:varchar(500)" json:"domain,omitempty"`
	ShareID   *string    `gorm:"type:varchar(50);uniqueIndex:website_share_id_key" json:"shareId,omitempty"`
	ResetAt   *time.Time `gorm:"precision:6" json:"resetAt,omitempty"`
	UserID    *uuid.UUID `gorm:"type:uuid;index:website_user_id_idx" json:"userId,omitempty"`
	TeamID    *uuid.UUID `gorm:"type:uuid;index:website_team_id_idx" json:"teamId,omitempty"`
	CreatedBy *uuid.UUID `gorm:"type:uuid;index:website_created_by_idx" json:"createdBy,omitempty"`
	CreatedAt time.Time  `gorm:"precision:6;index:website_created_at_idx" json:"createdAt"`
	UpdatedAt *time.Time `gorm:"precision:6" json:"updatedAt,omitempty"`
	DeletedAt *time.Time `gorm:"precision:6" json:"deletedAt,omitempty"`
}

func (Website) TableName() string { return "website" }

func (w *Website) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

func (w *Website) Active() bool { return w.DeletedAt == nil }

type CreateWebsiteRequest struct {
	Name   string     `json:"name" binding:"required,max=100"`
	Domain string     `json:"domain" binding:"omitempty,max=500"`
	TeamID *uuid.UUID `json:"teamId"`
	Share  bool       `json:"share"`
}

// Link and Pixel exist so the schema matches the thirteen umami tables.
type Link struct {
	ID        uuid.UUID  `gorm:"column:link_id;type:uuid;primaryKey"`
	Name      string     `gorm:"type:varchar(100);not null"`
	URL       string     `gorm:"column:url;type:varchar(500);not null"`
	Slug      string     `gorm:"type:varchar(100);not null;uniqueIndex:link_slug_key"`
	UserID    *uuid.UUID `gorm:"type:uuid;index:link_user_id_idx"`
	TeamID    *uuid.UUID `gorm:"type:uuid;index:link_team_id_idx"`
	CreatedAt time.Time  `gorm:"precision:6"`
	UpdatedAt *time.Time `gorm:"precision:6"`
	DeletedAt *time.Time `gorm:"precision:6"`
}

func (Link) TableName() string { return "link" }

type Pixel struct {
	ID        uuid.UUID  `gorm:"column:pixel_id;type:uuid;primaryKey"`
	Name      string     `gorm:"type:varchar(100);not null"`
	Slug      string     `gorm:"type:varchar(100);not null;uniqueIndex:pixel_slug_key"`
	UserID    *uuid.UUID `gorm:"type:uuid;index:pixel_user_id_idx"`
	TeamID    *uuid.UUID `gorm:"type:uuid;index:pixel_team_id_idx"`
	CreatedAt time.Time  `gorm:"precision:6"`
	UpdatedAt *time.Time `gorm:"precision:6"`
	DeletedAt *time.Time `gorm:"precision:6"`
}

func (Pixel) TableName() string { return "pixel" }
