package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Report is a saved query definition scoped to one website.
type Report struct {
	ID          uuid.UUID      `gorm:"column:report_id;type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index:report_user_id_idx" json:"userId"`
	WebsiteID   uuid.UUID      `gorm:"type:uuid;not null;index:report_website_id_idx" json:"websiteId"`
	Type        string         `gorm:"type:varchar(50);not null;index:report_type_idx" json:"type"`
	Name        string         `gorm:"type:varchar(200);not null;index:report_name_idx" json:"name"`
	Description string         `gorm:"type:varchar(500);not null" json:"description"`
	Parameters  datatypes.JSON `gorm:"not null" json:"parameters"`
	CreatedAt   time.Time      `gorm:"precision:6" json:"createdAt"`
	UpdatedAt   *time.Time     `gorm:"precision:6" json:"updatedAt,omitempty"`
}

func (Report) TableName() string { return "report" }

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Segment is a saved filter set, also scoped to one website.
type Segment struct {
	ID         uuid.UUID      `gorm:"column:segment_id;type:uuid;primaryKey" json:"id"`
	WebsiteID  uuid.UUID      `gorm:"type:uuid;not null;index:segment_website_id_idx" json:"websiteId"`
	Type       string         `gorm:"type:varchar(50);not null" json:"type"`
	Name       string         `gorm:"type:varchar(200);not null" json:"name"`
	Parameters datatypes.JSON `gorm:"not null" json:"parameters"`
	CreatedAt  time.Time      `gorm:"precision:6" json:"createdAt"`
	UpdatedAt  *time.Time     `gorm:"precision:6" json:"updatedAt,omitempty"`
}

func (Segment) TableName() string { return "segment" }

func (s *Segment) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type SaveReportRequest struct {
	Type        string         `json:"type" binding:"required,oneof=summary series breakdown revenue"`
	Name        string         `json:"name" binding:"required,max=200"`
	Description string         `json:"description" binding:"max=500"`
	Parameters  datatypes.JSON `json:"parameters" binding:"required"`
}

type SaveSegmentRequest struct {
	Type       string         `json:"type" binding:"omitempty,oneof=segment cohort"`
	Name       string         `json:"name" binding:"required,max=200"`
	Parameters datatypes.JSON `json:"parameters" binding:"required"`
}
