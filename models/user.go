package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleViewOnly = "view-only"

	TeamRoleOwner  = "team-owner"
	TeamRoleMember = "team-member"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreateUserRequest struct {
	Username string `json:"username" binding:"required,max=255"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"omitempty,oneof=admin user view-only"`
}

type User struct {
	ID          uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey" json:"id"`
	Username    string     `gorm:"type:varchar(255);not null;uniqueIndex:user_username_key" json:"username"`
	Password    string     `gorm:"type:varchar(60);not null" json:"-"`
	Role        string     `gorm:"type:varchar(50);not null" json:"role"`
	LogoURL     *string    `gorm:"type:varchar(2183)" json:"logoUrl,omitempty"`
	DisplayName *string    `gorm:"type:varchar(255)" json:"displayName,omitempty"`
	CreatedAt   time.Time  `gorm:"precision:6" json:"createdAt"`
	UpdatedAt   *time.Time `gorm:"precision:6" json:"updatedAt,omitempty"`
	DeletedAt   *time.Time `gorm:"precision:6" json:"-"`
}

func (User) TableName() string { return "user" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

type Team struct {
	ID         uuid.UUID  `gorm:"column:team_id;type:uuid;primaryKey" json:"id"`
	Name       string     `gorm:"type:varchar(50);not null" json:"name"`
	AccessCode *string    `gorm:"type:varchar(50);uniqueIndex:team_access_code_key" json:"accessCode,omitempty"`
	LogoURL    *string    `gorm:"type:varchar(2183)" json:"logoUrl,omitempty"`
	CreatedAt  time.Time  `gorm:"precision:6" json:"createdAt"`
	UpdatedAt  *time.Time `gorm:"precision:6" json:"updatedAt,omitempty"`
	DeletedAt  *time.Time `gorm:"precision:6" json:"-"`
}

func (Team) TableName() string { return "team" }

func (t *Team) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type TeamUser struct {
	ID        uuid.UUID  `gorm:"column:team_user_id;type:uuid;primaryKey" json:"id"`
	TeamID    uuid.UUID  `gorm:"type:uuid;not null;index:team_user_team_id_idx" json:"teamId"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index:team_user_user_id_idx" json:"userId"`
	Role      string     `gorm:"type:varchar(50);not null" json:"role"`
	CreatedAt time.Time  `gorm:"precision:6" json:"createdAt"`
	UpdatedAt *time.Time `gorm:"precision:6" json:"updatedAt,omitempty"`
}

func (TeamUser) TableName() string { return "team_user" }

func (t *TeamUser) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
