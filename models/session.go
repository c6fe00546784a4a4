package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one visitor's browsing window on one website. The client
// attributes are captured when the row is created and never updated;
// LastActivityAt only moves forward and drives the rolling window.
type Session struct {
	ID             uuid.UUID `gorm:"column:session_id;type:uuid;primaryKey" json:"id"`
	WebsiteID      uuid.UUID `gorm:"type:uuid;not null" json:"websiteId"`
	Fingerprint    string    `gorm:"type:varchar(128);not null" json:"-"`
	WindowSeq      int64     `gorm:"not null" json:"-"`
	Browser        *string   `gorm:"type:varchar(20)" json:"browser,omitempty"`
	OS             *string   `gorm:"column:os;type:varchar(20)" json:"os,omitempty"`
	Device         *string   `gorm:"type:varchar(20)" json:"device,omitempty"`
	Screen         *string   `gorm:"type:varchar(11)" json:"screen,omitempty"`
	Language       *string   `gorm:"type:varchar(35)" json:"language,omitempty"`
	Country        *string   `gorm:"type:char(2)" json:"country,omitempty"`
	Region         *string   `gorm:"type:varchar(20)" json:"region,omitempty"`
	City           *string   `gorm:"type:varchar(50)" json:"city,omitempty"`
	DistinctID     *string   `gorm:"type:varchar(50)" json:"distinctId,omitempty"`
	CreatedAt      time.Time `gorm:"precision:6" json:"createdAt"`
	LastActivityAt time.Time `gorm:"precision:6;not null" json:"lastActivityAt"`
}

func (Session) TableName() string { return "session" }

// ClientInfo holds the attributes derived from a hit's request context.
type ClientInfo struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	Device     string `json:"device"`
	Screen     string `json:"screen"`
	Language   string `json:"language"`
	Country    string `json:"country"`
	Region     string `json:"region"`
	City       string `json:"city"`
	DistinctID string `json:"distinctId"`
}

func optional(s string, n int) *string {
	if s == "" {
		return nil
	}
	t := Truncate(s, n)
	return &t
}

// Apply copies the client attributes onto a new session row, cut to the
// column bounds.
func (c ClientInfo) Apply(s *Session) {
	s.Browser = optional(c.Browser, MaxClientField)
	s.OS = optional(c.OS, MaxClientField)
	s.Device = optional(c.Device, MaxClientField)
	s.Screen = optional(c.Screen, MaxScreen)
	s.Language = optional(c.Language, MaxLanguage)
	s.Country = optional(c.Country, MaxCountry)
	s.Region = optional(c.Region, MaxRegion)
	s.City = optional(c.City, MaxCity)
	s.DistinctID = optional(c.DistinctID, MaxDistinctID)
}
