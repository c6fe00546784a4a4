package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePageView    = 1
	EventTypeCustomEvent = 2
)

// WebsiteEvent is one pageview or custom event.
type WebsiteEvent struct {
	ID             uuid.UUID `gorm:"column:event_id;type:uuid;primaryKey" json:"id"`
	WebsiteID      uuid.UUID `gorm:"type:uuid;not null" json:"websiteId"`
	SessionID      uuid.UUID `gorm:"type:uuid;not null" json:"sessionId"`
	VisitID        uuid.UUID `gorm:"type:uuid;not null" json:"visitId"`
	CreatedAt      time.Time `gorm:"precision:6" json:"createdAt"`
	URLPath        string    `gorm:"column:url_path;type:varchar(500);not null" json:"urlPath"`
	URLQuery       *string   `gorm:"column:url_query;type:varchar(500)" json:"urlQuery,omitempty"`
	UTMSource      *string   `gorm:"column:utm_source;type:varchar(255)" json:"utmSource,omitempty"`
	UTMMedium      *string   `gorm:"column:utm_medium;type:varchar(255)" json:"utmMedium,omitempty"`
	UTMCampaign    *string   `gorm:"column:utm_campaign;type:varchar(255)" json:"utmCampaign,omitempty"`
	UTMContent     *string   `gorm:"column:utm_content;type:varchar(255)" json:"utmContent,omitempty"`
	UTMTerm        *string   `gorm:"column:utm_term;type:varchar(255)" json:"utmTerm,omitempty"`
	ReferrerPath   *string   `gorm:"type:varchar(500)" json:"referrerPath,omitempty"`
	ReferrerQuery  *string   `gorm:"type:varchar(500)" json:"referrerQuery,omitempty"`
	ReferrerDomain *string   `gorm:"type:varchar(500)" json:"referrerDomain,omitempty"`
	PageTitle      *string   `gorm:"type:varchar(500)" json:"pageTitle,omitempty"`
	Gclid          *string   `gorm:"type:varchar(255)" json:"gclid,omitempty"`
	Fbclid         *string   `gorm:"type:varchar(255)" json:"fbclid,omitempty"`
	Msclkid        *string   `gorm:"type:varchar(255)" json:"msclkid,omitempty"`
	Ttclid         *string   `gorm:"type:varchar(255)" json:"ttclid,omitempty"`
	LiFatID        *string   `gorm:"column:li_fat_id;type:varchar(255)" json:"liFatId,omitempty"`
	Twclid         *string   `gorm:"type:varchar(255)" json:"twclid,omitempty"`
	EventType      int       `gorm:"not null;default:1" json:"eventType"`
	EventName      *string   `gorm:"type:varchar(50)" json:"eventName,omitempty"`
	Tag            *string   `gorm:"type:varchar(50)" json:"tag,omitempty"`
	Hostname       *string   `gorm:"type:varchar(100)" json:"hostname,omitempty"`
}

func (WebsiteEvent) TableName() string { return "website_event" }

// Clamp cuts every text column to its bound.
func (e *WebsiteEvent) Clamp() {
	e.URLPath = Truncate(e.URLPath, MaxURLLength)
	e.URLQuery = TruncatePtr(e.URLQuery, MaxURLLength)
	e.ReferrerPath = TruncatePtr(e.ReferrerPath, MaxURLLength)
	e.ReferrerQuery = TruncatePtr(e.ReferrerQuery, MaxURLLength)
	e.ReferrerDomain = TruncatePtr(e.ReferrerDomain, MaxURLLength)
	e.PageTitle = TruncatePtr(e.PageTitle, MaxTitleLength)
	for _, f := range []**string{&e.UTMSource, &e.UTMMedium, &e.UTMCampaign, &e.UTMContent, &e.UTMTerm} {
		*f = TruncatePtr(*f, MaxUTMLength)
	}
	for _, f := range []**string{&e.Gclid, &e.Fbclid, &e.Msclkid, &e.Ttclid, &e.LiFatID, &e.Twclid} {
		*f = TruncatePtr(*f, MaxClickIDLength)
	}
	e.EventName = TruncatePtr(e.EventName, MaxEventName)
	e.Tag = TruncatePtr(e.Tag, MaxTagLength)
	e.Hostname = TruncatePtr(e.Hostname, MaxHostname)
}

// StoredEvent is an event read back together with its attributes.
type StoredEvent struct {
	Event   WebsiteEvent `json:"event"`
	Data    []EventData  `json:"data"`
	Revenue *Revenue     `json:"revenue,omitempty"`
}

type EventCount struct {
	Time  time.Time `json:"time"`
	Count uint64    `json:"count"`
}
