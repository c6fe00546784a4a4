package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"umamicore/api/models"
)

// AttributeStore reads event_data and session_data. Writes go through
// EventStore so attributes commit with their event.
type AttributeStore struct {
	db *gorm.DB
}

func NewAttributeStore(db *gorm.DB) *AttributeStore {
	return &AttributeStore{db: db}
}

type AttributeKey struct {
	Key      string          `gorm:"column:data_key" json:"key"`
	DataType models.DataType `gorm:"column:data_type" json:"dataType"`
	Count    int64           `gorm:"column:total" json:"total"`
}

func (s *AttributeStore) EventAttributes(ctx context.Context, websiteID, eventID uuid.UUID) (models.Attributes, error) {
	var rows []models.EventData
	err := s.db.WithContext(ctx).
		Where("website_id = ? AND website_event_id = ?", websiteID, eventID).
		Order("data_key, created_at, event_data_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("event attributes", err)
	}
	return models.EventAttributes(rows), nil
}

// SessionAttributes returns the session's identify attributes recorded at or
// after since. A zero since returns all of them.
func (s *AttributeStore) SessionAttributes(ctx context.Context, websiteID, sessionID uuid.UUID, since time.Time) (models.Attributes, error) {
	var rows []models.SessionData
	tx := s.db.WithContext(ctx).Where("website_id = ? AND session_id = ?", websiteID, sessionID)
	if !since.IsZero() {
		tx = tx.Where("created_at >= ?", since)
	}
	err := tx.
		Order("data_key, created_at, session_data_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("session attributes", err)
	}
	return models.SessionAttributes(rows), nil
}

// EventKeys lists the attribute keys recorded for websiteID in [start, end),
// most used first.
func (s *AttributeStore) EventKeys(ctx context.Context, websiteID uuid.UUID, start, end time.Time) ([]AttributeKey, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: empty time range", models.ErrInvalidInput)
	}
	var keys []AttributeKey
	err := s.db.WithContext(ctx).
		Model(&models.EventData{}).
		Select("data_key, data_type, COUNT(*) AS total").
		Where("website_id = ? AND created_at >= ? AND created_at < ?", websiteID, start, end).
		Group("data_key, data_type").
		Order("total DESC, data_key ASC, data_type ASC").
		Scan(&keys).Error
	if err != nil {
		return nil, wrap("attribute keys", err)
	}
	return keys, nil
}
