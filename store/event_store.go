package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"umamicore/api/models"
)

type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// WriteEvent persists an event, its attributes and its optional revenue row
// in one transaction. Every row must belong to websiteID and the event's
// session must too; otherwise nothing is written.
func (s *EventStore) WriteEvent(ctx context.Context, websiteID uuid.UUID, ev *models.WebsiteEvent, data []models.EventData, rev *models.Revenue) error {
	if ev.WebsiteID != websiteID {
		return fmt.Errorf("%w: event for website %s written under %s", models.ErrTenantMismatch, ev.WebsiteID, websiteID)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	for i := range data {
		if data[i].WebsiteID != websiteID || data[i].WebsiteEventID != ev.ID {
			return fmt.Errorf("%w: attribute %q does not belong to event %s", models.ErrTenantMismatch, data[i].DataKey, ev.ID)
		}
		if err := data[i].Typed().Validate(); err != nil {
			return fmt.Errorf("attribute %q: %w", data[i].DataKey, err)
		}
	}
	if rev != nil && (rev.WebsiteID != websiteID || rev.EventID != ev.ID || rev.SessionID != ev.SessionID) {
		return fmt.Errorf("%w: revenue does not belong to event %s", models.ErrTenantMismatch, ev.ID)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned int64
		if err := tx.Model(&models.Session{}).
			Where("session_id = ? AND website_id = ?", ev.SessionID, websiteID).
			Count(&owned).Error; err != nil {
			return err
		}
		if owned == 0 {
			return fmt.Errorf("%w: session %s is not part of website %s", models.ErrTenantMismatch, ev.SessionID, websiteID)
		}
		if err := tx.Create(ev).Error; err != nil {
			return err
		}
		if len(data) > 0 {
			if err := tx.Create(&data).Error; err != nil {
				return err
			}
		}
		if rev != nil {
			if err := tx.Create(rev).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && isUniqueViolation(err) && s.committed(ctx, websiteID, ev.ID) {
		// An earlier attempt of this unit committed before its
		// acknowledgement was lost.
		return nil
	}
	return wrap("write event", err)
}

func (s *EventStore) committed(ctx context.Context, websiteID, eventID uuid.UUID) bool {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WebsiteEvent{}).
		Where("website_id = ? AND event_id = ?", websiteID, eventID).
		Count(&n).Error
	return err == nil && n == 1
}

// WriteSessionData appends attributes to a session of websiteID.
func (s *EventStore) WriteSessionData(ctx context.Context, websiteID uuid.UUID, rows []models.SessionData) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].WebsiteID != websiteID {
			return fmt.Errorf("%w: session attribute %q written under %s", models.ErrTenantMismatch, rows[i].DataKey, websiteID)
		}
		if err := rows[i].Typed().Validate(); err != nil {
			return fmt.Errorf("session attribute %q: %w", rows[i].DataKey, err)
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned int64
		ids := map[uuid.UUID]struct{}{}
		for _, r := range rows {
			ids[r.SessionID] = struct{}{}
		}
		list := make([]uuid.UUID, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		if err := tx.Model(&models.Session{}).
			Where("website_id = ? AND session_id IN ?", websiteID, list).
			Count(&owned).Error; err != nil {
			return err
		}
		if int(owned) != len(list) {
			return fmt.Errorf("%w: session attributes reference sessions outside website %s", models.ErrTenantMismatch, websiteID)
		}
		return tx.Create(&rows).Error
	})
	return wrap("write session data", err)
}

// FindEvent reads an event with its attributes and revenue from a single
// snapshot, so a reader never observes one without the other.
func (s *EventStore) FindEvent(ctx context.Context, websiteID, eventID uuid.UUID) (*models.StoredEvent, error) {
	var out models.StoredEvent
	read := func(tx *gorm.DB) error {
		if err := tx.Where("website_id = ? AND event_id = ?", websiteID, eventID).Take(&out.Event).Error; err != nil {
			return err
		}
		if err := tx.Where("website_id = ? AND website_event_id = ?", websiteID, eventID).
			Order("data_key, event_data_id").Find(&out.Data).Error; err != nil {
			return err
		}
		var revs []models.Revenue
		if err := tx.Where("website_id = ? AND event_id = ?", websiteID, eventID).Limit(1).Find(&revs).Error; err != nil {
			return err
		}
		if len(revs) == 1 {
			out.Revenue = &revs[0]
		}
		return nil
	}

	var opts []*sql.TxOptions
	if s.db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	if err := s.db.WithContext(ctx).Transaction(read, opts...); err != nil {
		return nil, wrap("find event", err)
	}
	return &out, nil
}
