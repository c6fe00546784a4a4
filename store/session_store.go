package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"umamicore/api/models"
)

type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Latest returns the session with the highest window sequence for the
// fingerprint, or nil when the fingerprint has never been seen.
func (s *SessionStore) Latest(ctx context.Context, websiteID uuid.UUID, fingerprint string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("website_id = ? AND fingerprint = ?", websiteID, fingerprint).
		Order("window_seq DESC").
		Limit(1).
		Take(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("latest session", err)
	}
	return &sess, nil
}

// Covering returns the session whose rolling window
// [created_at-window, last_activity_at+window] contains at, preferring the
// most recently active one, or nil when no window covers at.
func (s *SessionStore) Covering(ctx context.Context, websiteID uuid.UUID, fingerprint string, at time.Time, window time.Duration) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("website_id = ? AND fingerprint = ?", websiteID, fingerprint).
		Where("created_at <= ? AND last_activity_at >= ?", at.Add(window), at.Add(-window)).
		Order("last_activity_at DESC, window_seq DESC").
		Limit(1).
		Take(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("covering session", err)
	}
	return &sess, nil
}

// InsertIfAbsent inserts sess unless a row with the same
// (website_id, fingerprint, window_seq) already exists. It reports whether
// this call created the row.
func (s *SessionStore) InsertIfAbsent(ctx context.Context, sess *models.Session) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(sess)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, wrap("insert session", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *SessionStore) FindBySeq(ctx context.Context, websiteID uuid.UUID, fingerprint string, seq int64) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("website_id = ? AND fingerprint = ? AND window_seq = ?", websiteID, fingerprint, seq).
		Take(&sess).Error
	if err != nil {
		return nil, wrap("find session by window", err)
	}
	return &sess, nil
}

func (s *SessionStore) Find(ctx context.Context, websiteID, sessionID uuid.UUID) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("website_id = ? AND session_id = ?", websiteID, sessionID).
		Take(&sess).Error
	if err != nil {
		return nil, wrap("find session", err)
	}
	return &sess, nil
}

// Touch moves last_activity_at forward to at. It never moves it back, so
// concurrent hits may apply in any order.
func (s *SessionStore) Touch(ctx context.Context, websiteID, sessionID uuid.UUID, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("website_id = ? AND session_id = ? AND last_activity_at < ?", websiteID, sessionID, at).
		Update("last_activity_at", at).Error
	return wrap("touch session", err)
}
