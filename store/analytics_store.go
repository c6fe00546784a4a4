package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"umamicore/api/database"
	"umamicore/api/models"
	"umamicore/api/utils"
)

// AnalyticsStore mirrors committed events into ClickHouse and serves
// time-bucketed counts from there. Postgres stays the source of truth.
type AnalyticsStore struct {
	DB  *database.ClickHouseClient
	log *zap.Logger
}

func NewAnalyticsStore(chClient *database.ClickHouseClient, log *zap.Logger) *AnalyticsStore {
	return &AnalyticsStore{
		DB:  chClient,
		log: log,
	}
}

// Mirror appends events to the ClickHouse copy in one batch.
func (s *AnalyticsStore) Mirror(ctx context.Context, events []models.WebsiteEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO website_event (
			event_id, website_id, session_id, visit_id, created_at, url_path, url_query,
			referrer_domain, page_title, hostname, event_type, event_name, tag
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.ID,
			event.WebsiteID,
			event.SessionID,
			event.VisitID,
			event.CreatedAt,
			event.URLPath,
			event.URLQuery,
			event.ReferrerDomain,
			event.PageTitle,
			event.Hostname,
			uint32(event.EventType),
			event.EventName,
			event.Tag,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append event %s: %w", event.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.log.Debug("mirrored events to ClickHouse", zap.Int("count", len(events)))
	return nil
}

func eventCountsQuery(unit string, byName bool) (string, error) {
	if !utils.IsValidInterval(unit) {
		return "", fmt.Errorf("%w: invalid unit: %s", models.ErrInvalidInput, unit)
	}
	where := "website_id = ? AND created_at >= ? AND created_at < ?"
	if byName {
		where += " AND event_name = ?"
	}
	return fmt.Sprintf(`
		SELECT toStartOf%s(created_at) AS time_bucket, count() AS total_events
		FROM website_event
		WHERE %s
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, utils.ClickHouseInterval(unit), where), nil
}

// EventCountsOverTime counts events of one website per unit in [start, end),
// optionally for a single event name.
func (s *AnalyticsStore) EventCountsOverTime(ctx context.Context, websiteID uuid.UUID, unit string, start, end time.Time, eventName string) ([]models.EventCount, error) {
	query, err := eventCountsQuery(unit, eventName != "")
	if err != nil {
		return nil, err
	}
	args := []any{websiteID, start, end}
	if eventName != "" {
		args = append(args, eventName)
	}

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []models.EventCount
	for rows.Next() {
		var bucket time.Time
		var count uint64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event counts: %w", err)
		}
		results = append(results, models.EventCount{Time: bucket.UTC(), Count: count})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	return results, nil
}
