// Package stats computes summaries, time series, breakdowns and revenue
// totals over the events of one website.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"umamicore/api/access"
	"umamicore/api/config"
	"umamicore/api/models"
	"umamicore/api/store"
	"umamicore/api/utils"
)

const (
	DefaultLimit = 10
	MaxLimit     = 500

	maxBuckets = 10000
	// scanCheckEvery is how many streamed rows pass between context checks.
	scanCheckEvery = 512
)

// Query is one read against a website. Start is inclusive, End exclusive.
type Query struct {
	Start     time.Time
	End       time.Time
	Unit      string
	Dimension string
	Filters   []Filter
	SortBy    string
	Order     string
	Limit     int
	Currency  string
}

type Engine struct {
	db     *gorm.DB
	cfg    config.StatsConfig
	chunks *cache.Cache
	now    func() time.Time
	log    *zap.Logger
}

func NewEngine(db *gorm.DB, cfg config.StatsConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 24 * time.Hour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Engine{
		db:     db,
		cfg:    cfg,
		chunks: cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		now:    time.Now,
		log:    log,
	}
}

// Now is the engine's clock, used as the default asOf for saved reports.
func (e *Engine) Now() time.Time { return e.now().UTC() }

func (e *Engine) dialect() string {
	return e.db.Dialector.Name()
}

func (e *Engine) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if e.cfg.QueryTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
		return e.db.WithContext(ctx), cancel
	}
	return e.db.WithContext(ctx), func() {}
}

// window checks the scope and the range and clamps start to the website's
// reset point. ok is false when nothing of the range survives the clamp.
func window(scope access.Scope, start, end time.Time) (time.Time, time.Time, bool, error) {
	if err := scope.Check(); err != nil {
		return start, end, false, err
	}
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return start, end, false, fmt.Errorf("%w: time range must have start before end", models.ErrInvalidInput)
	}
	start, end = start.UTC(), end.UTC()
	if reset := scope.ResetAt(); !reset.IsZero() && reset.After(start) {
		start = reset.UTC()
	}
	return start, end, start.Before(end), nil
}

func readErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case store.IsTransient(err):
		return fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Summary returns pageviews, unique sessions, visits, single-pageview
// visits and the summed visit duration in seconds.
func (e *Engine) Summary(ctx context.Context, scope access.Scope, q Query) (models.Summary, error) {
	var out models.Summary
	start, end, ok, err := window(scope, q.Start, q.End)
	if err != nil || !ok {
		return out, err
	}

	b := newBuilder(e.dialect(), scope.WebsiteID(), start, end)
	b.and("e.event_type = ?", models.EventTypePageView)
	if err := b.filters(q.Filters); err != nil {
		return out, err
	}
	from, args := b.from()
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(t.c), 0) AS pageviews,
			COUNT(DISTINCT t.session_id) AS visitors,
			COUNT(*) AS visits,
			COALESCE(SUM(CASE WHEN t.c = 1 THEN 1 ELSE 0 END), 0) AS bounces,
			COALESCE(SUM(t.duration), 0) AS total_time
		FROM (
			SELECT e.session_id, e.visit_id, COUNT(*) AS c, %s AS duration
			%s
			GROUP BY e.session_id, e.visit_id
		) t`, durationExpr(b.dialect), from)

	db, cancel := e.session(ctx)
	defer cancel()
	if err := db.Raw(query, args...).Scan(&out).Error; err != nil {
		return models.Summary{}, readErr("summary", err)
	}
	return out, nil
}

func truncateUnit(t time.Time, unit string) time.Time {
	t = t.UTC()
	switch unit {
	case "minute":
		return t.Truncate(time.Minute)
	case "hour":
		return t.Truncate(time.Hour)
	case "day":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
}

func nextUnit(t time.Time, unit string) time.Time {
	switch unit {
	case "minute":
		return t.Add(time.Minute)
	case "hour":
		return t.Add(time.Hour)
	case "day":
		return t.AddDate(0, 0, 1)
	case "month":
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(1, 0, 0)
}

type seriesRow struct {
	T        string `gorm:"column:t"`
	Y        int64  `gorm:"column:y"`
	Visitors int64  `gorm:"column:visitors"`
}

// Series counts pageviews and unique sessions per UTC bucket of q.Unit.
// Buckets without traffic are returned with zero counts.
func (e *Engine) Series(ctx context.Context, scope access.Scope, q Query) ([]models.SeriesPoint, error) {
	if !utils.IsValidInterval(q.Unit) {
		return nil, fmt.Errorf("%w: invalid unit %q", models.ErrInvalidInput, q.Unit)
	}
	start, end, ok, err := window(scope, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.SeriesPoint{}, nil
	}

	var points []models.SeriesPoint
	for t := truncateUnit(start, q.Unit); t.Before(end); t = nextUnit(t, q.Unit) {
		if len(points) == maxBuckets {
			return nil, fmt.Errorf("%w: range holds more than %d %s buckets", models.ErrInvalidInput, maxBuckets, q.Unit)
		}
		points = append(points, models.SeriesPoint{Time: t})
	}

	b := newBuilder(e.dialect(), scope.WebsiteID(), start, end)
	b.and("e.event_type = ?", models.EventTypePageView)
	if err := b.filters(q.Filters); err != nil {
		return nil, err
	}
	from, args := b.from()
	bucket := bucketExpr(b.dialect, q.Unit)
	query := fmt.Sprintf(`
		SELECT %[1]s AS t, COUNT(*) AS y, COUNT(DISTINCT e.session_id) AS visitors
		%[2]s
		GROUP BY %[1]s
		ORDER BY %[1]s`, bucket, from)

	db, cancel := e.session(ctx)
	defer cancel()
	var rows []seriesRow
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, readErr("series", err)
	}

	index := make(map[int64]int, len(points))
	for i, p := range points {
		index[p.Time.Unix()] = i
	}
	for _, r := range rows {
		t, err := time.Parse(time.RFC3339, r.T)
		if err != nil {
			return nil, fmt.Errorf("series bucket %q: %w", r.T, err)
		}
		if i, ok := index[t.Unix()]; ok {
			points[i].Pageviews = r.Y
			points[i].Visitors = r.Visitors
		}
	}
	return points, nil
}

// active reports whether the website still exists outside the trash.
func (e *Engine) active(db *gorm.DB, scope access.Scope) (bool, error) {
	var n int64
	err := db.Model(&models.Website{}).
		Where("website_id = ? AND deleted_at IS NULL", scope.WebsiteID()).
		Count(&n).Error
	return n > 0, err
}
