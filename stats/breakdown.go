package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"umamicore/api/access"
	"umamicore/api/metrics"
	"umamicore/api/models"
)

type sortSpec struct {
	byVisitors bool
	asc        bool
	limit      int
}

func parseSort(q Query) (sortSpec, error) {
	var s sortSpec
	switch q.SortBy {
	case "", "count":
	case "visitors":
		s.byVisitors = true
	default:
		return s, fmt.Errorf("%w: unknown sort key %q", models.ErrInvalidInput, q.SortBy)
	}
	switch q.Order {
	case "", "desc":
	case "asc":
		s.asc = true
	default:
		return s, fmt.Errorf("%w: unknown sort order %q", models.ErrInvalidInput, q.Order)
	}
	switch {
	case q.Limit < 0:
		return s, fmt.Errorf("%w: negative limit", models.ErrInvalidInput)
	case q.Limit == 0:
		s.limit = DefaultLimit
	case q.Limit > MaxLimit:
		s.limit = MaxLimit
	default:
		s.limit = q.Limit
	}
	return s, nil
}

func (s sortSpec) orderBy(b *builder, value string) string {
	metric, dir := "y", "DESC"
	if s.byVisitors {
		metric = "visitors"
	}
	if s.asc {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, %s ASC", metric, dir, b.collate(value))
}

func (s sortSpec) less(a, b models.BreakdownRow) bool {
	x, y := a.Count, b.Count
	if s.byVisitors {
		x, y = a.Visitors, b.Visitors
	}
	if x != y {
		if s.asc {
			return x < y
		}
		return x > y
	}
	return a.Value < b.Value
}

// apply orders rows and cuts them to the limit. Ties always fall back to
// the value in byte order so every plan returns the same rows.
func (s sortSpec) apply(rows []models.BreakdownRow) []models.BreakdownRow {
	sort.SliceStable(rows, func(i, j int) bool { return s.less(rows[i], rows[j]) })
	if len(rows) > s.limit {
		rows = rows[:s.limit]
	}
	return rows
}

type tally struct {
	count    int64
	sessions map[string]struct{}
}

// partial holds per-value counts and the distinct sessions behind them, so
// partials over disjoint ranges merge into the exact total.
type partial map[string]*tally

func (p partial) add(value, session string, n int64) {
	t, ok := p[value]
	if !ok {
		t = &tally{sessions: map[string]struct{}{}}
		p[value] = t
	}
	t.count += n
	t.sessions[session] = struct{}{}
}

func (p partial) merge(other partial) {
	for value, t := range other {
		for sid := range t.sessions {
			p.add(value, sid, 0)
		}
		p[value].count += t.count
	}
}

func (p partial) rows() []models.BreakdownRow {
	out := make([]models.BreakdownRow, 0, len(p))
	for value, t := range p {
		out = append(out, models.BreakdownRow{Value: value, Count: t.count, Visitors: int64(len(t.sessions))})
	}
	return out
}

type breakdownRow struct {
	X        string `gorm:"column:x"`
	Y        int64  `gorm:"column:y"`
	Visitors int64  `gorm:"column:visitors"`
}

type prepared struct {
	dim   dimension
	sort  sortSpec
	start time.Time
	end   time.Time
	ok    bool
}

func prepareBreakdown(scope access.Scope, q Query) (prepared, error) {
	var p prepared
	dim, err := parseDimension(q.Dimension)
	if err != nil {
		return p, err
	}
	spec, err := parseSort(q)
	if err != nil {
		return p, err
	}
	start, end, ok, err := window(scope, q.Start, q.End)
	if err != nil {
		return p, err
	}
	return prepared{dim: dim, sort: spec, start: start, end: end, ok: ok}, nil
}

func (e *Engine) grouped(scope access.Scope, p prepared, filters []Filter, start, end time.Time) (*builder, string, error) {
	b := newBuilder(e.dialect(), scope.WebsiteID(), start, end)
	value := b.group(p.dim)
	if err := b.filters(filters); err != nil {
		return nil, "", err
	}
	return b, value, nil
}

// Breakdown groups the range by q.Dimension. Plan names the indexes the
// query enters through; when one of them is missing the rows are streamed
// and aggregated here instead, with the same result and Degraded set.
func (e *Engine) Breakdown(ctx context.Context, scope access.Scope, q Query) (*models.Breakdown, error) {
	p, err := prepareBreakdown(scope, q)
	if err != nil {
		return nil, err
	}
	b, value, err := e.grouped(scope, p, q.Filters, p.start, p.end)
	if err != nil {
		return nil, err
	}

	used := p.dim.indexes()
	names := make([]string, len(used))
	for i, idx := range used {
		names[i] = idx.name
	}
	out := &models.Breakdown{Dimension: p.dim.name, Rows: []models.BreakdownRow{}, Plan: "index " + strings.Join(names, ", ")}
	if !p.ok {
		return out, nil
	}

	db, cancel := e.session(ctx)
	defer cancel()

	if index, ok := missingIndex(db, used); !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label := p.dim.name
		if p.dim.source == fromData {
			label = "data"
		}
		metrics.DegradedQueries.WithLabelValues(label).Inc()
		e.log.Warn("breakdown index missing, scanning rows",
			zap.String("website_id", scope.WebsiteID().String()),
			zap.String("dimension", p.dim.name),
			zap.String("index", index))

		acc, err := e.scan(ctx, db, b, value)
		if err != nil {
			return nil, readErr("breakdown scan", err)
		}
		out.Rows = p.sort.apply(acc.rows())
		out.Plan = "scan (missing " + index + ")"
		out.Degraded = true
		return out, nil
	}

	from, args := b.from()
	query := fmt.Sprintf(`
		SELECT %[1]s AS x, COUNT(*) AS y, COUNT(DISTINCT e.session_id) AS visitors
		%[2]s
		GROUP BY %[1]s
		ORDER BY %[3]s
		LIMIT ?`, value, from, p.sort.orderBy(b, value))
	args = append(args, p.sort.limit)

	var rows []breakdownRow
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, readErr("breakdown", err)
	}
	out.Rows = make([]models.BreakdownRow, 0, len(rows))
	for _, r := range rows {
		out.Rows = append(out.Rows, models.BreakdownRow{Value: r.X, Count: r.Y, Visitors: r.Visitors})
	}
	out.Rows = p.sort.apply(out.Rows)
	return out, nil
}

// missingIndex reports the first of used the database does not have.
func missingIndex(db *gorm.DB, used []planIndex) (string, bool) {
	for _, idx := range used {
		if !db.Migrator().HasIndex(idx.table, idx.name) {
			return idx.name, false
		}
	}
	return "", true
}

// scan streams one row per event and aggregates in process.
func (e *Engine) scan(ctx context.Context, db *gorm.DB, b *builder, value string) (partial, error) {
	from, args := b.from()
	rows, err := db.Raw(fmt.Sprintf("SELECT %s AS x, e.session_id AS sid %s", value, from), args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	acc := partial{}
	n := 0
	for rows.Next() {
		n++
		if n%scanCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var x, sid string
		if err := rows.Scan(&x, &sid); err != nil {
			return nil, err
		}
		acc.add(x, sid, 1)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return acc, ctx.Err()
}

type chunkRow struct {
	X   string `gorm:"column:x"`
	Sid string `gorm:"column:sid"`
	Y   int64  `gorm:"column:y"`
}

func (e *Engine) chunk(db *gorm.DB, scope access.Scope, p prepared, filters []Filter, start, end time.Time) (partial, error) {
	b, value, err := e.grouped(scope, p, filters, start, end)
	if err != nil {
		return nil, err
	}
	from, args := b.from()
	query := fmt.Sprintf(`
		SELECT %[1]s AS x, e.session_id AS sid, COUNT(*) AS y
		%[2]s
		GROUP BY %[1]s, e.session_id`, value, from)

	var rows []chunkRow
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	acc := partial{}
	for _, r := range rows {
		acc.add(r.X, r.Sid, r.Y)
	}
	return acc, nil
}

// BreakdownIncremental answers the same question as Breakdown by merging
// per-chunk partials. Chunks that are complete and closed are cached, so
// repeated dashboard reads only query the open edge of the range.
func (e *Engine) BreakdownIncremental(ctx context.Context, scope access.Scope, q Query) (*models.Breakdown, error) {
	p, err := prepareBreakdown(scope, q)
	if err != nil {
		return nil, err
	}
	out := &models.Breakdown{Dimension: p.dim.name, Rows: []models.BreakdownRow{}, Plan: "incremental"}
	if !p.ok {
		return out, nil
	}
	filterKey, err := json.Marshal(q.Filters)
	if err != nil {
		return nil, err
	}

	db, cancel := e.session(ctx)
	defer cancel()
	live, err := e.active(db, scope)
	if err != nil {
		return nil, readErr("breakdown", err)
	}
	if !live {
		return out, nil
	}

	size := e.cfg.ChunkSize
	now := e.now()
	prefix := fmt.Sprintf("%s|%d|%s|%s|", scope.WebsiteID(), scope.ResetAt().UnixNano(), p.dim.name, filterKey)

	total := partial{}
	for cs := p.start.Truncate(size); cs.Before(p.end); cs = cs.Add(size) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ce := cs.Add(size)
		lo, hi := cs, ce
		if lo.Before(p.start) {
			lo = p.start
		}
		if hi.After(p.end) {
			hi = p.end
		}
		closed := lo.Equal(cs) && hi.Equal(ce) && !ce.After(now)
		key := prefix + cs.Format(time.RFC3339Nano)

		if closed {
			if v, ok := e.chunks.Get(key); ok {
				total.merge(v.(partial))
				continue
			}
		}
		part, err := e.chunk(db, scope, p, q.Filters, lo, hi)
		if err != nil {
			return nil, readErr("breakdown chunk", err)
		}
		if closed {
			e.chunks.Set(key, part, cache.DefaultExpiration)
		}
		total.merge(part)
	}

	out.Rows = p.sort.apply(total.rows())
	return out, nil
}
