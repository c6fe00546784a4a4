package stats

import (
	"fmt"
	"strings"
	"time"

	"umamicore/api/database"
	"umamicore/api/models"
)

type source int

const (
	fromEvent source = iota
	fromSession
	fromData
)

// dimension describes where a grouping value lives and which composite
// index serves it.
type dimension struct {
	name      string
	source    source
	column    string
	dataKey   string
	eventType int
}

var eventColumns = map[string]string{
	"url":          "url_path",
	"query":        "url_query",
	"referrer":     "referrer_domain",
	"title":        "page_title",
	"hostname":     "hostname",
	"event":        "event_name",
	"tag":          "tag",
	"utm_source":   "utm_source",
	"utm_medium":   "utm_medium",
	"utm_campaign": "utm_campaign",
	"utm_content":  "utm_content",
	"utm_term":     "utm_term",
}

var sessionColumns = map[string]string{
	"browser":  "browser",
	"os":       "os",
	"device":   "device",
	"screen":   "screen",
	"language": "language",
	"country":  "country",
	"region":   "region",
	"city":     "city",
}

const dataPrefix = "data:"

func parseDimension(name string) (dimension, error) {
	if col, ok := eventColumns[name]; ok {
		d := dimension{name: name, source: fromEvent, column: col, eventType: models.EventTypePageView}
		switch name {
		case "event":
			d.eventType = models.EventTypeCustomEvent
		case "tag":
			d.eventType = 0
		}
		return d, nil
	}
	if col, ok := sessionColumns[name]; ok {
		return dimension{name: name, source: fromSession, column: col, eventType: models.EventTypePageView}, nil
	}
	if key, ok := strings.CutPrefix(name, dataPrefix); ok && key != "" {
		return dimension{name: name, source: fromData, column: "data_key", dataKey: models.Truncate(key, models.MaxDataKey)}, nil
	}
	return dimension{}, fmt.Errorf("%w: unknown dimension %q", models.ErrInvalidInput, name)
}

type planIndex struct {
	table, name string
}

// indexes are the indexes the dimension's plan actually enters through.
// Event columns range on their own (website_id, created_at, column)
// composite. Session and data dimensions range on website_event and reach
// their rows by key, so they need the event range index and, for data,
// the event_data lookup by event id.
func (d dimension) indexes() []planIndex {
	eventRange := planIndex{"website_event", eventRangeIndex}
	switch d.source {
	case fromSession:
		return []planIndex{eventRange}
	case fromData:
		return []planIndex{eventRange, {"event_data", eventDataLookupIndex}}
	default:
		return []planIndex{{"website_event", database.DimensionIndex("website_event", d.column)}}
	}
}

const (
	eventRangeIndex      = "website_event_website_id_created_at_idx"
	eventDataLookupIndex = "event_data_website_event_id_idx"
)

func dataValueExpr(alias string) string {
	return fmt.Sprintf("COALESCE(%[1]s.string_value, CAST(%[1]s.number_value AS VARCHAR(40)), CAST(%[1]s.date_value AS VARCHAR(40)))", alias)
}

// expr is the nullable SQL value of the dimension.
func (d dimension) expr() string {
	switch d.source {
	case fromSession:
		return "s." + d.column
	case fromData:
		return dataValueExpr("d")
	}
	return "e." + d.column
}

// Filter narrows a query by one dimension. Op is eq, neq or contains.
type Filter struct {
	Dimension string `json:"dimension"`
	Op        string `json:"op"`
	Value     string `json:"value"`
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// builder assembles one read over website_event. Join arguments are kept
// apart from predicate arguments so placeholders stay in order.
type builder struct {
	dialect     string
	joins       []string
	joinArgs    []any
	where       []string
	whereArgs   []any
	sessionJoin bool
}

func newBuilder(dialect string, websiteID any, start, end time.Time) *builder {
	b := &builder{dialect: dialect}
	b.and("e.website_id = ? AND e.created_at >= ? AND e.created_at < ?", websiteID, start, end)
	b.and("EXISTS (SELECT 1 FROM website w WHERE w.website_id = e.website_id AND w.deleted_at IS NULL)")
	return b
}

func (b *builder) and(cond string, args ...any) {
	b.where = append(b.where, cond)
	b.whereArgs = append(b.whereArgs, args...)
}

func (b *builder) joinSession() {
	if b.sessionJoin {
		return
	}
	b.sessionJoin = true
	b.joins = append(b.joins, "JOIN session s ON s.session_id = e.session_id AND s.website_id = e.website_id")
}

// group prepares the grouping dimension and returns its value expression.
func (b *builder) group(d dimension) string {
	switch d.source {
	case fromSession:
		b.joinSession()
	case fromData:
		b.joins = append(b.joins, "JOIN event_data d ON d.website_event_id = e.event_id AND d.website_id = e.website_id AND d.data_key = ?")
		b.joinArgs = append(b.joinArgs, d.dataKey)
	}
	if d.eventType != 0 {
		b.and("e.event_type = ?", d.eventType)
	}
	return "COALESCE(" + d.expr() + ", '')"
}

func (b *builder) filter(f Filter) error {
	d, err := parseDimension(f.Dimension)
	if err != nil {
		return err
	}
	var cond string
	var arg any = f.Value
	switch f.Op {
	case "", "eq":
		cond = "%s = ?"
	case "neq":
		cond = "%s <> ?"
	case "contains":
		cond = `%s LIKE ? ESCAPE '\'`
		if b.dialect == "postgres" {
			cond = `%s ILIKE ? ESCAPE '\'`
		}
		arg = "%" + likeEscaper.Replace(f.Value) + "%"
	default:
		return fmt.Errorf("%w: unknown filter operator %q", models.ErrInvalidInput, f.Op)
	}

	switch d.source {
	case fromSession:
		b.joinSession()
		b.and(fmt.Sprintf(cond, "COALESCE(s."+d.column+", '')"), arg)
	case fromData:
		sub := fmt.Sprintf("EXISTS (SELECT 1 FROM event_data fd WHERE fd.website_event_id = e.event_id AND fd.website_id = e.website_id AND fd.data_key = ? AND %s)",
			fmt.Sprintf(cond, "COALESCE("+dataValueExpr("fd")+", '')"))
		b.and(sub, d.dataKey, arg)
	default:
		b.and(fmt.Sprintf(cond, "COALESCE(e."+d.column+", '')"), arg)
	}
	return nil
}

func (b *builder) filters(fs []Filter) error {
	for _, f := range fs {
		if err := b.filter(f); err != nil {
			return err
		}
	}
	return nil
}

// from renders the FROM, JOIN and WHERE clauses and their arguments.
func (b *builder) from() (string, []any) {
	var sb strings.Builder
	sb.WriteString("FROM website_event e")
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(b.where, " AND "))
	args := make([]any, 0, len(b.joinArgs)+len(b.whereArgs))
	args = append(args, b.joinArgs...)
	args = append(args, b.whereArgs...)
	return sb.String(), args
}

// collate makes text ordering byte-wise on every backend.
func (b *builder) collate(expr string) string {
	if b.dialect == "postgres" {
		return expr + ` COLLATE "C"`
	}
	return expr
}

var sqliteBuckets = map[string]string{
	"minute": "%Y-%m-%dT%H:%M:00Z",
	"hour":   "%Y-%m-%dT%H:00:00Z",
	"day":    "%Y-%m-%dT00:00:00Z",
	"month":  "%Y-%m-01T00:00:00Z",
	"year":   "%Y-01-01T00:00:00Z",
}

// bucketExpr renders created_at truncated to unit as an RFC 3339 UTC string.
func bucketExpr(dialect, unit string) string {
	if dialect == "postgres" {
		return fmt.Sprintf(`to_char(date_trunc('%s', e.created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"HH24:MI:SS"Z"')`, unit)
	}
	return fmt.Sprintf("strftime('%s', e.created_at)", sqliteBuckets[unit])
}

// durationExpr is the whole seconds between the first and last event of a
// group.
func durationExpr(dialect string) string {
	if dialect == "postgres" {
		return "CAST(EXTRACT(EPOCH FROM MAX(e.created_at) - MIN(e.created_at)) AS BIGINT)"
	}
	return "CAST(ROUND((julianday(MAX(e.created_at)) - julianday(MIN(e.created_at))) * 86400) AS INTEGER)"
}
