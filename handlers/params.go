package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"umamicore/api/models"
	"umamicore/api/stats"
)

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, fmt.Sprintf("Invalid %s", name), err)
		return uuid.Nil, false
	}
	return id, true
}

func parseInstant(c *gin.Context, msKey, rfcKey string) (time.Time, bool, error) {
	if v := c.Query(msKey); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: '%s' must be unix milliseconds", models.ErrInvalidInput, msKey)
		}
		return time.UnixMilli(ms).UTC(), true, nil
	}
	if v := c.Query(rfcKey); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: invalid '%s' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)", models.ErrInvalidInput, rfcKey)
		}
		return t.UTC(), true, nil
	}
	return time.Time{}, false, nil
}

// parseRange reads startAt/endAt (unix ms) or start/end (RFC 3339). The
// default is the 24 hours before now.
func parseRange(c *gin.Context, now time.Time) (time.Time, time.Time, error) {
	end, ok, err := parseInstant(c, "endAt", "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		end = now.UTC()
	}
	start, ok, err := parseInstant(c, "startAt", "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		start = end.Add(-24 * time.Hour)
	}
	return start, end, nil
}

var filterKeys = []string{
	"url", "query", "referrer", "title", "hostname", "event", "tag",
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"browser", "os", "device", "screen", "language", "country", "region", "city",
}

// parseFilters turns dimension query parameters into filters. A value
// prefixed with "!" excludes and "~" matches a substring.
func parseFilters(c *gin.Context) []stats.Filter {
	var out []stats.Filter
	for _, key := range filterKeys {
		v, ok := c.GetQuery(key)
		if !ok {
			continue
		}
		f := stats.Filter{Dimension: key, Op: "eq", Value: v}
		switch {
		case strings.HasPrefix(v, "!"):
			f.Op, f.Value = "neq", v[1:]
		case strings.HasPrefix(v, "~"):
			f.Op, f.Value = "contains", v[1:]
		}
		out = append(out, f)
	}
	return out
}

func parseQuery(c *gin.Context, now time.Time) (stats.Query, error) {
	start, end, err := parseRange(c, now)
	if err != nil {
		return stats.Query{}, err
	}
	q := stats.Query{
		Start:    start,
		End:      end,
		Unit:     c.Query("unit"),
		Filters:  parseFilters(c),
		SortBy:   c.Query("sort"),
		Order:    c.Query("order"),
		Currency: c.Query("currency"),
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return stats.Query{}, fmt.Errorf("%w: invalid 'limit' parameter. Must be a positive integer", models.ErrInvalidInput)
		}
		q.Limit = limit
	}
	return q, nil
}
