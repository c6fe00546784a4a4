package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"umamicore/api/access"
	"umamicore/api/models"
)

// Params is the stored definition of a report: a time range, filters and,
// depending on the report type, a unit or a grouping dimension.
type Params struct {
	Range       string     `json:"range,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Unit        string     `json:"unit,omitempty"`
	Dimension   string     `json:"dimension,omitempty"`
	Filters     []Filter   `json:"filters,omitempty"`
	SortBy      string     `json:"sortBy,omitempty"`
	Order       string     `json:"order,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	Incremental bool       `json:"incremental,omitempty"`
}

type SegmentParams struct {
	Filters []Filter `json:"filters"`
}

type Result struct {
	Type      string                `json:"type"`
	StartDate time.Time             `json:"startDate"`
	EndDate   time.Time             `json:"endDate"`
	Summary   *models.Summary       `json:"summary,omitempty"`
	Series    []models.SeriesPoint  `json:"series,omitempty"`
	Breakdown *models.Breakdown     `json:"breakdown,omitempty"`
	Revenue   []models.RevenueTotal `json:"revenue,omitempty"`
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: parameters: %v", models.ErrInvalidInput, err)
	}
	return nil
}

func ParseParams(raw []byte) (Params, error) {
	var p Params
	err := decodeStrict(raw, &p)
	return p, err
}

func ParseSegment(raw []byte) (SegmentParams, error) {
	var p SegmentParams
	err := decodeStrict(raw, &p)
	return p, err
}

var relativeRange = regexp.MustCompile(`^([1-9][0-9]{0,3})(h|d|w|mo|y)$`)

// Resolve turns the range into absolute instants. Relative ranges such as
// "24h", "7d" or "3mo" end at asOf.
func (p Params) Resolve(asOf time.Time) (time.Time, time.Time, error) {
	if p.Range != "" {
		m := relativeRange.FindStringSubmatch(p.Range)
		if m == nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown range %q", models.ErrInvalidInput, p.Range)
		}
		n, _ := strconv.Atoi(m[1])
		end := asOf.UTC().Truncate(time.Microsecond)
		switch m[2] {
		case "h":
			return end.Add(-time.Duration(n) * time.Hour), end, nil
		case "d":
			return end.AddDate(0, 0, -n), end, nil
		case "w":
			return end.AddDate(0, 0, -7*n), end, nil
		case "mo":
			return end.AddDate(0, -n, 0), end, nil
		}
		return end.AddDate(-n, 0, 0), end, nil
	}
	if p.StartDate == nil || p.EndDate == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: parameters need a range or both dates", models.ErrInvalidInput)
	}
	return p.StartDate.UTC(), p.EndDate.UTC(), nil
}

// DefaultUnit picks a series bucket that keeps the point count readable.
func DefaultUnit(start, end time.Time) string {
	switch span := end.Sub(start); {
	case span <= 2*time.Hour:
		return "minute"
	case span <= 48*time.Hour:
		return "hour"
	case span <= 92*24*time.Hour:
		return "day"
	case span <= 5*365*24*time.Hour:
		return "month"
	}
	return "year"
}

// Evaluate runs a saved report, narrowed by an optional segment. The same
// report, segment, asOf and data always produce the same result.
func (e *Engine) Evaluate(ctx context.Context, scope access.Scope, report *models.Report, segment *models.Segment, asOf time.Time) (*Result, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	if report.WebsiteID != scope.WebsiteID() {
		return nil, fmt.Errorf("%w: report %s belongs to another website", models.ErrTenantMismatch, report.ID)
	}
	params, err := ParseParams(report.Parameters)
	if err != nil {
		return nil, err
	}
	filters := append([]Filter{}, params.Filters...)
	if segment != nil {
		if segment.WebsiteID != scope.WebsiteID() {
			return nil, fmt.Errorf("%w: segment %s belongs to another website", models.ErrTenantMismatch, segment.ID)
		}
		sp, err := ParseSegment(segment.Parameters)
		if err != nil {
			return nil, err
		}
		filters = append(filters, sp.Filters...)
	}

	start, end, err := params.Resolve(asOf)
	if err != nil {
		return nil, err
	}
	q := Query{
		Start:     start,
		End:       end,
		Unit:      params.Unit,
		Dimension: params.Dimension,
		Filters:   filters,
		SortBy:    params.SortBy,
		Order:     params.Order,
		Limit:     params.Limit,
		Currency:  params.Currency,
	}
	res := &Result{Type: report.Type, StartDate: start, EndDate: end}

	switch report.Type {
	case "summary":
		s, err := e.Summary(ctx, scope, q)
		if err != nil {
			return nil, err
		}
		res.Summary = &s
	case "series":
		if q.Unit == "" {
			q.Unit = DefaultUnit(start, end)
		}
		res.Series, err = e.Series(ctx, scope, q)
	case "breakdown":
		if params.Incremental {
			res.Breakdown, err = e.BreakdownIncremental(ctx, scope, q)
		} else {
			res.Breakdown, err = e.Breakdown(ctx, scope, q)
		}
	case "revenue":
		res.Revenue, err = e.Revenue(ctx, scope, q)
	default:
		return nil, fmt.Errorf("%w: unknown report type %q", models.ErrInvalidInput, report.Type)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
