package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Summary struct {
	Pageviews int64 `json:"pageviews"`
	Visitors  int64 `json:"visitors"`
	Visits    int64 `json:"visits"`
	Bounces   int64 `json:"bounces"`
	TotalTime int64 `json:"totaltime"`
}

type SeriesPoint struct {
	Time      time.Time `json:"x"`
	Pageviews int64     `json:"y"`
	Visitors  int64     `json:"visitors"`
}

type BreakdownRow struct {
	Value    string `json:"x"`
	Count    int64  `json:"y"`
	Visitors int64  `json:"visitors"`
}

// Breakdown carries the plan that produced it. Degraded is set when the
// dimension's composite index was missing and the engine fell back to a
// streaming scan.
type Breakdown struct {
	Dimension string         `json:"dimension"`
	Rows      []BreakdownRow `json:"data"`
	Plan      string         `json:"plan"`
	Degraded  bool           `json:"degraded"`
}

type RevenueTotal struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Display  string          `json:"display"`
	Count    int64           `json:"count"`
	Visitors int64           `json:"unique_count"`
}
