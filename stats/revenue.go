package stats

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"umamicore/api/access"
	"umamicore/api/models"
)

// revenueScale is the fixed-point exponent amounts are summed at.
const revenueScale = 4

// minorUnits lists currencies that do not use two decimal places.
var minorUnits = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"JOD": 3,
	"TND": 3,
}

// Display rounds an exact total half-to-even to the currency's places.
func Display(currency string, total decimal.Decimal) string {
	places, ok := minorUnits[currency]
	if !ok {
		places = 2
	}
	return total.RoundBank(places).StringFixed(places)
}

type revenueRow struct {
	Currency string `gorm:"column:currency"`
	Units    int64  `gorm:"column:units"`
	Events   int64  `gorm:"column:events"`
	Visitors int64  `gorm:"column:visitors"`
}

// Revenue totals the revenue rows of the range per currency. Amounts are
// summed as integers of 10^-4 units, so totals are exact; a single group
// holds up to about 9.2e14 currency units.
func (e *Engine) Revenue(ctx context.Context, scope access.Scope, q Query) ([]models.RevenueTotal, error) {
	start, end, ok, err := window(scope, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.RevenueTotal{}, nil
	}

	b := newBuilder(e.dialect(), scope.WebsiteID(), start, end)
	b.joins = append(b.joins, "JOIN revenue r ON r.event_id = e.event_id AND r.website_id = e.website_id")
	if q.Currency != "" {
		currency, err := models.NormalizeCurrency(q.Currency)
		if err != nil {
			return nil, err
		}
		b.and("r.currency = ?", currency)
	}
	if err := b.filters(q.Filters); err != nil {
		return nil, err
	}
	from, args := b.from()
	query := fmt.Sprintf(`
		SELECT r.currency AS currency,
			SUM(CAST(ROUND(r.revenue * 10000) AS BIGINT)) AS units,
			COUNT(*) AS events,
			COUNT(DISTINCT r.session_id) AS visitors
		%s
		GROUP BY r.currency`, from)

	db, cancel := e.session(ctx)
	defer cancel()
	var rows []revenueRow
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, readErr("revenue", err)
	}

	out := make([]models.RevenueTotal, 0, len(rows))
	for _, r := range rows {
		total := decimal.New(r.Units, -revenueScale)
		out = append(out, models.RevenueTotal{
			Currency: r.Currency,
			Total:    total,
			Display:  Display(r.Currency, total),
			Count:    r.Events,
			Visitors: r.Visitors,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}
