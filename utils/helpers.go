package utils

var intervals = map[string]string{
	"minute": "Minute",
	"hour":   "Hour",
	"day":    "Day",
	"month":  "Month",
	"year":   "Year",
}

// IsValidInterval reports whether unit is a supported time bucket.
func IsValidInterval(unit string) bool {
	_, ok := intervals[unit]
	return ok
}

// ClickHouseInterval maps a bucket unit onto the toStartOf<Unit> suffix.
func ClickHouseInterval(unit string) string {
	return intervals[unit]
}
