package models

import "unicode/utf8"

// Column bounds of the umami schema. Values longer than these are cut at the
// boundary on write, never rejected.
const (
	MaxURLLength      = 500
	MaxTitleLength    = 500
	MaxUTMLength      = 255
	MaxClickIDLength  = 255
	MaxEventName      = 50
	MaxTagLength      = 50
	MaxHostname       = 100
	MaxDataKey        = 500
	MaxStringValue    = 500
	MaxCountry        = 2
	MaxRegion         = 20
	MaxCity           = 50
	MaxClientField    = 20
	MaxScreen         = 11
	MaxLanguage       = 35
	MaxDistinctID     = 50
	MaxCurrency       = 100
	MaxFingerprint    = 128
	MinFingerprint    = 16
	MaxWebsiteName    = 100
	MaxWebsiteDomain  = 500
	MaxShareID        = 50
	MaxUsernameLength = 255
)

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TruncatePtr is Truncate for nullable columns.
func TruncatePtr(s *string, n int) *string {
	if s == nil {
		return nil
	}
	t := Truncate(*s, n)
	return &t
}
