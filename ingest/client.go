package ingest

import (
	"strconv"
	"strings"

	"github.com/mssola/useragent"

	"umamicore/api/geo"
	"umamicore/api/models"
)

// ParseClient derives the session attributes of a hit. It reports bot
// traffic, which is not recorded.
func ParseClient(userAgent, screen, language string, loc geo.Info) (models.ClientInfo, bool) {
	ua := useragent.New(userAgent)
	if userAgent == "" || ua.Bot() {
		return models.ClientInfo{}, true
	}

	name, _ := ua.Browser()
	info := models.ClientInfo{
		Browser:  strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		OS:       ua.OSInfo().Name,
		Device:   device(ua, userAgent, screen),
		Screen:   screen,
		Language: language,
		Country:  strings.ToUpper(loc.Country),
		Region:   loc.Region,
		City:     loc.City,
	}
	return info, false
}

func device(ua *useragent.UserAgent, raw, screen string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		return "tablet"
	case ua.Mobile():
		return "mobile"
	}

	width := 0
	if w, _, ok := strings.Cut(screen, "x"); ok {
		width, _ = strconv.Atoi(w)
	}
	switch {
	case width == 0:
		return "desktop"
	case width <= 480:
		return "mobile"
	case width <= 1024:
		return "tablet"
	case width <= 1440:
		return "laptop"
	}
	return "desktop"
}
