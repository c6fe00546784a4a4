package geo

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

type Info struct {
	Country string
	Region  string
	City    string
}

// Locator resolves client IPs to a location. Without a database it relies on
// the country headers CDNs put in front of the collector.
type Locator struct {
	db *geoip2.Reader
}

// Open loads a MaxMind city database. An empty path yields a header-only
// locator.
func Open(path string) (*Locator, error) {
	if path == "" {
		return &Locator{}, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed opening geoip database %s: %w", path, err)
	}
	return &Locator{db: db}, nil
}

func (l *Locator) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Locator) Lookup(ip string, h http.Header) Info {
	if info, ok := fromHeaders(h); ok {
		return info
	}
	if l == nil || l.db == nil {
		return Info{}
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() {
		return Info{}
	}
	rec, err := l.db.City(parsed)
	if err != nil {
		return Info{}
	}
	info := Info{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}
	if len(rec.Subdivisions) > 0 && info.Country != "" {
		info.Region = info.Country + "-" + rec.Subdivisions[0].IsoCode
	}
	return info
}

func header(h http.Header, key string) string {
	v := strings.TrimSpace(h.Get(key))
	if d, err := url.QueryUnescape(v); err == nil {
		v = d
	}
	return v
}

func fromHeaders(h http.Header) (Info, bool) {
	if h == nil {
		return Info{}, false
	}
	sets := [][3]string{
		{"CF-IPCountry", "CF-Region-Code", "CF-IPCity"},
		{"X-Vercel-IP-Country", "X-Vercel-IP-Country-Region", "X-Vercel-IP-City"},
		{"CloudFront-Viewer-Country", "CloudFront-Viewer-Country-Region", "CloudFront-Viewer-City"},
	}
	for _, s := range sets {
		country := strings.ToUpper(header(h, s[0]))
		// XX and T1 are Cloudflare's unknown and Tor markers.
		if len(country) != 2 || country == "XX" || country == "T1" {
			continue
		}
		info := Info{Country: country, City: header(h, s[2])}
		if region := header(h, s[1]); region != "" {
			info.Region = country + "-" + region
		}
		return info, true
	}
	return Info{}, false
}
