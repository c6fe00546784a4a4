package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"umamicore/api/models"
)

type HitType string

const (
	HitEvent    HitType = "event"
	HitIdentify HitType = "identify"
)

// maxDataDepth bounds how deep nested attribute objects are flattened.
const maxDataDepth = 5

type RevenueInput struct {
	Amount   decimal.Decimal
	Currency string
}

// Hit is one raw tracker request. Name empty means a pageview.
type Hit struct {
	WebsiteID   uuid.UUID
	Fingerprint string
	Type        HitType
	Timestamp   time.Time
	URL         string
	Referrer    string
	Title       string
	Hostname    string
	Name        string
	Tag         string
	Data        map[string]any
	Revenue     *RevenueInput
	Client      models.ClientInfo
	DistinctID  string
}

// prepared is a validated hit with everything but its session resolved.
type prepared struct {
	index   int
	hit     Hit
	at      time.Time
	event   *models.WebsiteEvent
	attrs   []keyedValue
	revenue *RevenueInput
}

type keyedValue struct {
	key   string
	value models.Value
}

func normalizeTime(t, now time.Time) time.Time {
	if t.IsZero() {
		t = now
	}
	return t.UTC().Truncate(time.Microsecond)
}

func optional(s string, n int) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t := models.Truncate(s, n)
	return &t
}

// prepare validates a hit and builds its event row. Oversized text is cut
// to the column bounds rather than rejected.
func prepare(i int, h Hit, now time.Time) (*prepared, error) {
	if h.WebsiteID == uuid.Nil {
		return nil, fmt.Errorf("%w: website id is required", models.ErrInvalidInput)
	}
	if err := ValidateFingerprint(h.Fingerprint); err != nil {
		return nil, err
	}
	if h.Type == "" {
		h.Type = HitEvent
	}
	if h.Type != HitEvent && h.Type != HitIdentify {
		return nil, fmt.Errorf("%w: unknown hit type %q", models.ErrInvalidInput, h.Type)
	}
	// A blank name is a pageview everywhere below.
	h.Name = strings.TrimSpace(h.Name)

	p := &prepared{index: i, hit: h, at: normalizeTime(h.Timestamp, now)}

	attrs, err := flatten(h.Data)
	if err != nil {
		return nil, err
	}
	p.attrs = attrs

	if h.Type == HitIdentify {
		return p, nil
	}

	p.event = buildEvent(h, p.at)

	rev, err := revenueOf(h, attrs)
	if err != nil {
		return nil, err
	}
	if rev != nil && p.event.EventName == nil {
		return nil, fmt.Errorf("%w: revenue needs a named event", models.ErrInvalidInput)
	}
	p.revenue = rev
	return p, nil
}

func buildEvent(h Hit, at time.Time) *models.WebsiteEvent {
	ev := &models.WebsiteEvent{
		ID:        uuid.New(),
		WebsiteID: h.WebsiteID,
		CreatedAt: at,
		EventType: models.EventTypePageView,
		PageTitle: optional(h.Title, models.MaxTitleLength),
		Hostname:  optional(h.Hostname, models.MaxHostname),
		Tag:       optional(h.Tag, models.MaxTagLength),
	}
	if h.Name != "" {
		ev.EventType = models.EventTypeCustomEvent
		ev.EventName = optional(h.Name, models.MaxEventName)
	}

	path, query := h.URL, ""
	if u, err := url.Parse(h.URL); err == nil {
		path, query = u.Path, u.RawQuery
		if path == "" {
			path = "/"
		}
		params := u.Query()
		ev.UTMSource = optional(params.Get("utm_source"), models.MaxUTMLength)
		ev.UTMMedium = optional(params.Get("utm_medium"), models.MaxUTMLength)
		ev.UTMCampaign = optional(params.Get("utm_campaign"), models.MaxUTMLength)
		ev.UTMContent = optional(params.Get("utm_content"), models.MaxUTMLength)
		ev.UTMTerm = optional(params.Get("utm_term"), models.MaxUTMLength)
		ev.Gclid = optional(params.Get("gclid"), models.MaxClickIDLength)
		ev.Fbclid = optional(params.Get("fbclid"), models.MaxClickIDLength)
		ev.Msclkid = optional(params.Get("msclkid"), models.MaxClickIDLength)
		ev.Ttclid = optional(params.Get("ttclid"), models.MaxClickIDLength)
		ev.LiFatID = optional(params.Get("li_fat_id"), models.MaxClickIDLength)
		ev.Twclid = optional(params.Get("twclid"), models.MaxClickIDLength)
		if ev.Hostname == nil && u.Host != "" {
			ev.Hostname = optional(u.Hostname(), models.MaxHostname)
		}
	}
	ev.URLPath = path
	ev.URLQuery = optional(query, models.MaxURLLength)

	if h.Referrer != "" {
		if ref, err := url.Parse(h.Referrer); err == nil && ref.Host != "" {
			domain := strings.TrimPrefix(strings.ToLower(ref.Hostname()), "www.")
			self := ev.Hostname != nil && strings.TrimPrefix(strings.ToLower(*ev.Hostname), "www.") == domain
			if !self {
				ev.ReferrerDomain = optional(domain, models.MaxURLLength)
				ev.ReferrerPath = optional(ref.Path, models.MaxURLLength)
				ev.ReferrerQuery = optional(ref.RawQuery, models.MaxURLLength)
			}
		}
	}

	ev.Clamp()
	return ev
}

// flatten turns a nested attribute object into dotted keys in sorted order.
func flatten(data map[string]any) ([]keyedValue, error) {
	var out []keyedValue
	var walk func(prefix string, m map[string]any, depth int) error
	walk = func(prefix string, m map[string]any, depth int) error {
		if depth > maxDataDepth {
			return fmt.Errorf("%w: attribute data nested deeper than %d", models.ErrInvalidInput, maxDataDepth)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if key == "" {
				return fmt.Errorf("%w: empty attribute key", models.ErrInvalidInput)
			}
			if nested, ok := m[k].(map[string]any); ok {
				if err := walk(key, nested, depth+1); err != nil {
					return err
				}
				continue
			}
			v, err := models.InferValue(m[k])
			if err != nil {
				return fmt.Errorf("attribute %q: %w", key, err)
			}
			if err := v.Validate(); err != nil {
				return fmt.Errorf("attribute %q: %w", key, err)
			}
			out = append(out, keyedValue{key: models.Truncate(key, models.MaxDataKey), value: v})
		}
		return nil
	}
	if err := walk("", data, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// revenueOf returns the explicit revenue of a custom event, or derives it
// from "revenue" and "currency" attributes when both are usable.
func revenueOf(h Hit, attrs []keyedValue) (*RevenueInput, error) {
	if h.Revenue != nil {
		if h.Name == "" {
			return nil, fmt.Errorf("%w: revenue needs a named event", models.ErrInvalidInput)
		}
		amount, err := models.NormalizeAmount(h.Revenue.Amount)
		if err != nil {
			return nil, err
		}
		currency, err := models.NormalizeCurrency(h.Revenue.Currency)
		if err != nil {
			return nil, err
		}
		return &RevenueInput{Amount: amount, Currency: currency}, nil
	}
	if h.Name == "" {
		return nil, nil
	}

	var amount *decimal.Decimal
	currency := ""
	for _, a := range attrs {
		switch a.key {
		case "revenue":
			if a.value.Number != nil {
				amount = a.value.Number
			} else if a.value.String != nil {
				if d, err := decimal.NewFromString(*a.value.String); err == nil {
					amount = &d
				}
			}
		case "currency":
			if a.value.String != nil {
				currency = *a.value.String
			}
		}
	}
	if amount == nil || currency == "" {
		return nil, nil
	}
	normalized, err := models.NormalizeAmount(*amount)
	if err != nil {
		return nil, nil
	}
	c, err := models.NormalizeCurrency(currency)
	if err != nil {
		return nil, nil
	}
	return &RevenueInput{Amount: normalized, Currency: c}, nil
}

// DecodeData parses an attribute object keeping numbers exact.
func DecodeData(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: event data must be a JSON object: %v", models.ErrInvalidInput, err)
	}
	return out, nil
}
