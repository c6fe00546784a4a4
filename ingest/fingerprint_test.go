package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umamicore/api/geo"
	"umamicore/api/models"
)

func TestValidateFingerprint(t *testing.T) {
	assert.NoError(t, ValidateFingerprint("0123456789abcdef"))
	assert.NoError(t, ValidateFingerprint(strings.Repeat("a", 128)))

	for _, bad := range []string{"", "abc", "0123456789ABCDEF", "0123456789abcdeg", strings.Repeat("a", 129)} {
		assert.ErrorIs(t, ValidateFingerprint(bad), models.ErrInvalidInput, bad)
	}
}

func TestFingerprinter(t *testing.T) {
	site := uuid.New()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	compute := func(f *Fingerprinter, site uuid.UUID, at time.Time) string {
		t.Helper()
		fp, err := f.Compute(site, "203.0.113.9", "Mozilla/5.0", at)
		require.NoError(t, err)
		return fp
	}
	f := NewFingerprinter("salt", false)

	a := compute(f, site, at)
	assert.NoError(t, ValidateFingerprint(a))
	assert.Equal(t, a, compute(f, site, at.Add(40*24*time.Hour)))
	assert.NotEqual(t, a, compute(f, uuid.New(), at))
	assert.NotEqual(t, a, compute(NewFingerprinter("other", false), site, at))

	rotating := NewFingerprinter("salt", true)
	assert.NotEqual(t, compute(rotating, site, at), compute(rotating, site, at.AddDate(0, 1, 0)))
}

func TestParseClient(t *testing.T) {
	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	info, bot := ParseClient(chrome, "1920x1080", "en-US", geo.Info{Country: "de", Region: "DE-BE", City: "Berlin"})
	assert.False(t, bot)
	assert.Equal(t, "chrome", info.Browser)
	assert.Equal(t, "desktop", info.Device)
	assert.Equal(t, "DE", info.Country)
	assert.Equal(t, "1920x1080", info.Screen)

	_, bot = ParseClient("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", "", "", geo.Info{})
	assert.True(t, bot)

	_, bot = ParseClient("", "", "", geo.Info{})
	assert.True(t, bot)
}
