package geo

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFromHeaders(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	h := http.Header{}
	h.Set("CF-IPCountry", "de")
	h.Set("CF-Region-Code", "BE")
	h.Set("CF-IPCity", "Berlin")
	assert.Equal(t, Info{Country: "DE", Region: "DE-BE", City: "Berlin"}, l.Lookup("203.0.113.9", h))

	h = http.Header{}
	h.Set("X-Vercel-IP-Country", "US")
	h.Set("X-Vercel-IP-City", "San%20Francisco")
	assert.Equal(t, Info{Country: "US", City: "San Francisco"}, l.Lookup("203.0.113.9", h))
}

func TestLookupUnknown(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	h := http.Header{}
	h.Set("CF-IPCountry", "XX")
	assert.Equal(t, Info{}, l.Lookup("203.0.113.9", h))
	assert.Equal(t, Info{}, l.Lookup("127.0.0.1", nil))
	assert.NoError(t, l.Close())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open("/nonexistent/city.mmdb")
	assert.Error(t, err)
}
