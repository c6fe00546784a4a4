package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umamicore/api/models"
)

func TestEventCountsQuery(t *testing.T) {
	q, err := eventCountsQuery("hour", false)
	require.NoError(t, err)
	assert.Contains(t, q, "toStartOfHour(created_at)")
	assert.Contains(t, q, "website_id = ?")
	assert.NotContains(t, q, "event_name")

	q, err = eventCountsQuery("day", true)
	require.NoError(t, err)
	assert.Contains(t, q, "toStartOfDay(created_at)")
	assert.Contains(t, q, "event_name = ?")

	_, err = eventCountsQuery("week", false)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
