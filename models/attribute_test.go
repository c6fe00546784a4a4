package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferValue(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		wantType DataType
		wantText string
	}{
		{"string", "blue", DataTypeString, "blue"},
		{"date", "2024-03-01T10:00:00Z", DataTypeDate, "2024-03-01T10:00:00Z"},
		{"number", json.Number("12.5"), DataTypeNumber, "12.5"},
		{"number rounded to scale", json.Number("1.23456"), DataTypeNumber, "1.2346"},
		{"float", 3.25, DataTypeNumber, "3.25"},
		{"bool", true, DataTypeBoolean, "true"},
		{"array", []any{"a", "b"}, DataTypeArray, `["a","b"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := InferValue(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, v.Type)
			assert.Equal(t, tt.wantText, v.Text())
			assert.NoError(t, v.Validate())
		})
	}
}

func TestInferValueRejects(t *testing.T) {
	_, err := InferValue(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = InferValue(map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = InferValue(json.Number("1" + strings.Repeat("0", 15)))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValueValidate(t *testing.T) {
	s := "x"
	d := decimal.NewFromInt(1)
	now := time.Now().UTC()
	yes := "yes"

	tests := []struct {
		name string
		v    Value
	}{
		{"no slot", Value{Type: DataTypeString}},
		{"two slots", Value{Type: DataTypeString, String: &s, Number: &d}},
		{"number in string slot", Value{Type: DataTypeNumber, String: &s}},
		{"string in number slot", Value{Type: DataTypeString, Number: &d}},
		{"date in string slot", Value{Type: DataTypeDate, String: &s}},
		{"array in date slot", Value{Type: DataTypeArray, Date: &now}},
		{"unknown type", Value{Type: 9, String: &s}},
		{"bad boolean", Value{Type: DataTypeBoolean, String: &yes}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.v.Validate(), ErrTypeInvariant)
		})
	}
}

func TestEventDataBeforeCreateValidates(t *testing.T) {
	s := "x"
	row := EventData{DataKey: "k", StringValue: &s, DataType: DataTypeNumber}
	assert.ErrorIs(t, row.BeforeCreate(nil), ErrTypeInvariant)

	row.DataType = DataTypeString
	require.NoError(t, row.BeforeCreate(nil))
	assert.NotEqual(t, uuid.Nil, row.ID)
}

func TestAttributesKeepAllValues(t *testing.T) {
	web, ev := uuid.New(), uuid.New()
	now := time.Now().UTC()
	rows := []EventData{
		NewEventData(web, ev, "tag", StringValue("a"), now),
		NewEventData(web, ev, "tag", StringValue("b"), now),
		NewEventData(web, ev, "size", DateValue(now), now),
	}
	attrs := EventAttributes(rows)
	assert.Equal(t, []string{"size", "tag"}, attrs.Keys())
	require.Len(t, attrs.Values("tag"), 2)
	assert.Equal(t, "a", attrs.Values("tag")[0].Text())
	assert.Equal(t, "b", attrs.Values("tag")[1].Text())
}

func TestNormalizeAmount(t *testing.T) {
	d, err := NormalizeAmount(decimal.RequireFromString("10.00549"))
	require.NoError(t, err)
	assert.Equal(t, "10.0055", d.String())

	_, err = NormalizeCurrency("  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	c, err := NormalizeCurrency("usd")
	require.NoError(t, err)
	assert.Equal(t, "USD", c)
}
