package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DataType int

const (
	DataTypeString  DataType = 1
	DataTypeNumber  DataType = 2
	DataTypeBoolean DataType = 3
	DataTypeDate    DataType = 4
	DataTypeArray   DataType = 5
)

// Number columns are decimal(19,4).
const (
	NumberScale         = 4
	NumberIntegerDigits = 15
)

func (t DataType) String() string {
	switch t {
	case DataTypeString:
		return "string"
	case DataTypeNumber:
		return "number"
	case DataTypeBoolean:
		return "boolean"
	case DataTypeDate:
		return "date"
	case DataTypeArray:
		return "array"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

func (t DataType) Known() bool { return t >= DataTypeString && t <= DataTypeArray }

// slot reports which value column a type is stored in.
func (t DataType) slot() string {
	switch t {
	case DataTypeNumber:
		return "number"
	case DataTypeDate:
		return "date"
	default:
		return "string"
	}
}

// Value is a typed attribute value. Exactly one of String, Number or Date is
// set and it is the slot Type selects. Boolean and array values live in the
// string slot.
type Value struct {
	Type   DataType
	String *string
	Number *decimal.Decimal
	Date   *time.Time
}

func StringValue(s string) Value {
	s = Truncate(s, MaxStringValue)
	return Value{Type: DataTypeString, String: &s}
}

func BoolValue(b bool) Value {
	s := "false"
	if b {
		s = "true"
	}
	return Value{Type: DataTypeBoolean, String: &s}
}

func NumberValue(d decimal.Decimal) (Value, error) {
	d = d.Round(NumberScale)
	limit := decimal.New(1, NumberIntegerDigits)
	if d.Abs().GreaterThanOrEqual(limit) {
		return Value{}, fmt.Errorf("%w: number %s exceeds decimal(19,4)", ErrInvalidInput, d.String())
	}
	return Value{Type: DataTypeNumber, Number: &d}, nil
}

func DateValue(t time.Time) Value {
	t = t.UTC().Truncate(time.Microsecond)
	return Value{Type: DataTypeDate, Date: &t}
}

func ArrayValue(items []any) (Value, error) {
	b, err := json.Marshal(items)
	if err != nil {
		return Value{}, fmt.Errorf("%w: array value: %v", ErrInvalidInput, err)
	}
	s := Truncate(string(b), MaxStringValue)
	return Value{Type: DataTypeArray, String: &s}, nil
}

// InferValue maps a decoded JSON value onto the tagged union. Strings that
// parse as RFC 3339 become dates. Objects are not accepted here; callers
// flatten them into dotted keys first.
func InferValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return DateValue(t), nil
		}
		return StringValue(v), nil
	case bool:
		return BoolValue(v), nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q", ErrInvalidInput, v.String())
		}
		return NumberValue(d)
	case float64:
		return NumberValue(decimal.NewFromFloat(v))
	case int:
		return NumberValue(decimal.NewFromInt(int64(v)))
	case int64:
		return NumberValue(decimal.NewFromInt(v))
	case decimal.Decimal:
		return NumberValue(v)
	case time.Time:
		return DateValue(v), nil
	case []any:
		return ArrayValue(v)
	case nil:
		return Value{}, fmt.Errorf("%w: null attribute value", ErrInvalidInput)
	}
	return Value{}, fmt.Errorf("%w: unsupported attribute value %T", ErrInvalidInput, raw)
}

// Validate enforces that exactly one slot is populated and that it is the
// slot the discriminant selects.
func (v Value) Validate() error {
	if !v.Type.Known() {
		return fmt.Errorf("%w: unknown data type %d", ErrTypeInvariant, int(v.Type))
	}
	set := 0
	populated := ""
	if v.String != nil {
		set++
		populated = "string"
	}
	if v.Number != nil {
		set++
		populated = "number"
	}
	if v.Date != nil {
		set++
		populated = "date"
	}
	if set != 1 {
		return fmt.Errorf("%w: %d value slots set for %s", ErrTypeInvariant, set, v.Type)
	}
	if populated != v.Type.slot() {
		return fmt.Errorf("%w: %s value in %s slot", ErrTypeInvariant, v.Type, populated)
	}
	if v.Type == DataTypeBoolean && *v.String != "true" && *v.String != "false" {
		return fmt.Errorf("%w: boolean value %q", ErrTypeInvariant, *v.String)
	}
	return nil
}

// Text renders the value the way breakdowns display it.
func (v Value) Text() string {
	switch {
	case v.String != nil:
		return *v.String
	case v.Number != nil:
		return v.Number.String()
	case v.Date != nil:
		return v.Date.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	out := struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}{Type: v.Type.String()}
	switch {
	case v.Number != nil:
		out.Value = v.Number
	case v.Date != nil:
		out.Value = v.Date
	case v.String != nil:
		out.Value = *v.String
	}
	return json.Marshal(out)
}

type EventData struct {
	ID             uuid.UUID        `gorm:"column:event_data_id;type:uuid;primaryKey" json:"id"`
	WebsiteID      uuid.UUID        `gorm:"type:uuid;not null" json:"websiteId"`
	WebsiteEventID uuid.UUID        `gorm:"type:uuid;not null;index:event_data_website_event_id_idx" json:"eventId"`
	DataKey        string           `gorm:"type:varchar(500);not null" json:"key"`
	StringValue    *string          `gorm:"type:varchar(500)" json:"-"`
	NumberValue    *decimal.Decimal `gorm:"type:decimal(19,4)" json:"-"`
	DateValue      *time.Time       `gorm:"precision:6" json:"-"`
	DataType       DataType         `gorm:"not null" json:"-"`
	CreatedAt      time.Time        `gorm:"precision:6" json:"createdAt"`
}

func (EventData) TableName() string { return "event_data" }

func (d *EventData) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return d.Typed().Validate()
}

func (d EventData) Typed() Value {
	return Value{Type: d.DataType, String: d.StringValue, Number: d.NumberValue, Date: d.DateValue}
}

func NewEventData(websiteID, eventID uuid.UUID, key string, v Value, at time.Time) EventData {
	return EventData{
		WebsiteID:      websiteID,
		WebsiteEventID: eventID,
		DataKey:        Truncate(key, MaxDataKey),
		StringValue:    v.String,
		NumberValue:    v.Number,
		DateValue:      v.Date,
		DataType:       v.Type,
		CreatedAt:      at,
	}
}

type SessionData struct {
	ID          uuid.UUID        `gorm:"column:session_data_id;type:uuid;primaryKey" json:"id"`
	WebsiteID   uuid.UUID        `gorm:"type:uuid;not null" json:"websiteId"`
	SessionID   uuid.UUID        `gorm:"type:uuid;not null;index:session_data_session_id_idx" json:"sessionId"`
	DataKey     string           `gorm:"type:varchar(500);not null" json:"key"`
	StringValue *string          `gorm:"type:varchar(500)" json:"-"`
	NumberValue *decimal.Decimal `gorm:"type:decimal(19,4)" json:"-"`
	DateValue   *time.Time       `gorm:"precision:6" json:"-"`
	DataType    DataType         `gorm:"not null" json:"-"`
	DistinctID  *string          `gorm:"type:varchar(50)" json:"distinctId,omitempty"`
	CreatedAt   time.Time        `gorm:"precision:6" json:"createdAt"`
}

func (SessionData) TableName() string { return "session_data" }

func (d *SessionData) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return d.Typed().Validate()
}

func (d SessionData) Typed() Value {
	return Value{Type: d.DataType, String: d.StringValue, Number: d.NumberValue, Date: d.DateValue}
}

func NewSessionData(websiteID, sessionID uuid.UUID, key string, v Value, at time.Time) SessionData {
	return SessionData{
		WebsiteID:   websiteID,
		SessionID:   sessionID,
		DataKey:     Truncate(key, MaxDataKey),
		StringValue: v.String,
		NumberValue: v.Number,
		DateValue:   v.Date,
		DataType:    v.Type,
		CreatedAt:   at,
	}
}

// Attributes is a multi-valued view over attribute rows. A key may carry any
// number of values; nothing collapses them.
type Attributes map[string][]Value

func (a Attributes) Values(key string) []Value { return a[key] }

func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func EventAttributes(rows []EventData) Attributes {
	out := Attributes{}
	for _, r := range rows {
		out[r.DataKey] = append(out[r.DataKey], r.Typed())
	}
	return out
}

func SessionAttributes(rows []SessionData) Attributes {
	out := Attributes{}
	for _, r := range rows {
		out[r.DataKey] = append(out[r.DataKey], r.Typed())
	}
	return out
}
