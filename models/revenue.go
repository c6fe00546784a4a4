package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Revenue is a monetary fact tied to a named event. Amounts are decimal(19,4)
// and never pass through float64.
type Revenue struct {
	ID        uuid.UUID       `gorm:"column:revenue_id;type:uuid;primaryKey" json:"id"`
	WebsiteID uuid.UUID       `gorm:"type:uuid;not null" json:"websiteId"`
	SessionID uuid.UUID       `gorm:"type:uuid;not null" json:"sessionId"`
	EventID   uuid.UUID       `gorm:"type:uuid;not null" json:"eventId"`
	EventName string          `gorm:"type:varchar(50);not null" json:"eventName"`
	Currency  string          `gorm:"type:varchar(100);not null" json:"currency"`
	Revenue   decimal.Decimal `gorm:"type:decimal(19,4)" json:"revenue"`
	CreatedAt time.Time       `gorm:"precision:6" json:"createdAt"`
}

func (Revenue) TableName() string { return "revenue" }

func (r *Revenue) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// NormalizeAmount rounds to the column scale and rejects values the column
// cannot hold.
func NormalizeAmount(d decimal.Decimal) (decimal.Decimal, error) {
	v, err := NumberValue(d)
	if err != nil {
		return decimal.Zero, err
	}
	return *v.Number, nil
}

// NormalizeCurrency upper-cases the opaque currency code.
func NormalizeCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return "", fmt.Errorf("%w: empty currency", ErrInvalidInput)
	}
	return Truncate(c, MaxCurrency), nil
}
