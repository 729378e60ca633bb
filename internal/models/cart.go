package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem belongs to a customer, or to a guest session when CustomerID is nil.
// UnitPrice is what the shopper saw when adding the item; checkout re-prices.
type CartItem struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	CustomerID *uint           `gorm:"index" json:"customer_id,omitempty"`
	SessionID  string          `gorm:"size:64;index" json:"-"`
	ProductID  uint            `gorm:"index;not null" json:"product_id"`
	Product    Product         `json:"product"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
