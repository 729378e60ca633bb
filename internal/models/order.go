package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Address is embedded into Order twice, once per role.
type Address struct {
	FullName   string `gorm:"size:100" json:"full_name" validate:"required,max=100"`
	Line1      string `gorm:"size:255" json:"line1" validate:"required,max=255"`
	Line2      string `gorm:"size:255" json:"line2,omitempty" validate:"omitempty,max=255"`
	City       string `gorm:"size:100" json:"city" validate:"required,max=100"`
	State      string `gorm:"size:100" json:"state" validate:"required,max=100"`
	PostalCode string `gorm:"size:20" json:"postal_code" validate:"required,max=20"`
	Country    string `gorm:"size:56" json:"country" validate:"required,max=56"`
}

// Order is the committed result of a checkout. Items are snapshots and are
// never rewritten after the order is created.
type Order struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	OrderNumber     string          `gorm:"size:32;uniqueIndex;not null" json:"order_number"`
	CustomerID      *uint           `gorm:"index" json:"customer_id"`
	ContactEmail    string          `gorm:"size:254;index;not null" json:"contact_email"`
	ContactPhone    *string         `gorm:"size:20" json:"contact_phone,omitempty"`
	Status          OrderStatus     `gorm:"size:20;index;not null" json:"status"`
	PaymentStatus   PaymentStatus   `gorm:"size:20;index;not null" json:"payment_status"`
	PaymentMethod   PaymentMethod   `gorm:"size:32;not null" json:"payment_method"`
	BillingAddress  Address         `gorm:"embedded;embeddedPrefix:billing_" json:"billing_address"`
	ShippingAddress Address         `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping_address"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	TaxAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"tax_amount"`
	ShippingAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"shipping_amount"`
	Total           decimal.Decimal `gorm:"type:decimal(12,2);index;not null" json:"total"`
	TrackingNumber  *string         `gorm:"size:64" json:"tracking_number,omitempty"`
	Notes           string          `gorm:"size:1000" json:"notes,omitempty"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	RestockedAt     *time.Time      `json:"restocked_at,omitempty"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
}

type OrderItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	OrderID     uint            `gorm:"index;not null" json:"order_id"`
	ProductID   uint            `gorm:"index;not null" json:"product_id"`
	ProductName string          `gorm:"size:255;not null" json:"product_name"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"line_total"`
	CreatedAt   time.Time       `json:"created_at"`
}
