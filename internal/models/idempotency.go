package models

import "time"

// IdempotencyKey maps a client-supplied checkout key to the order it produced.
// Keys are scoped to their owner ("customer:7", "session:<id>" or
// "email:<address>"), so two callers never share one.
type IdempotencyKey struct {
	Owner       string    `gorm:"primaryKey;size:300"`
	Key         string    `gorm:"column:idempotency_key;primaryKey;size:128"`
	RequestHash string    `gorm:"size:64;not null"`
	OrderID     uint      `gorm:"index;not null"`
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index;not null"`
}

type Setting struct {
	Key       string `gorm:"column:name;primaryKey;size:64"`
	Value     string `gorm:"size:255;not null"`
	UpdatedAt time.Time
}

// All lists every model for migrations.
func All() []any {
	return []any{
		&Customer{},
		&Product{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&IdempotencyKey{},
		&Setting{},
	}
}
