package models

type Customer struct {
	ID     uint    `gorm:"primaryKey" json:"id"`
	Name   string  `gorm:"not null" json:"name"`
	Email  string  `gorm:"uniqueIndex;not null" json:"email"`
	Phone  string  `json:"phone"`
	OIDCID *string `gorm:"column:oidc_subject;uniqueIndex" json:"-"` // OpenID Connect subject
}
