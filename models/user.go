package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	Email           string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name            string         `gorm:"size:255" json:"name"`
	StellarAddress  string         `gorm:"size:56" json:"stellar_address"`
	Role            string         `gorm:"size:20;default:'user'" json:"role"` // admin, user
	Country         string         `gorm:"size:2" json:"country"`              // ISO country code
	IsActive        bool           `gorm:"default:true" json:"is_active"`
	DefaultCurrency string         `gorm:"size:10;default:'USDC'" json:"default_currency"`
	ReferredByID    *uint          `gorm:"index" json:"referred_by_id"`
	TrustScore      float64        `gorm:"default:50" json:"trust_score"` // 0-100, recomputed from payment history
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}
