package models

import "time"

// Savings goal statuses
const (
	SavingsStatusInProgress = "in_progress"
	SavingsStatusCompleted  = "completed"
)

// MaxTotalSavingsPercentage caps the sum of savings percentages across a
// user's active, in-progress goals.
const MaxTotalSavingsPercentage = 50.0

type SavingsGoal struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	Title             string     `gorm:"size:255;not null" json:"title"`
	TargetAmountUSDC  float64    `gorm:"not null" json:"target_amount_usdc"`
	CurrentAmountUSDC float64    `gorm:"default:0" json:"current_amount_usdc"`
	SavingsPercentage float64    `gorm:"not null" json:"savings_percentage"` // 0-50
	IsActive          bool       `gorm:"default:true" json:"is_active"`
	Status            string     `gorm:"size:20;default:'in_progress'" json:"status"`
	IsTaxVault        bool       `gorm:"default:false" json:"is_tax_vault"`
	CompletedAt       *time.Time `json:"completed_at"`
}

// TableName overrides the table name
func (SavingsGoal) TableName() string {
	return "savings_goals"
}
