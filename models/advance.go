package models

import "time"

// Advance statuses
const (
	AdvanceStatusDisbursed = "disbursed"
	AdvanceStatusRepaid    = "repaid"
)

// PaymentAdvance is a cash-advance loan disbursed against a pending invoice.
// An invoice may carry at most one advance with status=disbursed; it is
// repaid exactly once, at settlement time, before any other distribution.
type PaymentAdvance struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	InvoiceID          uint       `gorm:"not null;index" json:"invoice_id"`
	UserID             uint       `gorm:"not null;index" json:"user_id"`
	PrincipalUSDC      float64    `gorm:"not null" json:"principal_usdc"`
	TotalRepaymentUSDC float64    `gorm:"not null" json:"total_repayment_usdc"` // principal + fee
	Status             string     `gorm:"size:20;default:'disbursed'" json:"status"`
	RepaidAt           *time.Time `json:"repaid_at"`
}

// TableName overrides the table name
func (PaymentAdvance) TableName() string {
	return "payment_advances"
}
