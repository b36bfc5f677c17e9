package models

import "time"

// Transaction types
const (
	TransactionTypeIncoming   = "incoming"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypePayment    = "payment"
)

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusQueued    = "queued"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Transaction is an append-only record mirroring an internal money movement.
// Rows are never updated after reaching a terminal status and never deleted.
type Transaction struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	UserID        uint       `gorm:"not null;index" json:"user_id"`
	Type          string     `gorm:"size:20;not null" json:"type"` // incoming, withdrawal, payment
	Status        string     `gorm:"size:20;not null" json:"status"`
	Amount        float64    `gorm:"not null" json:"amount"`
	Currency      string     `gorm:"size:10;not null" json:"currency"`
	InvoiceID     *uint      `gorm:"index" json:"invoice_id"`
	BankAccountID *uint      `json:"bank_account_id"`
	TxHash        string     `gorm:"size:255" json:"tx_hash"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// TableName overrides the table name
func (Transaction) TableName() string {
	return "transactions"
}

// Subscription generates a recurring invoice each interval.
type Subscription struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	User          User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ClientEmail   string    `gorm:"size:255;not null" json:"client_email"`
	ClientName    string    `gorm:"size:255" json:"client_name"`
	Amount        float64   `gorm:"not null" json:"amount"`
	Currency      string    `gorm:"size:10;not null;default:'USDC'" json:"currency"`
	Description   string    `gorm:"type:text" json:"description"`
	IntervalDays  int       `gorm:"not null;default:30" json:"interval_days"`
	NextInvoiceAt time.Time `gorm:"not null;index" json:"next_invoice_at"`
	IsActive      bool      `gorm:"default:true" json:"is_active"`
}

// TableName overrides the table name
func (Subscription) TableName() string {
	return "subscriptions"
}

// ReferralEarning credits a referrer when a referred user's invoice is paid.
// Deduplicated on (referrer, invoice).
type ReferralEarning struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	ReferrerID     uint      `gorm:"not null;index:idx_referral_dedupe,unique" json:"referrer_id"`
	ReferredUserID uint      `gorm:"not null" json:"referred_user_id"`
	InvoiceID      uint      `gorm:"not null;index:idx_referral_dedupe,unique" json:"invoice_id"`
	Amount         float64   `gorm:"not null" json:"amount"`
	Status         string    `gorm:"size:20;default:'pending'" json:"status"`
}

// TableName overrides the table name
func (ReferralEarning) TableName() string {
	return "referral_earnings"
}

// AutoSwapRule converts a share of incoming proceeds to local currency and
// queues a bank payout when active.
type AutoSwapRule struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	UserID         uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	TargetCurrency string    `gorm:"size:10;not null" json:"target_currency"`
	SwapPercentage float64   `gorm:"not null;default:100" json:"swap_percentage"` // 0-100 of net proceeds
	BankAccountID  uint      `gorm:"not null" json:"bank_account_id"`
}

// TableName overrides the table name
func (AutoSwapRule) TableName() string {
	return "auto_swap_rules"
}

// AuditLog is an append-only record of domain events with request metadata.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	InvoiceID *uint     `gorm:"index" json:"invoice_id"`
	EventType string    `gorm:"size:50;not null" json:"event_type"`
	ActorID   *uint     `json:"actor_id"`                  // nil for system or anonymous actors
	Metadata  string    `gorm:"type:text" json:"metadata"` // JSON blob
}

// TableName overrides the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}
