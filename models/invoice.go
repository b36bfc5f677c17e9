package models

import (
	"time"

	"gorm.io/gorm"
)

// Invoice lifecycle statuses
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
)

// Escrow sub-states
const (
	EscrowStatusNone     = "none"
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
)

type Invoice struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
	UserID             uint           `gorm:"not null;index" json:"user_id"`
	User               User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	InvoiceNumber      string         `gorm:"uniqueIndex;size:50;not null" json:"invoice_number"`
	ClientEmail        string         `gorm:"size:255;not null" json:"client_email"`
	ClientName         string         `gorm:"size:255" json:"client_name"`
	Amount             float64        `gorm:"not null" json:"amount"`
	Currency           string         `gorm:"size:10;not null;default:'USDC'" json:"currency"`
	Status             string         `gorm:"size:20;default:'pending';index" json:"status"` // pending, paid, cancelled
	Description        string         `gorm:"type:text" json:"description"`
	DueDate            *time.Time     `json:"due_date"`
	PaidAt             *time.Time     `json:"paid_at"`
	CancelledAt        *time.Time     `json:"cancelled_at"`
	CancellationReason string         `gorm:"size:255" json:"cancellation_reason"`
	// LienActive blocks auto-cancellation while a disbursed advance is outstanding.
	LienActive       bool                  `gorm:"default:false" json:"lien_active"`
	EscrowEnabled    bool                  `gorm:"default:false" json:"escrow_enabled"`
	EscrowStatus     string                `gorm:"size:20;default:'none'" json:"escrow_status"` // none, held, released
	EscrowReleasedAt *time.Time            `json:"escrow_released_at"`
	Collaborators    []InvoiceCollaborator `gorm:"foreignKey:InvoiceID" json:"collaborators,omitempty"`
}

// TableName overrides the table name
func (Invoice) TableName() string {
	return "invoices"
}

// Collaborator payout statuses
const (
	PayoutStatusPending   = "pending"
	PayoutStatusCompleted = "completed"
	PayoutStatusFailed    = "failed"
)

// InvoiceCollaborator is a revenue-share participant on an invoice. Share
// percentages are validated at creation time to sum to at most 100 across an
// invoice; the distribution engine does not re-validate.
type InvoiceCollaborator struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	InvoiceID       uint       `gorm:"not null;index" json:"invoice_id"`
	SubContractorID uint       `gorm:"not null" json:"sub_contractor_id"`
	SubContractor   User       `gorm:"foreignKey:SubContractorID" json:"sub_contractor,omitempty"`
	SharePercentage float64    `gorm:"not null" json:"share_percentage"` // 0-100
	PayoutStatus    string     `gorm:"size:20;default:'pending'" json:"payout_status"`
	PayoutError     string     `gorm:"size:500" json:"payout_error"`
	PaidOutAt       *time.Time `json:"paid_out_at"`
}

// TableName overrides the table name
func (InvoiceCollaborator) TableName() string {
	return "invoice_collaborators"
}

// EscrowEvent is an append-only audit record of escrow state changes.
type EscrowEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	InvoiceID  uint      `gorm:"not null;index" json:"invoice_id"`
	EventType  string    `gorm:"size:50;not null" json:"event_type"` // held, released, disputed
	ActorType  string    `gorm:"size:20" json:"actor_type"`          // client, freelancer, system
	ActorEmail string    `gorm:"size:255" json:"actor_email"`
	Notes      string    `gorm:"type:text" json:"notes"`
}

// TableName overrides the table name
func (EscrowEvent) TableName() string {
	return "escrow_events"
}

// Dispute blocks auto-cancellation while open.
type Dispute struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	InvoiceID uint      `gorm:"not null;uniqueIndex" json:"invoice_id"`
	Status    string    `gorm:"size:20;default:'open'" json:"status"` // open, resolved
	Reason    string    `gorm:"type:text" json:"reason"`
}

// TableName overrides the table name
func (Dispute) TableName() string {
	return "disputes"
}
