package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Webhook subscription statuses
const (
	WebhookStatusActive   = "ACTIVE"
	WebhookStatusFailing  = "FAILING"
	WebhookStatusDisabled = "DISABLED"
)

// Webhook event types
const (
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceViewed       = "invoice.viewed"
	EventInvoiceCreated      = "invoice.created"
	EventInvoiceDisputed     = "invoice.disputed"
	EventInvoiceMessage      = "invoice.message"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventWithdrawalFailed    = "withdrawal.failed"
)

// UserWebhook is a user-owned event subscription. Delivery attempts mutate
// the failure counter: any success resets it, chronic failure disables the
// subscription.
type UserWebhook struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
	UserID              uint           `gorm:"not null;index" json:"user_id"`
	TargetURL           string         `gorm:"size:500;not null" json:"target_url"`
	SigningSecret       string         `gorm:"size:255;not null" json:"-"`
	SubscribedEvents    string         `gorm:"size:500;not null" json:"subscribed_events"` // comma-separated event types
	IsActive            bool           `gorm:"default:true" json:"is_active"`
	Status              string         `gorm:"size:20;default:'ACTIVE'" json:"status"` // ACTIVE, FAILING, DISABLED
	ConsecutiveFailures int            `gorm:"default:0" json:"consecutive_failures"`
	LastTriggeredAt     *time.Time     `json:"last_triggered_at"`
	LastFailureAt       *time.Time     `json:"last_failure_at"`
}

// TableName overrides the table name
func (UserWebhook) TableName() string {
	return "user_webhooks"
}

// SubscribesTo reports whether the webhook is subscribed to the event type.
func (w *UserWebhook) SubscribesTo(eventType string) bool {
	for _, e := range strings.Split(w.SubscribedEvents, ",") {
		if strings.TrimSpace(e) == eventType {
			return true
		}
	}
	return false
}

// Webhook delivery statuses
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusExhausted = "exhausted"
)

// WebhookDelivery tracks a delivery that required retrying. Successful first
// attempts create no record. Terminal rows are pruned by the periodic sweep.
type WebhookDelivery struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `gorm:"index" json:"updated_at"`
	PublicID       string      `gorm:"uniqueIndex;size:36;not null" json:"public_id"`
	WebhookID      uint        `gorm:"not null;index" json:"webhook_id"`
	Webhook        UserWebhook `gorm:"foreignKey:WebhookID" json:"webhook,omitempty"`
	EventType      string      `gorm:"size:50;not null" json:"event_type"`
	Payload        string      `gorm:"type:text;not null" json:"payload"` // raw signed JSON snapshot
	Status         string      `gorm:"size:20;default:'pending';index" json:"status"`
	AttemptCount   int         `gorm:"default:0" json:"attempt_count"`
	LastAttemptAt  *time.Time  `json:"last_attempt_at"`
	NextRetryAt    *time.Time  `gorm:"index" json:"next_retry_at"`
	LastStatusCode *int        `json:"last_status_code"`
	LastError      string      `gorm:"size:500" json:"last_error"`
}

// TableName overrides the table name
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
