package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/audit"
	"github.com/lancepay/lancepay-api/email"
	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/webhooks"
)

// OverdueCancellationDays is how long past the due date a pending invoice may
// sit before the scheduler cancels it.
const OverdueCancellationDays = 90

const retrySweepBatchSize = 50

type CronHandler struct {
	db         *gorm.DB
	emails     email.Sender
	dispatcher *webhooks.Dispatcher
}

func NewCronHandler(db *gorm.DB, emails email.Sender, dispatcher *webhooks.Dispatcher) *CronHandler {
	return &CronHandler{db: db, emails: emails, dispatcher: dispatcher}
}

// CancelOverdueInvoices cancels pending invoices more than 90 days past due.
// Invoices with an active lien, escrow, or an open dispute are skipped. Each
// invoice is handled independently so one failure never stops the batch.
func (h *CronHandler) CancelOverdueInvoices(c *gin.Context) {
	cutoff := time.Now().AddDate(0, 0, -OverdueCancellationDays)

	var candidates []models.Invoice
	err := h.db.Preload("User").
		Where("status = ? AND due_date IS NOT NULL AND due_date < ?", models.InvoiceStatusPending, cutoff).
		Where("lien_active = ? AND escrow_enabled = ?", false, false).
		Find(&candidates).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query overdue invoices"})
		return
	}

	cancelled := 0
	skipped := 0
	failed := 0
	now := time.Now()

	for _, invoice := range candidates {
		var openDisputes int64
		h.db.Model(&models.Dispute{}).
			Where("invoice_id = ? AND status = ?", invoice.ID, "open").
			Count(&openDisputes)
		if openDisputes > 0 {
			skipped++
			continue
		}

		// Conditional on status so a payment landing mid-sweep wins.
		result := h.db.Model(&models.Invoice{}).
			Where("id = ? AND status = ?", invoice.ID, models.InvoiceStatusPending).
			Updates(map[string]interface{}{
				"status":              models.InvoiceStatusCancelled,
				"cancelled_at":        now,
				"cancellation_reason": "Automatically cancelled after 90 days overdue",
			})
		if result.Error != nil {
			failed++
			logrus.WithError(result.Error).WithField("invoice_id", invoice.ID).
				Error("overdue sweep: cancellation failed")
			continue
		}
		if result.RowsAffected == 0 {
			skipped++
			continue
		}
		cancelled++

		daysOverdue := int(now.Sub(*invoice.DueDate).Hours() / 24)
		audit.LogDetached(h.db, invoice.ID, "invoice.auto_cancelled", nil, audit.Metadata{
			"days_overdue": strconv.Itoa(daysOverdue),
		})
		if err := h.emails.SendInvoiceCancelled(email.InvoiceCancelledNotice{
			To:             invoice.User.Email,
			FreelancerName: invoice.User.Name,
			InvoiceNumber:  invoice.InvoiceNumber,
			Amount:         invoice.Amount,
			DaysOverdue:    daysOverdue,
		}); err != nil {
			logrus.WithError(err).WithField("invoice_id", invoice.ID).
				Warn("overdue sweep: notification email failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"examined":  len(candidates),
		"cancelled": cancelled,
		"skipped":   skipped,
		"failed":    failed,
	})
}

// GenerateSubscriptionInvoices creates invoices for active subscriptions that
// have come due and advances their schedule.
func (h *CronHandler) GenerateSubscriptionInvoices(c *gin.Context) {
	now := time.Now()

	var due []models.Subscription
	err := h.db.Where("is_active = ? AND next_invoice_at <= ?", true, now).Find(&due).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query subscriptions"})
		return
	}

	created := 0
	failed := 0

	for _, sub := range due {
		invoice := models.Invoice{
			UserID:        sub.UserID,
			InvoiceNumber: newInvoiceNumber(),
			ClientEmail:   sub.ClientEmail,
			ClientName:    sub.ClientName,
			Amount:        sub.Amount,
			Currency:      sub.Currency,
			Status:        models.InvoiceStatusPending,
			Description:   sub.Description,
		}
		dueDate := now.AddDate(0, 0, sub.IntervalDays)
		invoice.DueDate = &dueDate

		err := h.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&invoice).Error; err != nil {
				return err
			}
			next := sub.NextInvoiceAt.AddDate(0, 0, sub.IntervalDays)
			// Catch up if the scheduler missed cycles.
			for !next.After(now) {
				next = next.AddDate(0, 0, sub.IntervalDays)
			}
			return tx.Model(&models.Subscription{}).Where("id = ?", sub.ID).
				Update("next_invoice_at", next).Error
		})
		if err != nil {
			failed++
			logrus.WithError(err).WithField("subscription_id", sub.ID).
				Error("subscription sweep: invoice generation failed")
			continue
		}
		created++

		h.dispatcher.Dispatch(sub.UserID, models.EventInvoiceCreated, map[string]interface{}{
			"invoiceId":      invoice.ID,
			"invoiceNumber":  invoice.InvoiceNumber,
			"amount":         invoice.Amount,
			"currency":       invoice.Currency,
			"subscriptionId": sub.ID,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"due":     len(due),
		"created": created,
		"failed":  failed,
	})
}

// RetryWebhooks sweeps due webhook retries and prunes aged delivery records.
// It backstops the delay queue: deliveries whose scheduled callback was lost
// are picked up here.
func (h *CronHandler) RetryWebhooks(c *gin.Context) {
	stats := h.dispatcher.ProcessPendingRetries(retrySweepBatchSize)

	pruned, err := h.dispatcher.CleanupOldDeliveries(webhooks.DeliveryRetentionDays * 24 * time.Hour)
	if err != nil {
		logrus.WithError(err).Warn("retry sweep: delivery cleanup failed")
	}

	c.JSON(http.StatusOK, gin.H{
		"processed": stats.Processed,
		"delivered": stats.Delivered,
		"failed":    stats.Failed,
		"abandoned": stats.Abandoned,
		"pruned":    pruned,
	})
}
