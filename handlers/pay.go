package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/audit"
	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/settlement"
)

// WebhookDispatcher mirrors the dispatcher surface the handlers need.
type WebhookDispatcher interface {
	Dispatch(userID uint, eventType string, data map[string]interface{})
}

type PayHandler struct {
	db          *gorm.DB
	settlements *settlement.Service
	dispatcher  WebhookDispatcher
}

func NewPayHandler(db *gorm.DB, settlements *settlement.Service, dispatcher WebhookDispatcher) *PayHandler {
	return &PayHandler{db: db, settlements: settlements, dispatcher: dispatcher}
}

// GetInvoice returns the public invoice data a payer reviews before paying.
// Fires the invoice.viewed audit entry and webhook as detached tasks.
func (h *PayHandler) GetInvoice(c *gin.Context) {
	invoiceNumber := c.Param("invoiceNumber")

	var invoice models.Invoice
	if err := h.db.Preload("User").Where("invoice_number = ?", invoiceNumber).First(&invoice).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		return
	}

	audit.LogDetached(h.db, invoice.ID, "invoice.viewed", nil, audit.ExtractRequestMetadata(c))

	h.dispatcher.Dispatch(invoice.UserID, models.EventInvoiceViewed, map[string]interface{}{
		"invoiceId":     invoice.ID,
		"invoiceNumber": invoice.InvoiceNumber,
		"amount":        invoice.Amount,
		"currency":      invoice.Currency,
		"clientEmail":   invoice.ClientEmail,
	})

	freelancerName := invoice.User.Name
	if freelancerName == "" {
		freelancerName = "Freelancer"
	}

	c.JSON(http.StatusOK, gin.H{
		"invoice_number":  invoice.InvoiceNumber,
		"freelancer_name": freelancerName,
		"description":     invoice.Description,
		"amount":          invoice.Amount,
		"currency":        invoice.Currency,
		"status":          invoice.Status,
		"due_date":        invoice.DueDate,
		"wallet_address":  invoice.User.StellarAddress,
	})
}

// MarkPaid confirms payment for an invoice and runs the settlement cascade.
func (h *PayHandler) MarkPaid(c *gin.Context) {
	invoiceNumber := c.Param("invoiceNumber")

	result, err := h.settlements.SettleInvoice(invoiceNumber, models.TransactionTypeIncoming, nil, audit.ExtractRequestMetadata(c))
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrInvoiceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found", "code": "not_found"})
		case errors.Is(err, settlement.ErrAlreadySettled):
			c.JSON(http.StatusConflict, gin.H{"error": "Invoice already settled", "code": "already_settled"})
		case errors.Is(err, settlement.ErrAdvanceShortfall):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "advance_shortfall"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to settle invoice"})
		}
		return
	}

	if !result.Settled {
		// Lost the race to a concurrent settlement; nothing was changed.
		c.JSON(http.StatusConflict, gin.H{"error": "Invoice already settled", "code": "already_settled"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"advance":   result.Advance,
		"waterfall": result.Waterfall,
		"auto_swap": result.AutoSwap,
	})
}
