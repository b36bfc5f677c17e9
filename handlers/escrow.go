package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/audit"
	"github.com/lancepay/lancepay-api/settlement"
)

type EscrowHandler struct {
	db          *gorm.DB
	settlements *settlement.Service
}

func NewEscrowHandler(db *gorm.DB, settlements *settlement.Service) *EscrowHandler {
	return &EscrowHandler{db: db, settlements: settlements}
}

type EscrowReleaseRequest struct {
	InvoiceID     uint   `json:"invoice_id" binding:"required"`
	ClientEmail   string `json:"client_email" binding:"required,email"`
	ApprovalNotes string `json:"approval_notes"`
}

// Release lets the authenticated client release held escrow funds.
func (h *EscrowHandler) Release(c *gin.Context) {
	var req EscrowReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Prevent spoofing: the body email must match the authenticated identity.
	authEmail, exists := c.Get("email")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if !strings.EqualFold(req.ClientEmail, authEmail.(string)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "client_email must match authenticated user email"})
		return
	}

	result, err := h.settlements.ReleaseEscrow(req.InvoiceID, req.ClientEmail, req.ApprovalNotes, audit.ExtractRequestMetadata(c))
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrInvoiceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		case errors.Is(err, settlement.ErrClientEmailMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized (client email mismatch)"})
		case errors.Is(err, settlement.ErrEscrowNotHeld):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Escrow is not in held state"})
		case errors.Is(err, settlement.ErrEscrowConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Escrow status changed. Please refresh and retry.", "code": "escrow_conflict"})
		case errors.Is(err, settlement.ErrAdvanceShortfall):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "advance_shortfall"})
		case errors.Is(err, settlement.ErrPostCommitPayment):
			// The release committed; only the transfer needs remediation.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     err.Error(),
				"code":      "payout_failed",
				"released":  true,
				"waterfall": result.Waterfall,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to release escrow"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"lead_tx_hash":  result.LeadTxHash,
		"distributions": result.Waterfall.Distributions,
		"lead_share":    result.Waterfall.LeadShare,
	})
}
