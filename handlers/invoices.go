package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/audit"
	"github.com/lancepay/lancepay-api/config"
	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/utils"
)

type InvoiceHandler struct {
	db             *gorm.DB
	cfg            *config.Config
	ledger         utils.StellarClientInterface
	dispatcher     WebhookDispatcher
	fundingAddress string
}

func NewInvoiceHandler(db *gorm.DB, cfg *config.Config, ledger utils.StellarClientInterface, dispatcher WebhookDispatcher, fundingAddress string) *InvoiceHandler {
	return &InvoiceHandler{db: db, cfg: cfg, ledger: ledger, dispatcher: dispatcher, fundingAddress: fundingAddress}
}

type CollaboratorInput struct {
	SubContractorID uint    `json:"sub_contractor_id" binding:"required"`
	SharePercentage float64 `json:"share_percentage" binding:"required,gt=0,lte=100"`
}

type CreateInvoiceRequest struct {
	ClientEmail   string              `json:"client_email" binding:"required,email"`
	ClientName    string              `json:"client_name"`
	Amount        float64             `json:"amount" binding:"required,gt=0"`
	Currency      string              `json:"currency"`
	Description   string              `json:"description"`
	DueDate       *time.Time          `json:"due_date"`
	EscrowEnabled bool                `json:"escrow_enabled"`
	Collaborators []CollaboratorInput `json:"collaborators" binding:"omitempty,dive"`
}

// CreateInvoice creates an invoice with its revenue-share collaborators.
// Share percentages are validated here, once; the distribution engine trusts
// them at settlement time.
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var totalShare float64
	for _, collab := range req.Collaborators {
		totalShare += collab.SharePercentage
	}
	if totalShare > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Collaborator shares sum to %.2f%%, exceeding 100%%", totalShare),
			"code":  "percentage_limit_exceeded",
		})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "USDC"
	}
	escrowStatus := models.EscrowStatusNone
	if req.EscrowEnabled {
		escrowStatus = models.EscrowStatusHeld
	}

	invoice := models.Invoice{
		UserID:        userID.(uint),
		InvoiceNumber: newInvoiceNumber(),
		ClientEmail:   req.ClientEmail,
		ClientName:    req.ClientName,
		Amount:        req.Amount,
		Currency:      currency,
		Status:        models.InvoiceStatusPending,
		Description:   req.Description,
		DueDate:       req.DueDate,
		EscrowEnabled: req.EscrowEnabled,
		EscrowStatus:  escrowStatus,
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		for _, collab := range req.Collaborators {
			record := models.InvoiceCollaborator{
				InvoiceID:       invoice.ID,
				SubContractorID: collab.SubContractorID,
				SharePercentage: collab.SharePercentage,
				PayoutStatus:    models.PayoutStatusPending,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		if req.EscrowEnabled {
			return tx.Create(&models.EscrowEvent{
				InvoiceID: invoice.ID,
				EventType: "held",
				ActorType: "system",
				Notes:     "Escrow enabled at invoice creation",
			}).Error
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create invoice"})
		return
	}

	audit.LogDetached(h.db, invoice.ID, "invoice.created", nil, audit.ExtractRequestMetadata(c))
	h.dispatcher.Dispatch(invoice.UserID, models.EventInvoiceCreated, map[string]interface{}{
		"invoiceId":     invoice.ID,
		"invoiceNumber": invoice.InvoiceNumber,
		"amount":        invoice.Amount,
		"currency":      invoice.Currency,
		"clientEmail":   invoice.ClientEmail,
	})

	c.JSON(http.StatusCreated, invoice)
}

// GetInvoice returns one of the caller's invoices with collaborators.
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var invoice models.Invoice
	err := h.db.Preload("Collaborators.SubContractor").
		Where("id = ? AND user_id = ?", c.Param("id"), userID.(uint)).
		First(&invoice).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		return
	}
	c.JSON(http.StatusOK, invoice)
}

type WithdrawalRequest struct {
	ToAddress string  `json:"to_address" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
}

// RequestWithdrawal records a withdrawal and submits the ledger payment.
// The transaction row is created first so a crash between submit and update
// leaves an auditable pending record.
func (h *InvoiceHandler) RequestWithdrawal(c *gin.Context) {
	var req WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if h.fundingAddress == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Payout wallet is not configured"})
		return
	}

	destinationExists, err := h.ledger.AccountExists(req.ToAddress)
	if err == nil && !destinationExists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Destination account does not exist"})
		return
	}

	withdrawal := models.Transaction{
		UserID:   userID.(uint),
		Type:     models.TransactionTypeWithdrawal,
		Status:   models.TransactionStatusPending,
		Amount:   utils.RoundAmount(req.Amount),
		Currency: h.cfg.USDCAssetCode,
	}
	if err := h.db.Create(&withdrawal).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record withdrawal"})
		return
	}

	txHash, err := h.ledger.SendPayment(h.fundingAddress, h.cfg.FundingWalletSecret, req.ToAddress,
		utils.FormatAmount(req.Amount), fmt.Sprintf("Withdrawal #%d", withdrawal.ID))

	now := time.Now()
	if err != nil {
		h.db.Model(&withdrawal).Updates(map[string]interface{}{"status": models.TransactionStatusFailed})
		h.dispatcher.Dispatch(withdrawal.UserID, models.EventWithdrawalFailed, map[string]interface{}{
			"withdrawalId": withdrawal.ID,
			"amount":       withdrawal.Amount,
			"error":        err.Error(),
		})
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Withdrawal failed: %v", err)})
		return
	}

	h.db.Model(&withdrawal).Updates(map[string]interface{}{
		"status":       models.TransactionStatusCompleted,
		"tx_hash":      txHash,
		"completed_at": now,
	})
	h.dispatcher.Dispatch(withdrawal.UserID, models.EventWithdrawalCompleted, map[string]interface{}{
		"withdrawalId": withdrawal.ID,
		"amount":       withdrawal.Amount,
		"txHash":       txHash,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "tx_hash": txHash, "withdrawal_id": withdrawal.ID})
}

func newInvoiceNumber() string {
	return "INV-" + strings.ToUpper(uuid.NewString()[:8])
}
