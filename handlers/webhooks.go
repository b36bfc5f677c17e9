package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/webhooks"
)

type WebhookHandler struct {
	db         *gorm.DB
	dispatcher *webhooks.Dispatcher
}

func NewWebhookHandler(db *gorm.DB, dispatcher *webhooks.Dispatcher) *WebhookHandler {
	return &WebhookHandler{db: db, dispatcher: dispatcher}
}

type CreateWebhookRequest struct {
	TargetURL string   `json:"target_url" binding:"required,url"`
	Events    []string `json:"events" binding:"required,min=1"`
}

// Create registers a webhook subscription. The signing secret is returned
// exactly once, at creation.
func (h *WebhookHandler) Create(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	secret, err := webhooks.GenerateSecret()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate signing secret"})
		return
	}

	hook := models.UserWebhook{
		UserID:           userID.(uint),
		TargetURL:        req.TargetURL,
		SigningSecret:    secret,
		SubscribedEvents: webhooks.EventList(req.Events),
		IsActive:         true,
		Status:           models.WebhookStatusActive,
	}
	if err := h.db.Create(&hook).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create webhook"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook":        hook,
		"signing_secret": secret,
	})
}

// List returns the caller's webhook subscriptions.
func (h *WebhookHandler) List(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var hooks []models.UserWebhook
	if err := h.db.Where("user_id = ?", userID.(uint)).Find(&hooks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": hooks})
}

// Delete removes a webhook subscription the caller owns.
func (h *WebhookHandler) Delete(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	res := h.db.Where("id = ? AND user_id = ?", c.Param("id"), userID.(uint)).Delete(&models.UserWebhook{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete webhook"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListDeliveries returns the retry records for one of the caller's webhooks.
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var hook models.UserWebhook
	if err := h.db.Where("id = ? AND user_id = ?", c.Param("id"), userID.(uint)).First(&hook).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}

	var deliveries []models.WebhookDelivery
	if err := h.db.Where("webhook_id = ?", hook.ID).Order("created_at DESC").Limit(100).Find(&deliveries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch deliveries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}

// ManualRetry re-attempts a delivery immediately, bypassing the delay queue.
func (h *WebhookHandler) ManualRetry(c *gin.Context) {
	result, err := h.dispatcher.ManualRetry(c.Param("deliveryId"))
	if err != nil {
		switch {
		case errors.Is(err, webhooks.ErrDeliveryNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Delivery not found"})
		case errors.Is(err, webhooks.ErrAlreadyDelivered):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Delivery already completed"})
		case errors.Is(err, webhooks.ErrDeliveryExhausted):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Delivery exhausted all attempts"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry delivery"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

type RetryCallbackRequest struct {
	DeliveryID string `json:"deliveryId" binding:"required"`
}

// RetryCallback is the delay-queue's re-entry point for a scheduled retry.
func (h *WebhookHandler) RetryCallback(c *gin.Context) {
	var req RetryCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delivered, err := h.dispatcher.ProcessRetryDelivery(req.DeliveryID)
	if err != nil {
		if errors.Is(err, webhooks.ErrDeliveryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Delivery not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}
