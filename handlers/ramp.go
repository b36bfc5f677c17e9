package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lancepay/lancepay-api/audit"
	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/settlement"
)

// RampHandler receives payment-provider callbacks for on/off-ramp flows. The
// provider retries on non-2xx, so the endpoint always acknowledges and logs
// failures instead of surfacing them.
type RampHandler struct {
	settlements *settlement.Service
}

func NewRampHandler(settlements *settlement.Service) *RampHandler {
	return &RampHandler{settlements: settlements}
}

type rampEvent struct {
	Type string `json:"type"`
	Data struct {
		Status                string `json:"status"`
		ExternalTransactionID string `json:"externalTransactionId"`
	} `json:"data"`
}

// HandleEvent settles the referenced invoice when the provider reports a
// completed transaction. Duplicate callbacks are absorbed by the settlement
// race guard.
func (h *RampHandler) HandleEvent(c *gin.Context) {
	var event rampEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	log := logrus.WithField("event_type", event.Type)
	log.Info("ramp provider webhook")

	if event.Type != "transaction_completed" && event.Data.Status != "completed" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	invoiceNumber := event.Data.ExternalTransactionID
	if invoiceNumber == "" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	_, err := h.settlements.SettleInvoice(invoiceNumber, models.TransactionTypePayment, nil, audit.ExtractRequestMetadata(c))
	if err != nil && !errors.Is(err, settlement.ErrInvoiceNotFound) && !errors.Is(err, settlement.ErrAlreadySettled) {
		log.WithError(err).WithField("invoice_number", invoiceNumber).Error("ramp settlement failed")
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
