package audit

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
)

// Metadata is the request context captured alongside an audit event.
type Metadata map[string]string

// ExtractRequestMetadata pulls client details off the inbound request.
func ExtractRequestMetadata(c *gin.Context) Metadata {
	return Metadata{
		"ip":         c.ClientIP(),
		"user_agent": c.GetHeader("User-Agent"),
		"referer":    c.GetHeader("Referer"),
	}
}

// Log appends an audit event. Pass the transaction handle when the event
// must commit or roll back with enclosing settlement work.
func Log(db *gorm.DB, invoiceID uint, eventType string, actorID *uint, meta Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte("{}")
	}

	entry := models.AuditLog{
		InvoiceID: &invoiceID,
		EventType: eventType,
		ActorID:   actorID,
		Metadata:  string(raw),
	}
	return db.Create(&entry).Error
}

// LogDetached records an audit event on its own goroutine. Failures are
// logged, never dropped silently and never surfaced to the request path.
func LogDetached(db *gorm.DB, invoiceID uint, eventType string, actorID *uint, meta Metadata) {
	go func() {
		if err := Log(db, invoiceID, eventType, actorID, meta); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"invoice_id": invoiceID,
				"event_type": eventType,
			}).Error("failed to write audit log")
		}
	}()
}
