package settlement

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
)

// ReferralEarningRate is the referrer's cut of a referred user's paid
// invoice.
const ReferralEarningRate = 0.01

// CreateReferralEarning credits the referrer for a referred user's paid
// invoice, once per invoice.
func CreateReferralEarning(db *gorm.DB, referrerID, referredUserID, invoiceID uint, invoiceAmount float64) (*models.ReferralEarning, error) {
	var existing models.ReferralEarning
	err := db.Where("referrer_id = ? AND invoice_id = ?", referrerID, invoiceID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing referral earning: %w", err)
	}

	earning := models.ReferralEarning{
		ReferrerID:     referrerID,
		ReferredUserID: referredUserID,
		InvoiceID:      invoiceID,
		Amount:         roundCents(invoiceAmount * ReferralEarningRate),
		Status:         "pending",
	}
	if err := db.Create(&earning).Error; err != nil {
		return nil, fmt.Errorf("failed to create referral earning: %w", err)
	}
	return &earning, nil
}
