package settlement

import (
	"fmt"
	"math"

	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
)

// UpdateUserTrustScore recomputes a user's reputation from invoice history:
// a blend of how much of their issued volume gets paid and how often it gets
// paid on time, bounded to 0-100. Callers must treat a failure here as
// non-fatal; it never rolls back a settlement.
func UpdateUserTrustScore(db *gorm.DB, userID uint) (float64, error) {
	var invoices []models.Invoice
	err := db.Where("user_id = ? AND status IN ?", userID,
		[]string{models.InvoiceStatusPaid, models.InvoiceStatusCancelled}).
		Find(&invoices).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load invoice history: %w", err)
	}

	if len(invoices) == 0 {
		return 50, db.Model(&models.User{}).Where("id = ?", userID).Update("trust_score", 50).Error
	}

	var paid, onTime int
	for _, inv := range invoices {
		if inv.Status != models.InvoiceStatusPaid {
			continue
		}
		paid++
		if inv.DueDate == nil || (inv.PaidAt != nil && !inv.PaidAt.After(*inv.DueDate)) {
			onTime++
		}
	}

	paidRatio := float64(paid) / float64(len(invoices))
	onTimeRatio := 1.0
	if paid > 0 {
		onTimeRatio = float64(onTime) / float64(paid)
	}

	score := math.Round(70*paidRatio + 30*onTimeRatio*paidRatio)
	score = math.Max(0, math.Min(100, score))

	if err := db.Model(&models.User{}).Where("id = ?", userID).Update("trust_score", score).Error; err != nil {
		return 0, fmt.Errorf("failed to store trust score: %w", err)
	}
	return score, nil
}
