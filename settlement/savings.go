package settlement

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
)

// SavingsResult summarizes a savings auto-deduction pass.
type SavingsResult struct {
	TotalDeducted  float64 `json:"total_deducted"`
	GoalsUpdated   int     `json:"goals_updated"`
	GoalsCompleted int     `json:"goals_completed"`
}

// ProcessSavingsOnPayment diverts a percentage of a qualifying payment into
// each of the user's active, in-progress savings goals (tax vault included).
// Runs after settlement commit; per-goal failures are logged and skipped
// since a missed deduction is recoverable and must not fail the payment.
func ProcessSavingsOnPayment(db *gorm.DB, userID uint, paymentAmount float64) SavingsResult {
	var goals []models.SavingsGoal
	err := db.Where("user_id = ? AND is_active = ? AND status = ?", userID, true, models.SavingsStatusInProgress).
		Find(&goals).Error
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("failed to load savings goals")
		return SavingsResult{}
	}

	var result SavingsResult
	now := time.Now()
	for _, goal := range goals {
		deduction := roundCents(paymentAmount * goal.SavingsPercentage / 100)
		if deduction <= 0 {
			continue
		}

		updates := map[string]interface{}{
			"current_amount_usdc": gorm.Expr("current_amount_usdc + ?", deduction),
		}
		if err := db.Model(&models.SavingsGoal{}).Where("id = ?", goal.ID).Updates(updates).Error; err != nil {
			logrus.WithError(err).WithField("goal_id", goal.ID).Error("savings deduction failed")
			continue
		}

		result.TotalDeducted += deduction
		result.GoalsUpdated++

		if goal.CurrentAmountUSDC+deduction >= goal.TargetAmountUSDC {
			err := db.Model(&models.SavingsGoal{}).Where("id = ?", goal.ID).
				Updates(map[string]interface{}{
					"status":       models.SavingsStatusCompleted,
					"completed_at": now,
				}).Error
			if err != nil {
				logrus.WithError(err).WithField("goal_id", goal.ID).Error("failed to mark savings goal completed")
				continue
			}
			result.GoalsCompleted++
		}
	}

	return result
}
