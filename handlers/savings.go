package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
)

type SavingsHandler struct {
	db *gorm.DB
}

func NewSavingsHandler(db *gorm.DB) *SavingsHandler {
	return &SavingsHandler{db: db}
}

// ListGoals returns the caller's goals plus a percentage summary.
func (h *SavingsHandler) ListGoals(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var goals []models.SavingsGoal
	if err := h.db.Where("user_id = ?", userID.(uint)).Order("created_at DESC").Find(&goals).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch savings goals"})
		return
	}

	var activeCount int
	var totalActivePercentage float64
	for _, g := range goals {
		if g.IsActive && g.Status == models.SavingsStatusInProgress {
			activeCount++
			totalActivePercentage += g.SavingsPercentage
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"goals": goals,
		"summary": gin.H{
			"total_goals":             len(goals),
			"active_goals":            activeCount,
			"total_active_percentage": totalActivePercentage,
			"remaining_percentage":    models.MaxTotalSavingsPercentage - totalActivePercentage,
		},
	})
}

type CreateSavingsGoalRequest struct {
	Title             string  `json:"title" binding:"required"`
	TargetAmount      float64 `json:"target_amount" binding:"required,gt=0"`
	SavingsPercentage float64 `json:"savings_percentage" binding:"required,gt=0,lte=50"`
	IsTaxVault        bool    `json:"is_tax_vault"`
}

// CreateGoal adds a savings goal, enforcing the 50% cap across the user's
// active, in-progress goals.
func (h *SavingsHandler) CreateGoal(c *gin.Context) {
	var req CreateSavingsGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if !h.percentageFits(userID.(uint), 0, req.SavingsPercentage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Total active savings cannot exceed 50%", "code": "percentage_limit_exceeded"})
		return
	}

	goal := models.SavingsGoal{
		UserID:            userID.(uint),
		Title:             req.Title,
		TargetAmountUSDC:  req.TargetAmount,
		SavingsPercentage: req.SavingsPercentage,
		IsActive:          true,
		Status:            models.SavingsStatusInProgress,
		IsTaxVault:        req.IsTaxVault,
	}
	if err := h.db.Create(&goal).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create savings goal"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "goal": goal})
}

type UpdateSavingsGoalRequest struct {
	SavingsPercentage *float64 `json:"savings_percentage" binding:"omitempty,gt=0,lte=50"`
	IsActive          *bool    `json:"is_active"`
}

// UpdateGoal adjusts percentage or active state, re-validating the cap.
func (h *SavingsHandler) UpdateGoal(c *gin.Context) {
	var req UpdateSavingsGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var goal models.SavingsGoal
	if err := h.db.Where("id = ? AND user_id = ?", c.Param("id"), userID.(uint)).First(&goal).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Savings goal not found"})
		return
	}

	updates := map[string]interface{}{}
	if req.SavingsPercentage != nil {
		if !h.percentageFits(goal.UserID, goal.ID, *req.SavingsPercentage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Total active savings cannot exceed 50%", "code": "percentage_limit_exceeded"})
			return
		}
		updates["savings_percentage"] = *req.SavingsPercentage
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "goal": goal})
		return
	}

	if err := h.db.Model(&goal).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update savings goal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "goal": goal})
}

// percentageFits checks the 50% invariant, excluding one goal (0 to exclude
// none) so updates can re-validate against the other goals only.
func (h *SavingsHandler) percentageFits(userID, excludeGoalID uint, newPercentage float64) bool {
	var goals []models.SavingsGoal
	err := h.db.Where("user_id = ? AND is_active = ? AND status = ? AND id <> ?",
		userID, true, models.SavingsStatusInProgress, excludeGoalID).
		Find(&goals).Error
	if err != nil {
		return false
	}

	total := newPercentage
	for _, g := range goals {
		total += g.SavingsPercentage
	}
	return total <= models.MaxTotalSavingsPercentage
}
