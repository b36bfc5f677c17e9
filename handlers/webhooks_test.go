package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/email"
	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/webhooks"
)

func newWebhookRouter(db *gorm.DB, userID uint) *gin.Engine {
	dispatcher := webhooks.NewDispatcher(db, nil, email.LogSender{}, "")
	handler := NewWebhookHandler(db, dispatcher)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	router.POST("/webhooks", handler.Create)
	router.GET("/webhooks", handler.List)
	router.DELETE("/webhooks/:id", handler.Delete)
	router.GET("/webhooks/:id/deliveries", handler.ListDeliveries)
	router.POST("/webhooks/deliveries/:deliveryId/retry", handler.ManualRetry)
	return router
}

func TestWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Create Returns Secret Exactly Once", func(t *testing.T) {
		db := setupTestDB(t)
		router := newWebhookRouter(db, 1)

		body, _ := json.Marshal(CreateWebhookRequest{
			TargetURL: "https://example.com/hooks",
			Events:    []string{models.EventInvoicePaid, models.EventInvoiceViewed},
		})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/webhooks", bytes.NewBuffer(body))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), "whsec_")

		var hook models.UserWebhook
		assert.NoError(t, db.First(&hook).Error)
		assert.Equal(t, "invoice.paid,invoice.viewed", hook.SubscribedEvents)
		assert.Equal(t, models.WebhookStatusActive, hook.Status)

		// Listing never exposes the secret again.
		lw := httptest.NewRecorder()
		lreq, _ := http.NewRequest("GET", "/webhooks", nil)
		router.ServeHTTP(lw, lreq)
		assert.Equal(t, http.StatusOK, lw.Code)
		assert.NotContains(t, lw.Body.String(), "whsec_")
	})

	t.Run("Rejects Invalid URL", func(t *testing.T) {
		db := setupTestDB(t)
		router := newWebhookRouter(db, 1)

		body, _ := json.Marshal(CreateWebhookRequest{TargetURL: "not a url", Events: []string{models.EventInvoicePaid}})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/webhooks", bytes.NewBuffer(body))
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Delete Is Scoped To Owner", func(t *testing.T) {
		db := setupTestDB(t)
		hook := models.UserWebhook{
			UserID: 2, TargetURL: "https://example.com/hooks", SigningSecret: "whsec_x",
			SubscribedEvents: models.EventInvoicePaid, IsActive: true, Status: models.WebhookStatusActive,
		}
		assert.NoError(t, db.Create(&hook).Error)

		router := newWebhookRouter(db, 1)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/webhooks/1", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)

		owner := newWebhookRouter(db, 2)
		w = httptest.NewRecorder()
		req, _ = http.NewRequest("DELETE", "/webhooks/1", nil)
		owner.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Manual Retry Maps Terminal States", func(t *testing.T) {
		db := setupTestDB(t)
		hook := models.UserWebhook{
			UserID: 1, TargetURL: "https://example.com/hooks", SigningSecret: "whsec_x",
			SubscribedEvents: models.EventInvoicePaid, IsActive: true, Status: models.WebhookStatusActive,
		}
		assert.NoError(t, db.Create(&hook).Error)
		assert.NoError(t, db.Create(&models.WebhookDelivery{
			PublicID: "pub-done", WebhookID: hook.ID, EventType: models.EventInvoicePaid,
			Payload: "{}", Status: models.DeliveryStatusDelivered,
		}).Error)

		router := newWebhookRouter(db, 1)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/webhooks/deliveries/pub-done/retry", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = httptest.NewRecorder()
		req, _ = http.NewRequest("POST", "/webhooks/deliveries/no-such/retry", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSavingsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(db *gorm.DB, userID uint) *gin.Engine {
		handler := NewSavingsHandler(db)
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set("userID", userID)
			c.Next()
		})
		router.GET("/savings-goals", handler.ListGoals)
		router.POST("/savings-goals", handler.CreateGoal)
		router.PUT("/savings-goals/:id", handler.UpdateGoal)
		return router
	}

	t.Run("Create Enforces Total Percentage Cap", func(t *testing.T) {
		db := setupTestDB(t)
		router := newRouter(db, 1)

		first, _ := json.Marshal(CreateSavingsGoalRequest{Title: "Taxes", TargetAmount: 5000, SavingsPercentage: 30, IsTaxVault: true})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/savings-goals", bytes.NewBuffer(first))
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)

		second, _ := json.Marshal(CreateSavingsGoalRequest{Title: "Laptop", TargetAmount: 2000, SavingsPercentage: 25})
		w = httptest.NewRecorder()
		req, _ = http.NewRequest("POST", "/savings-goals", bytes.NewBuffer(second))
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "percentage_limit_exceeded")

		within, _ := json.Marshal(CreateSavingsGoalRequest{Title: "Laptop", TargetAmount: 2000, SavingsPercentage: 20})
		w = httptest.NewRecorder()
		req, _ = http.NewRequest("POST", "/savings-goals", bytes.NewBuffer(within))
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("Update Revalidates Against Other Goals", func(t *testing.T) {
		db := setupTestDB(t)
		router := newRouter(db, 1)

		goalA := models.SavingsGoal{UserID: 1, Title: "A", TargetAmountUSDC: 100, SavingsPercentage: 30,
			IsActive: true, Status: models.SavingsStatusInProgress}
		goalB := models.SavingsGoal{UserID: 1, Title: "B", TargetAmountUSDC: 100, SavingsPercentage: 10,
			IsActive: true, Status: models.SavingsStatusInProgress}
		assert.NoError(t, db.Create(&goalA).Error)
		assert.NoError(t, db.Create(&goalB).Error)

		// Raising B to 20 fits (30+20); raising to 25 does not.
		raise := func(pct float64) *httptest.ResponseRecorder {
			p := pct
			body, _ := json.Marshal(UpdateSavingsGoalRequest{SavingsPercentage: &p})
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("PUT", "/savings-goals/2", bytes.NewBuffer(body))
			router.ServeHTTP(w, req)
			return w
		}
		assert.Equal(t, http.StatusOK, raise(20).Code)
		assert.Equal(t, http.StatusBadRequest, raise(25).Code)
	})

	t.Run("Summary Reports Remaining Headroom", func(t *testing.T) {
		db := setupTestDB(t)
		router := newRouter(db, 1)
		assert.NoError(t, db.Create(&models.SavingsGoal{UserID: 1, Title: "A", TargetAmountUSDC: 100,
			SavingsPercentage: 15, IsActive: true, Status: models.SavingsStatusInProgress}).Error)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/savings-goals", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"remaining_percentage":35`)
	})
}
